package service

import (
	"sync"
	"time"
)

// ConnectorState is the last StatusNotification seen for a connector.
type ConnectorState struct {
	Status    string    `json:"status"`
	ErrorCode string    `json:"errorCode,omitempty"`
	Info      string    `json:"info,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StationRuntimeState keeps runtime info per station. It is not persisted.
type StationRuntimeState struct {
	FirmwareVersion string                 `json:"firmwareVersion,omitempty"`
	BootedAt        time.Time              `json:"bootedAt,omitempty"`
	LastSeen        time.Time              `json:"lastSeen,omitempty"`
	Connectors      map[int]ConnectorState `json:"connectors,omitempty"`
}

// StationState keeps track of in-memory station data for quick lookups.
type StationState struct {
	mu       sync.RWMutex
	stations map[string]*StationRuntimeState
}

// NewStationState returns state store.
func NewStationState() *StationState {
	return &StationState{
		stations: make(map[string]*StationRuntimeState),
	}
}

func (s *StationState) entry(stationID string) *StationRuntimeState {
	state, ok := s.stations[stationID]
	if !ok {
		state = &StationRuntimeState{Connectors: make(map[int]ConnectorState)}
		s.stations[stationID] = state
	}
	return state
}

// RecordBoot stores an accepted BootNotification.
func (s *StationState) RecordBoot(stationID, firmware string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.entry(stationID)
	state.FirmwareVersion = firmware
	state.BootedAt = at
	state.LastSeen = at
}

// Touch records activity from the station.
func (s *StationState) Touch(stationID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(stationID).LastSeen = at
}

// UpdateConnector updates connector-level status. Connector 0 is the charge point itself.
func (s *StationState) UpdateConnector(stationID string, connectorID int, conn ConnectorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.entry(stationID)
	state.Connectors[connectorID] = conn
	if conn.UpdatedAt.After(state.LastSeen) {
		state.LastSeen = conn.UpdatedAt
	}
}

// Get returns a copy of one station's state.
func (s *StationState) Get(stationID string) (StationRuntimeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[stationID]
	if !ok {
		return StationRuntimeState{}, false
	}
	return st.clone(), true
}

// Snapshot returns a copy of current state map.
func (s *StationState) Snapshot() map[string]StationRuntimeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]StationRuntimeState, len(s.stations))
	for id, st := range s.stations {
		result[id] = st.clone()
	}
	return result
}

func (st *StationRuntimeState) clone() StationRuntimeState {
	out := *st
	out.Connectors = make(map[int]ConnectorState, len(st.Connectors))
	for cid, conn := range st.Connectors {
		out.Connectors[cid] = conn
	}
	return out
}
