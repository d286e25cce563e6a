package ws

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"openocpp/backend/services/ocpp-server/internal/metrics"
)

// ErrSessionNotFound is returned by SendTo when the station has no live session.
var ErrSessionNotFound = errors.New("ws: station not connected")

// Session is one live duplex channel to a charge point.
type Session interface {
	StationID() string
	Send(frame []byte) error
	Close() error
}

// Pinger is implemented by sessions that support keepalive pings.
type Pinger interface {
	Ping() error
}

// SessionObserver is notified when a station's session goes away, either through Remove or
// because a newer session replaced it. Observers run under the manager lock and must not call
// back into the Manager.
type SessionObserver interface {
	SessionClosed(stationID string)
}

// ManagerConfig tunes the Manager.
type ManagerConfig struct {
	PingInterval      time.Duration
	HeartbeatInterval time.Duration
	// HeartbeatOverrides maps station id to a heartbeat interval replacing the default.
	HeartbeatOverrides map[string]time.Duration
}

// Manager tracks station connections. At most one session is registered per station id.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	intervals map[string]time.Duration
	observers []SessionObserver

	pingInterval      time.Duration
	heartbeatInterval time.Duration

	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

// NewManager builds connection manager.
func NewManager(cfg ManagerConfig, m *metrics.AppMetrics, logger *zap.Logger) *Manager {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 180 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	intervals := make(map[string]time.Duration, len(cfg.HeartbeatOverrides))
	for id, d := range cfg.HeartbeatOverrides {
		if d > 0 {
			intervals[id] = d
		}
	}
	return &Manager{
		sessions:          make(map[string]Session),
		intervals:         intervals,
		pingInterval:      cfg.PingInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		metrics:           m,
		logger:            logger,
	}
}

// Subscribe registers an observer for session removal.
func (m *Manager) Subscribe(observer SessionObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, observer)
}

// Add registers session, replacing and closing any previous session for the same station.
// The replaced session is returned.
func (m *Manager) Add(session Session) Session {
	id := session.StationID()

	m.mu.Lock()
	prev, ok := m.sessions[id]
	m.sessions[id] = session
	if ok && prev != session {
		m.notifyLocked(id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetOnline(count)

	if !ok || prev == session {
		return nil
	}
	m.metrics.Takeover()
	m.logger.Warn("session takeover, closing previous connection", zap.String("station_id", id))
	if err := prev.Close(); err != nil {
		m.logger.Debug("close replaced session", zap.String("station_id", id), zap.Error(err))
	}
	return prev
}

// Remove unregisters session. It is a no-op when session is no longer the registered one for
// its station, so a replaced connection cannot evict its successor. Reports whether it removed.
func (m *Manager) Remove(stationID string, session Session) bool {
	m.mu.Lock()
	current, ok := m.sessions[stationID]
	if !ok || current != session {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, stationID)
	m.notifyLocked(stationID)
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetOnline(count)
	m.logger.Info("session removed", zap.String("station_id", stationID))
	return true
}

func (m *Manager) notifyLocked(stationID string) {
	for _, o := range m.observers {
		o.SessionClosed(stationID)
	}
}

// Lookup returns the live session for stationID.
func (m *Manager) Lookup(stationID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[stationID]
	return s, ok
}

// IsOnline reports whether stationID has a live session.
func (m *Manager) IsOnline(stationID string) bool {
	_, ok := m.Lookup(stationID)
	return ok
}

// SendTo enqueues frame on the station's session.
func (m *Manager) SendTo(stationID string, frame []byte) error {
	s, ok := m.Lookup(stationID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Send(frame)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StationIDs returns the connected station ids, sorted.
func (m *Manager) StationIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// HeartbeatInterval returns the interval handed to stationID at boot.
func (m *Manager) HeartbeatInterval(stationID string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.intervals[stationID]; ok {
		return d
	}
	return m.heartbeatInterval
}

// SetHeartbeatInterval overrides the interval for stationID for the rest of the process lifetime.
func (m *Manager) SetHeartbeatInterval(stationID string, d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intervals[stationID] = d
}

// CloseAll closes every session. Each connection removes itself as it shuts down.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}

// Start begins ping loop to keep connections active.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			pingers := make([]Pinger, 0, len(m.sessions))
			for _, s := range m.sessions {
				if p, ok := s.(Pinger); ok {
					pingers = append(pingers, p)
				}
			}
			m.mu.RUnlock()
			for _, p := range pingers {
				_ = p.Ping()
			}
		}
	}
}
