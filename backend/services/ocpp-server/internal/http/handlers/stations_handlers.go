package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"openocpp/backend/libs/registry"
	"openocpp/backend/services/ocpp-server/internal/bridge"
	"openocpp/backend/services/ocpp-server/internal/models"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
	"openocpp/backend/services/ocpp-server/internal/service"
)

// ChargePointLister lists registered charge points.
type ChargePointLister interface {
	ChargePoints(ctx context.Context) (map[string]registry.ChargePointRecord, error)
}

// StationsHandlers serves the station endpoints.
type StationsHandlers struct {
	chargePoints ChargePointLister
	sessions     Sessions
	state        *service.StationState
	bridge       Bridge
	logger       *zap.Logger
}

// NewStationsHandlers ctor.
func NewStationsHandlers(chargePoints ChargePointLister, sessions Sessions, state *service.StationState, b Bridge, logger *zap.Logger) *StationsHandlers {
	return &StationsHandlers{chargePoints: chargePoints, sessions: sessions, state: state, bridge: b, logger: logger}
}

// List handles GET /stations.
func (h *StationsHandlers) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.chargePoints.ChargePoints(r.Context())
	if err != nil {
		h.logger.Error("list charge points failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load charge points")
		return
	}

	stations := make([]models.Station, 0, len(records))
	for id, rec := range records {
		st := models.Station{
			ID:                id,
			Vendor:            rec.Vendor,
			Model:             rec.Model,
			Connected:         h.sessions.IsOnline(id),
			Busy:              h.bridge.Pending(id),
			HeartbeatInterval: int(h.sessions.HeartbeatInterval(id) / time.Second),
		}
		if h.state != nil {
			if runtime, ok := h.state.Get(id); ok {
				st.Runtime = &runtime
			}
		}
		stations = append(stations, st)
	}
	sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })

	writeJSON(w, http.StatusOK, stations)
}

// SetHeartbeat handles PUT /stations/{stationID}/heartbeat. The station is asked to change its
// HeartbeatInterval; the new value is kept for later boots only when the station accepts.
func (h *StationsHandlers) SetHeartbeat(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")

	var req struct {
		Interval int `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Interval <= 0 {
		writeError(w, http.StatusBadRequest, "interval must be a positive number of seconds")
		return
	}

	value, err := h.bridge.Call(r.Context(), stationID, protocol.ActionChangeConfiguration, protocol.ChangeConfigurationRequest{
		Key:   protocol.ConfigKeyHeartbeatInterval,
		Value: strconv.Itoa(req.Interval),
	}, bridge.AwaitCallResult)
	if err != nil {
		h.logger.Warn("change heartbeat failed", zap.String("station_id", stationID), operator(r), zap.Error(err))
		writeError(w, bridgeStatus(err), err.Error())
		return
	}

	var resp protocol.ChangeConfigurationResponse
	if err := json.Unmarshal(value, &resp); err != nil {
		writeError(w, http.StatusBadGateway, "unexpected reply from charger")
		return
	}
	if resp.Status == protocol.StatusAccepted {
		h.sessions.SetHeartbeatInterval(stationID, time.Duration(req.Interval)*time.Second)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   resp.Status,
		"interval": int(h.sessions.HeartbeatInterval(stationID) / time.Second),
	})
}
