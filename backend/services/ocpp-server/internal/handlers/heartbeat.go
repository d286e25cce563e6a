package handlers

import (
	"context"
	"encoding/json"

	"openocpp/backend/services/ocpp-server/internal/ocpp"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
	"openocpp/backend/services/ocpp-server/internal/service"
)

// NewHeartbeatHandler returns ack with current time.
func NewHeartbeatHandler(state *service.StationState, clock *Clock) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		now := clock.Now()
		if state != nil {
			state.Touch(stationID, now)
		}
		return protocol.HeartbeatResponse{CurrentTime: now}, nil
	}
}
