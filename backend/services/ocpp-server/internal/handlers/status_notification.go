package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"openocpp/backend/services/ocpp-server/internal/ocpp"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
	"openocpp/backend/services/ocpp-server/internal/service"
)

// NewStatusNotificationHandler records connector status and acknowledges.
func NewStatusNotificationHandler(state *service.StationState, clock *Clock, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StatusNotificationRequest](payload)
		if err != nil {
			return nil, err
		}

		logger.Info("status notification",
			zap.String("station_id", stationID),
			zap.Int("connector_id", req.ConnectorID),
			zap.String("status", req.Status),
			zap.String("error_code", req.ErrorCode))

		if state != nil {
			state.UpdateConnector(stationID, req.ConnectorID, service.ConnectorState{
				Status:    req.Status,
				ErrorCode: req.ErrorCode,
				Info:      req.Info,
				UpdatedAt: clock.Now(),
			})
		}

		return protocol.StatusNotificationResponse{}, nil
	}
}
