package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"openocpp/backend/services/ocpp-server/internal/ocpp"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
	"openocpp/backend/services/ocpp-server/internal/service"
)

// Boot rejection descriptions sent to the station.
const (
	bootNotRegistered = "Charger ID not registered"
	bootMismatch      = "Charger details are not identical"
)

// NewBootNotificationHandler accepts registered stations whose vendor and model match the record.
func NewBootNotificationHandler(chargePoints ChargePointLookup, intervals IntervalSource, state *service.StationState, clock *Clock, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.BootNotificationRequest](payload)
		if err != nil {
			return nil, err
		}

		record, ok, err := chargePoints.ChargePoint(ctx, stationID)
		if err != nil {
			logger.Error("failed to load charge point", zap.String("station_id", stationID), zap.Error(err))
			return nil, err
		}
		if !ok {
			logger.Warn("boot from unregistered charge point", zap.String("station_id", stationID))
			return nil, ocpp.NewCallError(protocol.ErrorSecurityError, bootNotRegistered)
		}
		if !record.Matches(req.ChargePointVendor, req.ChargePointModel) {
			logger.Warn("boot details mismatch",
				zap.String("station_id", stationID),
				zap.String("vendor", req.ChargePointVendor),
				zap.String("model", req.ChargePointModel))
			return nil, ocpp.NewCallError(protocol.ErrorSecurityError, bootMismatch)
		}

		now := clock.Now()
		if state != nil {
			state.RecordBoot(stationID, req.FirmwareVersion, now)
		}
		interval := intervals.HeartbeatInterval(stationID)
		logger.Info("charge point booted", zap.String("station_id", stationID), zap.Duration("interval", interval))

		return protocol.BootNotificationResponse{
			CurrentTime: now,
			Interval:    int(interval / time.Second),
			Status:      protocol.RegistrationAccepted,
		}, nil
	}
}
