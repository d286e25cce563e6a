package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"openocpp/backend/services/ocpp-server/internal/ocpp"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
)

// inboundDataTransfer tolerates stations that send data as a JSON value rather than a string.
type inboundDataTransfer struct {
	VendorID  string          `json:"vendorId"`
	MessageID string          `json:"messageId"`
	Data      json.RawMessage `json:"data"`
}

// NewDataTransferHandler accepts any vendor data and logs it.
func NewDataTransferHandler(logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[inboundDataTransfer](payload)
		if err != nil {
			return nil, err
		}
		logger.Info("data transfer",
			zap.String("station_id", stationID),
			zap.String("vendor_id", req.VendorID),
			zap.String("message_id", req.MessageID),
			zap.ByteString("data", req.Data))
		return protocol.DataTransferResponse{Status: protocol.StatusAccepted}, nil
	}
}
