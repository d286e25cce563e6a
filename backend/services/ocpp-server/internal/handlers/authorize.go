package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"openocpp/backend/services/ocpp-server/internal/ocpp"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
)

// NewAuthorizeHandler answers Accepted for valid, unexpired tags and Invalid otherwise. Every
// presented idTag is reported to observer first, so a pending card registration sees it.
func NewAuthorizeHandler(tags TagLookup, observer AuthorizeObserver, clock *Clock, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.AuthorizeRequest](payload)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.IdTag) == "" {
			return nil, ocpp.NewCallError(protocol.ErrorFormationViolation, "idTag is required")
		}

		if observer != nil {
			observer.ObserveAuthorize(stationID, req.IdTag)
		}

		invalid := protocol.AuthorizeResponse{IdTagInfo: protocol.IdTagInfo{Status: protocol.AuthorizationInvalid}}

		tag, ok, err := tags.IDTag(ctx, req.IdTag)
		if err != nil {
			logger.Error("failed to load id tag", zap.String("station_id", stationID), zap.Error(err))
			return invalid, nil
		}
		if !ok || !tag.Valid(clock.Now()) {
			logger.Info("authorize rejected", zap.String("station_id", stationID), zap.String("id_tag", req.IdTag))
			return invalid, nil
		}

		return protocol.AuthorizeResponse{
			IdTagInfo: protocol.IdTagInfo{
				Status:     protocol.AuthorizationAccepted,
				ExpiryDate: tag.ExpiryDate,
			},
		}, nil
	}
}
