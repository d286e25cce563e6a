package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"openocpp/backend/services/ocpp-server/internal/bridge"
	"openocpp/backend/services/ocpp-server/internal/http/middleware"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// bridgeStatus maps a bridge failure to an HTTP status for the REST-style endpoints.
func bridgeStatus(err error) int {
	switch {
	case errors.Is(err, bridge.ErrNotConnected), errors.Is(err, bridge.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// operator names the authenticated admin behind r, if any.
func operator(r *http.Request) zap.Field {
	if name, ok := middleware.UsernameFromContext(r.Context()); ok {
		return zap.String("operator", name)
	}
	return zap.Skip()
}
