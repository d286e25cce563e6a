package handlers

import (
	"context"
	"encoding/json"
	"time"

	"openocpp/backend/services/ocpp-server/internal/bridge"
)

// Bridge issues correlated calls to connected stations.
type Bridge interface {
	VendorCommand(ctx context.Context, stationID, messageID string, data json.RawMessage, await bridge.Await) (json.RawMessage, error)
	Call(ctx context.Context, stationID, action string, payload interface{}, await bridge.Await) (json.RawMessage, error)
	Pending(stationID string) bool
}

// Sessions exposes live session state.
type Sessions interface {
	IsOnline(stationID string) bool
	HeartbeatInterval(stationID string) time.Duration
	SetHeartbeatInterval(stationID string, d time.Duration)
}
