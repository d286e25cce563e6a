package handlers

import (
	"context"
	"time"

	"openocpp/backend/libs/registry"
)

// ChargePointLookup resolves registered charge points.
type ChargePointLookup interface {
	ChargePoint(ctx context.Context, id string) (registry.ChargePointRecord, bool, error)
}

// TagLookup resolves registered id tags.
type TagLookup interface {
	IDTag(ctx context.Context, tag string) (registry.IDTag, bool, error)
}

// IntervalSource returns the heartbeat interval negotiated for a session.
type IntervalSource interface {
	HeartbeatInterval(stationID string) time.Duration
}

// AuthorizeObserver is told about every Authorize idTag a station presents.
type AuthorizeObserver interface {
	ObserveAuthorize(stationID, idTag string)
}
