package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OCPPLogRepository journals raw OCPP frames per station.
type OCPPLogRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOCPPLogRepository ctor.
func NewOCPPLogRepository(db *sql.DB) *OCPPLogRepository {
	return &OCPPLogRepository{db: db, now: time.Now}
}

// EnsureSchema creates the journal table when missing.
func (r *OCPPLogRepository) EnsureSchema(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS ocpp_messages (
			id           BIGSERIAL PRIMARY KEY,
			station_id   TEXT NOT NULL,
			direction    TEXT NOT NULL,
			message_type TEXT NOT NULL,
			payload      JSONB NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS ocpp_messages_station_idx ON ocpp_messages (station_id, created_at DESC)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("journal: ensure schema: %w", err)
	}
	return nil
}

// Save stores one frame. direction is "incoming" or "outgoing".
func (r *OCPPLogRepository) Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error {
	const query = `
		INSERT INTO ocpp_messages (station_id, direction, message_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, stationID, direction, messageType, string(payload), r.now().UTC())
	if err != nil {
		return fmt.Errorf("journal: save: %w", err)
	}
	return nil
}
