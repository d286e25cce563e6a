package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// PostgresStore keeps the document as a single JSONB row.
type PostgresStore struct {
	db     *sql.DB
	name   string
	logger *zap.Logger
}

// NewPostgresStore returns a store for the named document.
func NewPostgresStore(db *sql.DB, name string, logger *zap.Logger) *PostgresStore {
	if name == "" {
		name = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, name: name, logger: logger}
}

// EnsureSchema creates the backing table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS registry_documents (
			name       TEXT PRIMARY KEY,
			body       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("registry: ensure schema: %w", err)
	}
	return nil
}

// Load reads the document row.
func (s *PostgresStore) Load(ctx context.Context) (*Document, error) {
	const query = `SELECT body FROM registry_documents WHERE name = $1`

	var body []byte
	err := s.db.QueryRowContext(ctx, query, s.name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: load document: %w", err)
	}
	return decodeDocument(body, s.logger), nil
}

// Save upserts the document row.
func (s *PostgresStore) Save(ctx context.Context, doc *Document) error {
	const query = `
		INSERT INTO registry_documents (name, body, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = NOW()
	`
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, s.name, data); err != nil {
		return fmt.Errorf("registry: save document: %w", err)
	}
	return nil
}
