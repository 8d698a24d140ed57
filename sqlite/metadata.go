package sqlite

import (
	"context"
	"database/sql"
	"errors"

	migrate "github.com/octacian/schema-migrate"
)

// MetadataTable is the name of the key/value table kept beside the ledger.
const MetadataTable = migrate.MetadataTable

// Metadata is a migrate.Metadata stored in `"<schema>".internal_metadata`.
type Metadata struct {
	table string
}

var _ migrate.Metadata = (*Metadata)(nil)

// NewMetadata returns the metadata table stored in s.
func NewMetadata(s migrate.Schema) *Metadata {
	return &Metadata{table: s.Qualify(MetadataTable)}
}

// EnsureStorage creates the metadata table if absent.
func (m *Metadata) EnsureStorage(ctx context.Context, q migrate.Querier) error {
	const op = "sqlite.(*Metadata).EnsureStorage"
	_, err := q.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+m.table+` (
	key        TEXT PRIMARY KEY,
	value      TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`)
	if err != nil {
		return migrate.E(op, migrate.StorageInitFailed, err)
	}
	return nil
}

// Set upserts key.
func (m *Metadata) Set(ctx context.Context, q migrate.Querier, key, value string) error {
	const op = "sqlite.(*Metadata).Set"
	_, err := q.ExecContext(ctx, `INSERT INTO `+m.table+` (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`, key, value)
	if err != nil {
		return migrate.E(op, migrate.WriteFailed, err)
	}
	return nil
}

// Get returns the value of key.
func (m *Metadata) Get(ctx context.Context, q migrate.Querier, key string) (string, bool, error) {
	const op = "sqlite.(*Metadata).Get"
	var value sql.NullString
	err := q.QueryRowContext(ctx, `SELECT value FROM `+m.table+` WHERE key = ?`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, migrate.E(op, migrate.Other, err)
	}
	return value.String, true, nil
}
