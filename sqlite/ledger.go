package sqlite

import (
	"context"
	"fmt"

	migrate "github.com/octacian/schema-migrate"
)

// LedgerTable is the name of the table recording applied versions.
const LedgerTable = migrate.LedgerTable

// Ledger is a migrate.Ledger stored in `"<schema>".schema_migrations`.
type Ledger struct {
	table string
}

var _ migrate.Ledger = (*Ledger)(nil)

// NewLedger returns the ledger stored in s.
func NewLedger(s migrate.Schema) *Ledger {
	return &Ledger{table: s.Qualify(LedgerTable)}
}

// EnsureStorage creates the ledger table if absent.
func (l *Ledger) EnsureStorage(ctx context.Context, q migrate.Querier) error {
	const op = "sqlite.(*Ledger).EnsureStorage"
	_, err := q.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+l.table+` (
	version    INTEGER PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`)
	if err != nil {
		return migrate.E(op, migrate.StorageInitFailed, err)
	}
	return nil
}

// AppliedVersions returns every recorded entry ordered by version.
func (l *Ledger) AppliedVersions(ctx context.Context, q migrate.Querier) ([]migrate.LedgerEntry, error) {
	const op = "sqlite.(*Ledger).AppliedVersions"
	rows, err := q.QueryContext(ctx, `SELECT version, applied_at FROM `+l.table+` ORDER BY version`)
	if err != nil {
		return nil, migrate.E(op, migrate.Other, err)
	}
	defer rows.Close()

	var entries []migrate.LedgerEntry
	for rows.Next() {
		var e migrate.LedgerEntry
		if err := rows.Scan(&e.Version, &e.AppliedAt); err != nil {
			return nil, migrate.E(op, migrate.Other, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, migrate.E(op, migrate.Other, err)
	}
	return entries, nil
}

// RecordApplied inserts version.
func (l *Ledger) RecordApplied(ctx context.Context, q migrate.Querier, version int64) error {
	const op = "sqlite.(*Ledger).RecordApplied"
	if _, err := q.ExecContext(ctx, `INSERT INTO `+l.table+` (version) VALUES (?)`, version); err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("%w: %w", migrate.ErrAlreadyRecorded, err)
		}
		return &migrate.Error{Kind: migrate.WriteFailed, Op: op, Version: version, Err: err}
	}
	return nil
}

// RecordReverted deletes version.
func (l *Ledger) RecordReverted(ctx context.Context, q migrate.Querier, version int64) error {
	const op = "sqlite.(*Ledger).RecordReverted"
	res, err := q.ExecContext(ctx, `DELETE FROM `+l.table+` WHERE version = ?`, version)
	if err != nil {
		return &migrate.Error{Kind: migrate.WriteFailed, Op: op, Version: version, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &migrate.Error{Kind: migrate.WriteFailed, Op: op, Version: version, Err: err}
	}
	if n == 0 {
		return &migrate.Error{Kind: migrate.WriteFailed, Op: op, Version: version, Err: migrate.ErrNotRecorded}
	}
	return nil
}
