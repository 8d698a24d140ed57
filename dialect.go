package migrate

import (
	"context"
	"database/sql"
	"time"
)

// Tables every dialect keeps inside the target schema.
const (
	LedgerTable   = "schema_migrations"
	MetadataTable = "internal_metadata"
)

// Querier is the subset of *sql.DB, *sql.Conn and *sql.Tx used by this
// module. Session state such as the search path is only reliable on a
// *sql.Conn or a *sql.Tx begun from one.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Provisioner creates a schema and makes it the active namespace of a
// session.
type Provisioner interface {
	// EnsureSchema creates s if it does not exist and makes it the active
	// namespace of q for the rest of the session. It returns an Error of
	// kind CreateFailed when the database rejects either step.
	EnsureSchema(ctx context.Context, q Querier, s Schema) error
	// ResetSession undoes the session changes EnsureSchema made on q, so
	// that the connection can go back to its pool.
	ResetSession(ctx context.Context, q Querier, s Schema) error
}

// LedgerEntry records one applied migration.
type LedgerEntry struct {
	Version   int64
	AppliedAt time.Time
}

// Ledger is the durable record of applied migration versions. Its storage
// table always lives inside the schema it was created for.
type Ledger interface {
	// EnsureStorage creates the ledger table if absent. Failures are
	// reported with kind StorageInitFailed.
	EnsureStorage(ctx context.Context, q Querier) error
	// AppliedVersions returns every recorded entry ordered by version.
	AppliedVersions(ctx context.Context, q Querier) ([]LedgerEntry, error)
	// RecordApplied records version, failing with kind WriteFailed when it
	// is already recorded.
	RecordApplied(ctx context.Context, q Querier, version int64) error
	// RecordReverted removes version, failing with kind WriteFailed when it
	// is not recorded.
	RecordReverted(ctx context.Context, q Querier, version int64) error
}

// Metadata is a small key/value table living beside the ledger, recording
// facts about the environment which last migrated the schema.
type Metadata interface {
	EnsureStorage(ctx context.Context, q Querier) error
	Set(ctx context.Context, q Querier, key, value string) error
	// Get returns the value stored for key and whether it exists.
	Get(ctx context.Context, q Querier, key string) (string, bool, error)
}

// Locker serializes runs against the same schema.
type Locker interface {
	// Lock blocks until the lock for s is held or ctx is done. The returned
	// function releases the lock and must be called on the same session.
	Lock(ctx context.Context, q Querier, s Schema) (unlock func(context.Context) error, err error)
}

// Inspector reports where tables live.
type Inspector interface {
	// TableSchemas returns the name of every schema holding a table called
	// table, sorted.
	TableSchemas(ctx context.Context, q Querier, table string) ([]string, error)
	// Tables returns the names of the tables in schema, sorted. Tables the
	// engine maintains for itself are left out.
	Tables(ctx context.Context, q Querier, schema string) ([]string, error)
}

// Dialect bundles everything a Runner needs from a database engine.
type Dialect interface {
	Provisioner
	Locker
	Inspector

	// Name identifies the dialect, such as "postgres" or "sqlite".
	Name() string
	// DefaultSchema is the namespace unqualified objects fall back to. A
	// Runner refuses to target it.
	DefaultSchema() string
	// Ledger returns the ledger stored in s.
	Ledger(s Schema) Ledger
	// Metadata returns the metadata table stored in s.
	Metadata(s Schema) Metadata
	// Describe may decorate a driver error with engine specific detail.
	Describe(err error) error
}
