// Package postgres implements migrate.Dialect for PostgreSQL through pgx.
//
// Schemas are created with CREATE SCHEMA IF NOT EXISTS and activated with
// SET search_path on the run's connection, so unqualified DDL inside
// migrations resolves to the target schema. The ledger and metadata tables
// are always addressed fully qualified.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/octacian/schema-migrate"
)

// DefaultSchema is the namespace Postgres falls back to.
const DefaultSchema = "public"

// uniqueViolation is the SQLSTATE reported for unique constraint violations.
const uniqueViolation = "23505"

// Dialect is the Postgres migrate.Dialect.
type Dialect struct{}

var _ migrate.Dialect = (*Dialect)(nil)

// New returns a Postgres dialect.
func New() *Dialect {
	return &Dialect{}
}

// Name implements migrate.Dialect.
func (*Dialect) Name() string {
	return "postgres"
}

// DefaultSchema implements migrate.Dialect.
func (*Dialect) DefaultSchema() string {
	return DefaultSchema
}

// Ledger implements migrate.Dialect.
func (*Dialect) Ledger(s migrate.Schema) migrate.Ledger {
	return NewLedger(s)
}

// Metadata implements migrate.Dialect.
func (*Dialect) Metadata(s migrate.Schema) migrate.Metadata {
	return NewMetadata(s)
}

// EnsureSchema creates s if absent and sets it as the only entry of the
// session's search path.
func (*Dialect) EnsureSchema(ctx context.Context, q migrate.Querier, s migrate.Schema) error {
	const op = "postgres.(*Dialect).EnsureSchema"
	ident := pgx.Identifier{s.String()}.Sanitize()

	if _, err := q.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+ident); err != nil {
		return migrate.E(op, migrate.CreateFailed, err)
	}
	if _, err := q.ExecContext(ctx, "SET search_path TO "+ident); err != nil {
		return migrate.E(op, migrate.CreateFailed, fmt.Errorf("set search_path: %w", err))
	}
	return nil
}

// ResetSession restores the search path EnsureSchema replaced.
func (*Dialect) ResetSession(ctx context.Context, q migrate.Querier, _ migrate.Schema) error {
	const op = "postgres.(*Dialect).ResetSession"
	if _, err := q.ExecContext(ctx, "RESET search_path"); err != nil {
		return migrate.E(op, migrate.Other, err)
	}
	return nil
}

// Tables implements migrate.Inspector through information_schema.
func (*Dialect) Tables(ctx context.Context, q migrate.Querier, schema string) ([]string, error) {
	const op = "postgres.(*Dialect).Tables"
	rows, err := q.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name`, schema)
	if err != nil {
		return nil, migrate.E(op, migrate.Other, err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, migrate.E(op, migrate.Other, err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, migrate.E(op, migrate.Other, err)
	}
	return tables, nil
}

// TableSchemas implements migrate.Inspector through information_schema.
func (*Dialect) TableSchemas(ctx context.Context, q migrate.Querier, table string) ([]string, error) {
	const op = "postgres.(*Dialect).TableSchemas"
	rows, err := q.QueryContext(ctx,
		`SELECT table_schema FROM information_schema.tables WHERE table_name = $1 ORDER BY table_schema`, table)
	if err != nil {
		return nil, migrate.E(op, migrate.Other, err)
	}
	defer rows.Close()

	schemas := []string{}
	for rows.Next() {
		var schema string
		if err := rows.Scan(&schema); err != nil {
			return nil, migrate.E(op, migrate.Other, err)
		}
		schemas = append(schemas, schema)
	}
	if err := rows.Err(); err != nil {
		return nil, migrate.E(op, migrate.Other, err)
	}
	return schemas, nil
}

// Describe adds the SQLSTATE, detail and position of a failed statement to
// err when it carries a *pgconn.PgError.
func (*Dialect) Describe(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	message := fmt.Sprintf("sqlstate %s", pgErr.Code)
	var stmtErr *migrate.StatementError
	if pgErr.Position != 0 && errors.As(err, &stmtErr) {
		if line, col, ok := computeLineFromPos(stmtErr.Statement, int(pgErr.Position)); ok {
			message = fmt.Sprintf("%s, line %d, column %d", message, line, col)
		}
	}
	if pgErr.Detail != "" {
		message = fmt.Sprintf("%s, %s", message, pgErr.Detail)
	}
	return fmt.Errorf("%w (%s)", err, message)
}

// computeLineFromPos maps a 1-based character position reported by Postgres
// to a 1-based line and column of s.
func computeLineFromPos(s string, pos int) (line uint, col uint, ok bool) {
	runes := []rune(s)
	if pos < 1 || pos > len(runes) {
		return 0, 0, false
	}
	line, col = 1, 1
	for _, r := range runes[:pos-1] {
		if r == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col, true
}

// Open returns a *sql.DB for the pgx connection string dsn.
func Open(dsn string) (*sql.DB, error) {
	const op = "postgres.Open"
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, migrate.E(op, migrate.Other, err)
	}
	return stdlib.OpenDB(*cfg), nil
}

// OpenMaintenance returns a *sql.DB connected to the maintenance database
// ("postgres") of the server dsn points at, along with the database name dsn
// targets. It is used to create and drop that database.
func OpenMaintenance(dsn string) (*sql.DB, string, error) {
	const op = "postgres.OpenMaintenance"
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, "", migrate.E(op, migrate.Other, err)
	}
	target := cfg.Database
	cfg.Database = "postgres"
	return stdlib.OpenDB(*cfg), target, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
