package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	migrate "github.com/octacian/schema-migrate"
)

// CreateDatabase creates the database name. q must not be connected to it.
func CreateDatabase(ctx context.Context, q migrate.Querier, name string) error {
	const op = "postgres.CreateDatabase"
	if _, err := q.ExecContext(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return migrate.E(op, migrate.Other, err)
	}
	return nil
}

// DropDatabase drops the database name if it exists. q must not be
// connected to it.
func DropDatabase(ctx context.Context, q migrate.Querier, name string) error {
	const op = "postgres.DropDatabase"
	if _, err := q.ExecContext(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
		return migrate.E(op, migrate.Other, err)
	}
	return nil
}

// DropSchema drops the schema name, and everything in it, if it exists.
func DropSchema(ctx context.Context, q migrate.Querier, name string) error {
	const op = "postgres.DropSchema"
	if _, err := q.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{name}.Sanitize()+" CASCADE"); err != nil {
		return migrate.E(op, migrate.Other, err)
	}
	return nil
}
