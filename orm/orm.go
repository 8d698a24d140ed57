// Package orm bridges migrate schemas and GORM. Handles returned by Open
// prefix every table name with the schema, so models address the tables a
// Runner created without naming the schema themselves.
package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	migrate "github.com/octacian/schema-migrate"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Option configures Open.
type Option func(*options)

type options struct {
	logger hclog.Logger
}

// WithLogger routes GORM's warnings and errors to l.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Dialector returns the GORM dialector for d using the existing connection
// pool, connection, or transaction conn.
func Dialector(d migrate.Dialect, conn gorm.ConnPool) (gorm.Dialector, error) {
	const op = "orm.Dialector"
	switch d.Name() {
	case "postgres":
		return postgres.New(postgres.Config{Conn: conn}), nil
	case "sqlite":
		return &sqlite.Dialector{Conn: conn}, nil
	default:
		return nil, migrate.E(op, migrate.Other, fmt.Errorf("unsupported dialect '%s'", d.Name()))
	}
}

// Open returns a *gorm.DB on conn whose tables all live in s.
func Open(d migrate.Dialect, conn gorm.ConnPool, s migrate.Schema, opt ...Option) (*gorm.DB, error) {
	const op = "orm.Open"
	if conn == nil {
		return nil, migrate.E(op, migrate.Other, errors.New("got nil connection"))
	}
	dialector, err := Dialector(d, conn)
	if err != nil {
		return nil, err
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}

	gormLogger := logger.Discard
	if opts.logger != nil {
		gormLogger = logger.New(&gormWriter{l: opts.logger.Named("gorm")}, logger.Config{
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		})
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		NamingStrategy:         schema.NamingStrategy{TablePrefix: s.String() + "."},
		SkipDefaultTransaction: true,
		Logger:                 gormLogger,
	})
	if err != nil {
		return nil, migrate.E(op, migrate.Other, err)
	}
	return db, nil
}

// Action returns a migrate.Action running fn with a GORM handle bound to the
// migration's connection or transaction and scoped to its schema.
func Action(d migrate.Dialect, fn func(tx *gorm.DB) error, opt ...Option) migrate.Action {
	return func(ctx context.Context, q migrate.Querier, s migrate.Schema) error {
		const op = "orm.Action"
		conn, ok := q.(gorm.ConnPool)
		if !ok {
			return migrate.E(op, migrate.Other, fmt.Errorf("querier %T cannot back a gorm handle", q))
		}
		db, err := Open(d, conn, s, opt...)
		if err != nil {
			return err
		}
		return fn(db.WithContext(ctx))
	}
}

// gormWriter adapts an hclog.Logger to GORM's logger.Writer.
type gormWriter struct {
	l hclog.Logger
}

func (w *gormWriter) Printf(format string, args ...any) {
	w.l.Warn(fmt.Sprintf(format, args...))
}
