// Package sqlite implements migrate.Dialect for SQLite through go-sqlite3.
//
// SQLite has no schemas in the Postgres sense. A schema is an attached
// database file named `<name>.db` inside the dialect's directory, addressed
// as `"<name>".<table>`. There is no search path either: unqualified DDL
// would land in the main database, which a Runner rejects, so migrations
// meant to run on SQLite qualify their tables with the {{schema}} token.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	migrate "github.com/octacian/schema-migrate"
)

// DefaultSchema is the name SQLite gives the main database.
const DefaultSchema = "main"

// Dialect is the SQLite migrate.Dialect. Its zero value is not usable; use
// New.
type Dialect struct {
	dir string

	mu    sync.Mutex
	locks map[migrate.Schema]chan struct{}
	// pinned holds the schemas Open attaches to every connection.
	pinned map[migrate.Schema]bool
}

var _ migrate.Dialect = (*Dialect)(nil)

// New returns a SQLite dialect keeping schema files in dir.
func New(dir string) *Dialect {
	return &Dialect{
		dir:    dir,
		locks:  make(map[migrate.Schema]chan struct{}),
		pinned: make(map[migrate.Schema]bool),
	}
}

// Name implements migrate.Dialect.
func (*Dialect) Name() string {
	return "sqlite"
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

// SchemaPath returns the file holding s.
func (d *Dialect) SchemaPath(s migrate.Schema) string {
	return filepath.Join(d.dir, s.String()+".db")
}

// EnsureSchema attaches the file holding s to the session unless it is
// already attached. SQLite creates the file on first attach.
func (d *Dialect) EnsureSchema(ctx context.Context, q migrate.Querier, s migrate.Schema) error {
	const op = "sqlite.(*Dialect).EnsureSchema"
	attached, err := databases(ctx, q)
	if err != nil {
		return migrate.E(op, migrate.CreateFailed, err)
	}
	for _, name := range attached {
		if name == s.String() {
			return nil
		}
	}

	if _, err := q.ExecContext(ctx, "ATTACH DATABASE ? AS "+s.Quote(), d.SchemaPath(s)); err != nil {
		return migrate.E(op, migrate.CreateFailed, err)
	}
	return nil
}

// ResetSession detaches s unless Open attaches it to every connection.
func (d *Dialect) ResetSession(ctx context.Context, q migrate.Querier, s migrate.Schema) error {
	const op = "sqlite.(*Dialect).ResetSession"
	d.mu.Lock()
	pinned := d.pinned[s]
	d.mu.Unlock()
	if pinned {
		return nil
	}

	attached, err := databases(ctx, q)
	if err != nil {
		return migrate.E(op, migrate.Other, err)
	}
	for _, name := range attached {
		if name != s.String() {
			continue
		}
		if _, err := q.ExecContext(ctx, "DETACH DATABASE "+s.Quote()); err != nil {
			return migrate.E(op, migrate.Other, err)
		}
	}
	return nil
}

// Lock serializes runs against s within this process. Concurrent processes
// are left to SQLite's own file locking.
func (d *Dialect) Lock(ctx context.Context, _ migrate.Querier, s migrate.Schema) (func(context.Context) error, error) {
	const op = "sqlite.(*Dialect).Lock"
	d.mu.Lock()
	ch, ok := d.locks[s]
	if !ok {
		ch = make(chan struct{}, 1)
		d.locks[s] = ch
	}
	d.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, migrate.E(op, migrate.LockFailed, ctx.Err())
	}

	var once sync.Once
	unlock := func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}
	return unlock, nil
}

// Tables implements migrate.Inspector. SQLite's internal tables are left
// out.
func (*Dialect) Tables(ctx context.Context, q migrate.Querier, schema string) ([]string, error) {
	const op = "sqlite.(*Dialect).Tables"
	query := fmt.Sprintf(`SELECT name FROM %s.sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite\_%%' ESCAPE '\' ORDER BY name`, migrate.Schema(schema).Quote())
	rows, err := q.QueryContext(ctx, query)
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

// TableSchemas implements migrate.Inspector by searching the sqlite_master
// table of every attached database.
func (*Dialect) TableSchemas(ctx context.Context, q migrate.Querier, table string) ([]string, error) {
	const op = "sqlite.(*Dialect).TableSchemas"
	attached, err := databases(ctx, q)
	if err != nil {
		return nil, migrate.E(op, migrate.Other, err)
	}

	schemas := []string{}
	for _, name := range attached {
		var n int
		query := fmt.Sprintf(`SELECT count(*) FROM %s.sqlite_master WHERE type = 'table' AND name = ?`,
			migrate.Schema(name).Quote())
		if err := q.QueryRowContext(ctx, query, table).Scan(&n); err != nil {
			return nil, migrate.E(op, migrate.Other, err)
		}
		if n > 0 {
			schemas = append(schemas, name)
		}
	}
	sort.Strings(schemas)
	return schemas, nil
}

// Describe adds the SQLite result codes to err when it carries a
// sqlite3.Error.
func (*Dialect) Describe(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	return fmt.Errorf("%w (sqlite code %d, extended code %d)", err, sqliteErr.Code, sqliteErr.ExtendedCode)
}

// Open returns a *sql.DB for the SQLite file at path. Every connection of the
// pool has the given schemas attached, so that code using the database
// outside of a Runner can address their tables.
func (d *Dialect) Open(path string, schemas ...migrate.Schema) (*sql.DB, error) {
	const op = "sqlite.(*Dialect).Open"
	if path == "" {
		return nil, migrate.E(op, migrate.Other, errors.New("got empty database path"))
	}

	attach := make(map[string]string, len(schemas))
	d.mu.Lock()
	for _, s := range schemas {
		attach[s.String()] = d.SchemaPath(s)
		d.pinned[s] = true
	}
	d.mu.Unlock()

	drv := &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for name, file := range attach {
				query := "ATTACH DATABASE ? AS " + migrate.Schema(name).Quote()
				if _, err := conn.Exec(query, []driver.Value{file}); err != nil {
					return fmt.Errorf("attach schema '%s': %w", name, err)
				}
			}
			return nil
		},
	}
	return sql.OpenDB(&connector{driver: drv, dsn: fileDSN(path)}), nil
}

// fileDSN returns the URI filename for path. Every segment is escaped so that
// characters such as '?' and '#' stay part of the path.
func fileDSN(path string) string {
	segments := strings.Split(filepath.ToSlash(path), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return "file:" + strings.Join(segments, "/") + "?_busy_timeout=5000"
}

// connector lets Open use a configured driver without registering it
// globally.
type connector struct {
	driver *sqlite3.SQLiteDriver
	dsn    string
}

func (c *connector) Connect(context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c *connector) Driver() driver.Driver {
	return c.driver
}

// databases lists the names of the databases attached to the session.
func databases(ctx context.Context, q migrate.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_database_list`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
