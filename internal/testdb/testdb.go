// Package testdb provides databases for tests: temporary SQLite files, and
// Postgres servers started in Docker through dockertest.
package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	migrate "github.com/octacian/schema-migrate"
	"github.com/octacian/schema-migrate/postgres"
	"github.com/octacian/schema-migrate/sqlite"
	"github.com/ory/dockertest/v3"
)

// URLEnv names the environment variable which, when set, points tests at an
// existing Postgres server instead of starting one in Docker. Its value must
// be a postgres:// URL.
const URLEnv = "SCHEMA_MIGRATE_TESTING_PG_URL"

// Postgres image started when URLEnv is not set.
const (
	Image = "postgres"
	Tag   = "16-alpine"
)

var (
	mx      sync.Mutex
	counter int
)

// SQLite returns a SQLite dialect keeping its files in a temporary directory
// together with the path to use for the main database.
func SQLite(t testing.TB) (*sqlite.Dialect, string) {
	t.Helper()
	dir := t.TempDir()
	return sqlite.New(dir), filepath.Join(dir, "main.db")
}

// OpenSQLite opens the main database returned by SQLite with schemas
// attached, and closes it when the test ends.
func OpenSQLite(t testing.TB, schemas ...string) (*sql.DB, *sqlite.Dialect) {
	t.Helper()
	d, path := SQLite(t)
	db, err := d.Open(path, parseSchemas(t, schemas)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, d
}

func parseSchemas(t testing.TB, names []string) []migrate.Schema {
	t.Helper()
	schemas := make([]migrate.Schema, 0, len(names))
	for _, name := range names {
		s, err := migrate.ParseSchema(name)
		if err != nil {
			t.Fatal(err)
		}
		schemas = append(schemas, s)
	}
	return schemas
}

// StartPostgres returns the URL of a running Postgres server. When URLEnv is
// unset a container is started, which cleanup purges.
func StartPostgres() (cleanup func() error, serverURL string, err error) {
	noop := func() error { return nil }
	if u := os.Getenv(URLEnv); u != "" {
		return noop, u, nil
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		return noop, "", fmt.Errorf("could not connect to docker: %w", err)
	}
	if err := pool.Client.Ping(); err != nil {
		return noop, "", fmt.Errorf("could not connect to docker: %w", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: Image,
		Tag:        Tag,
		Env:        []string{"POSTGRES_PASSWORD=password", "POSTGRES_DB=schema_migrate"},
		Cmd:        []string{"-c", "jit=off"},
	})
	if err != nil {
		return noop, "", fmt.Errorf("could not start resource: %w", err)
	}

	cleanup = func() error {
		return cleanupDockerResource(pool, resource)
	}
	serverURL = fmt.Sprintf("postgres://postgres:password@%s/schema_migrate?sslmode=disable",
		resource.GetHostPort("5432/tcp"))

	if err := pool.Retry(func() error {
		db, err := postgres.Open(serverURL)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Ping()
	}); err != nil {
		return cleanup, "", fmt.Errorf("could not ping postgres on startup: %w", err)
	}
	return cleanup, serverURL, nil
}

// Postgres returns the URL of a freshly created, empty database which is
// dropped when the test ends. The test is skipped when neither URLEnv nor
// Docker is available.
func Postgres(t testing.TB) string {
	t.Helper()
	cleanup, serverURL, err := StartPostgres()
	if err != nil {
		_ = cleanup()
		t.Skipf("postgres unavailable: %s", err)
	}
	t.Cleanup(func() {
		if err := cleanup(); err != nil {
			t.Error(err)
		}
	})

	mx.Lock()
	counter++
	name := fmt.Sprintf("test_%d_%d", os.Getpid(), counter)
	mx.Unlock()

	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("%s must be a URL: %s", URLEnv, err)
	}
	u.Path = "/" + name
	target := u.String()

	ctx := context.Background()
	withMaintenance(t, target, func(maint *sql.DB) error {
		return postgres.CreateDatabase(ctx, maint, name)
	})
	// registered after the server cleanup so that it runs first
	t.Cleanup(func() {
		withMaintenance(t, target, func(maint *sql.DB) error {
			return postgres.DropDatabase(context.Background(), maint, name)
		})
	})
	return target
}

// OpenPostgres opens a database returned by Postgres and closes it when the
// test ends.
func OpenPostgres(t testing.TB) (*sql.DB, string) {
	t.Helper()
	target := Postgres(t)
	db, err := postgres.Open(target)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, target
}

func withMaintenance(t testing.TB, target string, fn func(*sql.DB) error) {
	t.Helper()
	maint, _, err := postgres.OpenMaintenance(target)
	if err != nil {
		t.Fatal(err)
	}
	defer maint.Close()
	if err := fn(maint); err != nil {
		t.Error(err)
	}
}

// cleanupDockerResource purges the container, retrying a few times.
func cleanupDockerResource(pool *dockertest.Pool, resource *dockertest.Resource) error {
	var err error
	for i := 0; i < 10; i++ {
		err = pool.Purge(resource)
		if err == nil {
			return nil
		}
	}
	if strings.Contains(err.Error(), "No such container") {
		return nil
	}
	return fmt.Errorf("failed to cleanup local container: %s", err)
}
