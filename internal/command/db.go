package command

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/mitchellh/cli"
	migrate "github.com/octacian/schema-migrate"
	"github.com/octacian/schema-migrate/config"
	"github.com/octacian/schema-migrate/postgres"
	"github.com/octacian/schema-migrate/sqlite"
)

var (
	_ cli.Command = (*DBCreateCommand)(nil)
	_ cli.Command = (*DBDropCommand)(nil)
)

// DBCreateCommand creates the configured database and then its schema.
type DBCreateCommand struct {
	*Meta
}

func (c *DBCreateCommand) Synopsis() string {
	return "Create the configured database and schema"
}

func (c *DBCreateCommand) Help() string {
	return `Usage: schema-migrate db create [options]

  Creates the database of the selected environment, then the schema named
  by its schema_search_path. Creating the schema is safe to repeat.` + flagHelp(c.flagSet("db create"))
}

func (c *DBCreateCommand) Run(args []string) int {
	if err := c.flagSet("db create").Parse(args); err != nil {
		return c.fail(err)
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return c.fail(err)
	}
	ctx := c.ctx()

	switch cfg.Adapter {
	case config.Postgres:
		maint, name, err := postgres.OpenMaintenance(cfg.DSN())
		if err != nil {
			return c.fail(err)
		}
		defer maint.Close()
		if err := postgres.CreateDatabase(ctx, maint, name); err != nil {
			return c.fail(err)
		}
		c.UI.Output(fmt.Sprintf("Created database %s", color.CyanString(name)))
	case config.SQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DSN()), 0o755); err != nil {
			return c.fail(err)
		}
		c.UI.Output(fmt.Sprintf("Created database %s", color.CyanString(cfg.DSN())))
	}

	return ensureSchema(c.Meta, cfg)
}

// DBDropCommand drops the configured database.
type DBDropCommand struct {
	*Meta
}

func (c *DBDropCommand) Synopsis() string {
	return "Drop the configured database"
}

func (c *DBDropCommand) Help() string {
	return `Usage: schema-migrate db drop [options]

  Drops the database of the selected environment, along with every schema
  in it. Dropping a database which does not exist succeeds.` + flagHelp(c.flagSet("db drop"))
}

func (c *DBDropCommand) Run(args []string) int {
	if err := c.flagSet("db drop").Parse(args); err != nil {
		return c.fail(err)
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return c.fail(err)
	}

	switch cfg.Adapter {
	case config.Postgres:
		maint, name, err := postgres.OpenMaintenance(cfg.DSN())
		if err != nil {
			return c.fail(err)
		}
		defer maint.Close()
		if err := postgres.DropDatabase(c.ctx(), maint, name); err != nil {
			return c.fail(err)
		}
		c.UI.Output(fmt.Sprintf("Dropped database %s", color.CyanString(name)))
	case config.SQLite:
		s, err := c.schema(cfg)
		if err != nil {
			return c.fail(err)
		}
		for _, file := range []string{cfg.DSN(), sqlite.New(cfg.SchemaDir).SchemaPath(s)} {
			if err := removeFile(file); err != nil {
				return c.fail(err)
			}
		}
		c.UI.Output(fmt.Sprintf("Dropped database %s", color.CyanString(cfg.DSN())))
	}
	return 0
}

// ensureSchema provisions the configured schema on a single connection.
func ensureSchema(m *Meta, cfg *config.Database) int {
	ctx := m.ctx()
	db, d, err := m.open(cfg)
	if err != nil {
		return m.fail(err)
	}
	defer db.Close()

	s, err := m.schema(cfg)
	if err != nil {
		return m.fail(err)
	}
	if s.String() == d.DefaultSchema() {
		return m.fail(migrate.E("command.ensureSchema", migrate.InvalidSchema,
			fmt.Errorf("refusing to target the default namespace '%s'", s)))
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return m.fail(err)
	}
	defer conn.Close()
	if err := d.EnsureSchema(ctx, conn, s); err != nil {
		return m.fail(err)
	}
	m.UI.Output(fmt.Sprintf("Schema %s is ready", color.CyanString(s.String())))
	return 0
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
