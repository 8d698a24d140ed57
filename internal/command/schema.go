package command

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/mitchellh/cli"
	"github.com/octacian/schema-migrate/config"
	"github.com/octacian/schema-migrate/postgres"
	"github.com/octacian/schema-migrate/sqlite"
)

var (
	_ cli.Command = (*SchemaCreateCommand)(nil)
	_ cli.Command = (*SchemaDropCommand)(nil)
)

// SchemaCreateCommand creates the configured schema if it does not exist.
type SchemaCreateCommand struct {
	*Meta
}

func (c *SchemaCreateCommand) Synopsis() string {
	return "Create the configured schema"
}

func (c *SchemaCreateCommand) Help() string {
	return `Usage: schema-migrate schema create [options]

  Creates the schema named by schema_search_path unless it already exists.` + flagHelp(c.flagSet("schema create"))
}

func (c *SchemaCreateCommand) Run(args []string) int {
	if err := c.flagSet("schema create").Parse(args); err != nil {
		return c.fail(err)
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return c.fail(err)
	}
	return ensureSchema(c.Meta, cfg)
}

// SchemaDropCommand drops the configured schema and everything in it.
type SchemaDropCommand struct {
	*Meta
}

func (c *SchemaDropCommand) Synopsis() string {
	return "Drop the configured schema"
}

func (c *SchemaDropCommand) Help() string {
	return `Usage: schema-migrate schema drop [options]

  Drops the schema named by schema_search_path together with every table in
  it, including the migration ledger.` + flagHelp(c.flagSet("schema drop"))
}

func (c *SchemaDropCommand) Run(args []string) int {
	if err := c.flagSet("schema drop").Parse(args); err != nil {
		return c.fail(err)
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return c.fail(err)
	}
	s, err := c.schema(cfg)
	if err != nil {
		return c.fail(err)
	}

	switch cfg.Adapter {
	case config.Postgres:
		db, _, err := c.open(cfg)
		if err != nil {
			return c.fail(err)
		}
		defer db.Close()
		if err := postgres.DropSchema(c.ctx(), db, s.String()); err != nil {
			return c.fail(err)
		}
	case config.SQLite:
		if err := removeFile(sqlite.New(cfg.SchemaDir).SchemaPath(s)); err != nil {
			return c.fail(err)
		}
	}
	c.UI.Output(fmt.Sprintf("Dropped schema %s", color.CyanString(s.String())))
	return 0
}
