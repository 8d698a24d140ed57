package command

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/mitchellh/cli"
	migrate "github.com/octacian/schema-migrate"
)

var (
	_ cli.Command = (*MigrateCommand)(nil)
	_ cli.Command = (*RollbackCommand)(nil)
	_ cli.Command = (*StatusCommand)(nil)
)

// MigrateCommand applies every pending migration.
type MigrateCommand struct {
	*Meta
}

func (c *MigrateCommand) Synopsis() string {
	return "Apply pending migrations"
}

func (c *MigrateCommand) Help() string {
	return `Usage: schema-migrate migrate [options]

  Creates the configured schema and its migration ledger if needed, then
  applies every migration found in migrations_path which the ledger does not
  record, oldest first. The run stops at the first failing migration.` + flagHelp(c.flagSet("migrate"))
}

func (c *MigrateCommand) Run(args []string) int {
	if err := c.flagSet("migrate").Parse(args); err != nil {
		return c.fail(err)
	}
	r, migrations, done, err := c.runner()
	if err != nil {
		return c.fail(err)
	}
	defer done()

	applied, err := r.Run(c.ctx(), migrations)
	names := migrationNames(migrations)
	for _, v := range applied {
		c.UI.Output(fmt.Sprintf("%s %d %s", color.GreenString("applied"), v, names[v]))
	}
	if err != nil {
		if version := failedVersion(err); version != 0 {
			c.UI.Error(fmt.Sprintf("%s %d %s", color.RedString("failed"), version, names[version]))
		}
		return c.fail(err)
	}
	if len(applied) == 0 {
		c.UI.Output(fmt.Sprintf("Schema %s is up to date", color.CyanString(r.Schema().String())))
	}
	return 0
}

// RollbackCommand reverts the newest applied migrations.
type RollbackCommand struct {
	*Meta

	flagSteps int
}

func (c *RollbackCommand) Synopsis() string {
	return "Revert the newest applied migrations"
}

func (c *RollbackCommand) flags() *flag.FlagSet {
	f := c.flagSet("rollback")
	f.IntVar(&c.flagSteps, "steps", 1, "Number of migrations to revert.")
	return f
}

func (c *RollbackCommand) Help() string {
	return `Usage: schema-migrate rollback [options]

  Reverts the newest applied migrations using their down SQL, newest first.
  Nothing is reverted if any targeted migration has no down SQL.` + flagHelp(c.flags())
}

func (c *RollbackCommand) Run(args []string) int {
	if err := c.flags().Parse(args); err != nil {
		return c.fail(err)
	}
	r, migrations, done, err := c.runner()
	if err != nil {
		return c.fail(err)
	}
	defer done()

	reverted, err := r.Rollback(c.ctx(), migrations, c.flagSteps)
	names := migrationNames(migrations)
	for _, v := range reverted {
		c.UI.Output(fmt.Sprintf("%s %d %s", color.YellowString("reverted"), v, names[v]))
	}
	if err != nil {
		return c.fail(err)
	}
	if len(reverted) == 0 {
		c.UI.Output("Nothing to revert")
	}
	return 0
}

// StatusCommand lists migrations and whether they are applied.
type StatusCommand struct {
	*Meta
}

func (c *StatusCommand) Synopsis() string {
	return "Show which migrations are applied"
}

func (c *StatusCommand) Help() string {
	return `Usage: schema-migrate status [options]

  Lists every migration found in migrations_path or recorded in the ledger,
  with its state. Versions recorded in the ledger without a migration file
  are flagged as missing.` + flagHelp(c.flagSet("status"))
}

func (c *StatusCommand) Run(args []string) int {
	if err := c.flagSet("status").Parse(args); err != nil {
		return c.fail(err)
	}
	r, migrations, done, err := c.runner()
	if err != nil {
		return c.fail(err)
	}
	defer done()

	status, err := r.Status(c.ctx(), migrations)
	if err != nil {
		return c.fail(err)
	}

	c.UI.Output(fmt.Sprintf("Schema %s", color.CyanString(r.Schema().String())))
	for _, st := range status {
		state := color.YellowString("down")
		if st.Applied {
			state = color.GreenString("up  ")
		}
		name := st.Name
		if !st.Known {
			name = color.RedString("(missing)")
		}
		line := fmt.Sprintf("  %s  %d  %s", state, st.Version, name)
		if st.Applied {
			line += "  " + st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		c.UI.Output(strings.TrimRight(line, " "))
	}
	return 0
}

func migrationNames(migrations []*migrate.Migration) map[int64]string {
	names := make(map[int64]string, len(migrations))
	for _, m := range migrations {
		names[m.Version] = m.Name
	}
	return names
}

func failedVersion(err error) int64 {
	var e *migrate.Error
	if errors.As(err, &e) && e.Kind == migrate.MigrationFailed {
		return e.Version
	}
	return 0
}
