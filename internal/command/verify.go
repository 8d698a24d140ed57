package command

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/mitchellh/cli"
	migrate "github.com/octacian/schema-migrate"
)

var _ cli.Command = (*VerifyCommand)(nil)

// Tables always checked by VerifyCommand.
var bookkeepingTables = []string{migrate.LedgerTable, migrate.MetadataTable}

// VerifyCommand checks that tables live in the configured schema only.
type VerifyCommand struct {
	*Meta
}

func (c *VerifyCommand) Synopsis() string {
	return "Check that tables live in the configured schema"
}

func (c *VerifyCommand) Help() string {
	return `Usage: schema-migrate verify [options] [table ...]

  Checks that the migration ledger, the metadata table and every named table
  exist in the configured schema and in no other schema. Exits with status 1
  otherwise.

    $ schema-migrate verify users` + flagHelp(c.flagSet("verify"))
}

func (c *VerifyCommand) Run(args []string) int {
	f := c.flagSet("verify")
	if err := f.Parse(args); err != nil {
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
	db, d, err := c.open(cfg)
	if err != nil {
		return c.fail(err)
	}
	defer db.Close()

	ok := true
	for _, table := range append(append([]string{}, bookkeepingTables...), f.Args()...) {
		schemas, err := d.TableSchemas(c.ctx(), db, table)
		if err != nil {
			return c.fail(err)
		}

		switch {
		case len(schemas) == 1 && schemas[0] == s.String():
			c.UI.Output(fmt.Sprintf("%s %s in %s", color.GreenString("ok  "), table, s))
		case len(schemas) == 0:
			ok = false
			c.UI.Error(fmt.Sprintf("%s %s does not exist", color.RedString("fail"), table))
		default:
			ok = false
			c.UI.Error(fmt.Sprintf("%s %s found in %s, expected only %s", color.RedString("fail"),
				table, strings.Join(schemas, ", "), s))
		}
	}

	if !ok {
		return 1
	}
	return 0
}
