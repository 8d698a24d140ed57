package command

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mitchellh/cli"
	migrate "github.com/octacian/schema-migrate"
)

var _ cli.Command = (*NewCommand)(nil)

// NewCommand writes an empty migration file.
type NewCommand struct {
	*Meta

	flagDir string
	// now is replaced in tests.
	now func() time.Time
}

func (c *NewCommand) Synopsis() string {
	return "Write a new, empty migration"
}

func (c *NewCommand) flags() *flag.FlagSet {
	f := c.flagSet("new")
	f.StringVar(&c.flagDir, "dir", "", "Directory to write to. Defaults to migrations_path.")
	return f
}

func (c *NewCommand) Help() string {
	return `Usage: schema-migrate new [options] <name>

  Writes <version>_<name>.sql to the migrations directory, versioned by the
  current UTC time, with sections for up and down SQL to fill in.

    $ schema-migrate new create_users` + flagHelp(c.flags())
}

func (c *NewCommand) Run(args []string) int {
	f := c.flags()
	if err := f.Parse(args); err != nil {
		return c.fail(err)
	}
	if f.NArg() != 1 {
		c.UI.Error("Expected exactly one migration name")
		return cli.RunResultHelp
	}

	dir := c.flagDir
	if dir == "" {
		cfg, err := c.loadConfig()
		if err != nil {
			return c.fail(err)
		}
		dir = cfg.MigrationsPath
	}

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	path, err := migrate.Create(dir, strings.Join(f.Args(), "_"), now())
	if err != nil {
		return c.fail(err)
	}
	c.UI.Output(fmt.Sprintf("Created %s", color.CyanString(path)))
	return 0
}
