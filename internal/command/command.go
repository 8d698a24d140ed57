// Package command implements the schema-migrate command line.
package command

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	migrate "github.com/octacian/schema-migrate"
	"github.com/octacian/schema-migrate/config"
	"github.com/octacian/schema-migrate/postgres"
	"github.com/octacian/schema-migrate/sqlite"
)

// Name is the name of the executable.
const Name = "schema-migrate"

// Version is set at build time.
var Version = "dev"

// EnvEnvironment selects the database.yml section when -env is not given.
const EnvEnvironment = "SCHEMA_MIGRATE_ENV"

// Meta carries what every command shares.
type Meta struct {
	UI      cli.Ui
	Context context.Context
	// LogOutput receives log lines. It defaults to os.Stderr.
	LogOutput io.Writer

	flagConfig   string
	flagEnv      string
	flagLogLevel string
}

// Commands returns the command factories of the command line.
func Commands(m *Meta) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"db": func() (cli.Command, error) {
			return &parentCommand{synopsis: "Create or drop the configured database", name: "db"}, nil
		},
		"db create": func() (cli.Command, error) {
			return &DBCreateCommand{Meta: m}, nil
		},
		"db drop": func() (cli.Command, error) {
			return &DBDropCommand{Meta: m}, nil
		},
		"schema": func() (cli.Command, error) {
			return &parentCommand{synopsis: "Create or drop the configured schema", name: "schema"}, nil
		},
		"schema create": func() (cli.Command, error) {
			return &SchemaCreateCommand{Meta: m}, nil
		},
		"schema drop": func() (cli.Command, error) {
			return &SchemaDropCommand{Meta: m}, nil
		},
		"migrate": func() (cli.Command, error) {
			return &MigrateCommand{Meta: m}, nil
		},
		"rollback": func() (cli.Command, error) {
			return &RollbackCommand{Meta: m}, nil
		},
		"status": func() (cli.Command, error) {
			return &StatusCommand{Meta: m}, nil
		},
		"verify": func() (cli.Command, error) {
			return &VerifyCommand{Meta: m}, nil
		},
		"new": func() (cli.Command, error) {
			return &NewCommand{Meta: m}, nil
		},
	}
}

// Run runs the command line with args and returns the exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := &cli.ColoredUi{
		ErrorColor: cli.UiColorRed,
		WarnColor:  cli.UiColorYellow,
		Ui: &cli.BasicUi{
			Reader:      bufio.NewReader(os.Stdin),
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
	}
	return RunCustom(args, &Meta{UI: ui, Context: ctx})
}

// RunCustom runs the command line with args on behalf of m.
func RunCustom(args []string, m *Meta) int {
	c := &cli.CLI{
		Name:         Name,
		Version:      Version,
		Args:         args,
		Commands:     Commands(m),
		HelpWriter:   os.Stdout,
		Autocomplete: false,
	}

	exitCode, err := c.Run()
	if err != nil {
		m.UI.Error(fmt.Sprintf("Error executing CLI: %s", err.Error()))
		return 1
	}
	return exitCode
}

// parentCommand lists its subcommands.
type parentCommand struct {
	name     string
	synopsis string
}

func (c *parentCommand) Synopsis() string { return c.synopsis }

func (c *parentCommand) Help() string {
	return fmt.Sprintf("Usage: %s %s <subcommand> [options]\n\n  %s.", Name, c.name, c.synopsis)
}

func (c *parentCommand) Run([]string) int { return cli.RunResultHelp }

// flagSet returns a flag set holding the flags shared by every command.
func (m *Meta) flagSet(name string) *flag.FlagSet {
	f := flag.NewFlagSet(name, flag.ContinueOnError)
	f.SetOutput(io.Discard)
	f.StringVar(&m.flagConfig, "config", config.DefaultPath, "Path to the database configuration file.")
	env := os.Getenv(EnvEnvironment)
	if env == "" {
		env = config.DefaultEnvironment
	}
	f.StringVar(&m.flagEnv, "env", env, "Configuration section to use.")
	f.StringVar(&m.flagLogLevel, "log-level", "info", "Log verbosity: trace, debug, info, warn or error.")
	return f
}

// flagHelp renders the usage of f for command help texts.
func flagHelp(f *flag.FlagSet) string {
	var b strings.Builder
	b.WriteString("\n\nOptions:\n")
	f.VisitAll(func(fl *flag.Flag) {
		fmt.Fprintf(&b, "\n  -%s=%s\n      %s\n", fl.Name, fl.DefValue, fl.Usage)
	})
	return b.String()
}

func (m *Meta) ctx() context.Context {
	if m.Context == nil {
		return context.Background()
	}
	return m.Context
}

func (m *Meta) logger() hclog.Logger {
	out := m.LogOutput
	if out == nil {
		out = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   Name,
		Level:  hclog.LevelFromString(m.flagLogLevel),
		Output: out,
	})
}

func (m *Meta) loadConfig() (*config.Database, error) {
	return config.Load(m.flagConfig, m.flagEnv)
}

func (m *Meta) schema(cfg *config.Database) (migrate.Schema, error) {
	return migrate.ParseSchema(cfg.Schema())
}

// open connects to the configured database. SQLite databases have the
// configured schema attached on every connection.
func (m *Meta) open(cfg *config.Database) (*sql.DB, migrate.Dialect, error) {
	s, err := m.schema(cfg)
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Adapter {
	case config.Postgres:
		db, err := postgres.Open(cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		return db, postgres.New(), nil
	case config.SQLite:
		d := sqlite.New(cfg.SchemaDir)
		db, err := d.Open(cfg.DSN(), s)
		if err != nil {
			return nil, nil, err
		}
		return db, d, nil
	default:
		return nil, nil, fmt.Errorf("unsupported adapter '%s'", cfg.Adapter)
	}
}

// runner loads the configuration and returns a Runner for it along with the
// migrations found in the configured directory.
func (m *Meta) runner() (*migrate.Runner, []*migrate.Migration, func(), error) {
	cfg, err := m.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	migrations, err := migrate.Load(os.DirFS(cfg.MigrationsPath), ".")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil, err
	}

	db, d, err := m.open(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	r, err := migrate.NewRunner(db, d, cfg.Schema(),
		migrate.WithLogger(m.logger()),
		migrate.WithEnvironment(cfg.Environment))
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return r, migrations, func() { _ = db.Close() }, nil
}

// fail reports err and returns the exit code for it.
func (m *Meta) fail(err error) int {
	m.UI.Error(color.RedString("Error: ") + err.Error())
	return 1
}
