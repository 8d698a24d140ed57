// Package config reads database settings from a Rails style database.yml.
//
// The file maps environment names to database settings:
//
//	default: &default
//	  adapter: postgresql
//	  host: ${DB_HOST}
//	  username: app
//
//	development:
//	  <<: *default
//	  database: app_development
//	  schema_search_path: app_data
//
// ${VAR} references are expanded from the process environment after loading
// any .env file. Variables prefixed with SCHEMA_MIGRATE_ override individual
// settings, for example SCHEMA_MIGRATE_DATABASE or
// SCHEMA_MIGRATE_SCHEMA_SEARCH_PATH.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	migrate "github.com/octacian/schema-migrate"
	"github.com/xo/dburl"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables overriding settings.
const EnvPrefix = "SCHEMA_MIGRATE"

// Defaults used when the file leaves a setting out.
const (
	DefaultPath           = "config/database.yml"
	DefaultEnvironment    = "development"
	DefaultMigrationsPath = "db/migrate"
	DefaultPostgresPort   = 5432
)

// Adapters understood by the rest of the module.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

var adapters = map[string]string{
	"postgres":   Postgres,
	"postgresql": Postgres,
	"pgx":        Postgres,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
}

// Database holds the settings of one environment.
type Database struct {
	Adapter  string `yaml:"adapter"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Database is the database name for Postgres and the file path for
	// SQLite.
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode" split_words:"true"`
	Encoding string `yaml:"encoding"`
	// SchemaSearchPath may list several schemas separated by commas as Rails
	// allows; migrations target the first.
	SchemaSearchPath string `yaml:"schema_search_path" split_words:"true"`
	// URL takes precedence over the individual connection settings.
	URL            string `yaml:"url"`
	MigrationsPath string `yaml:"migrations_path" split_words:"true"`
	// SchemaDir is where SQLite keeps schema files. It defaults to the
	// directory holding the database file.
	SchemaDir string `yaml:"schema_dir" split_words:"true"`

	// Environment is the name of the section the settings were read from.
	Environment string `yaml:"-" ignored:"true"`

	dsn string
}

// Load reads the settings of env from the file at path. dotenv names the
// .env files to load first, defaulting to ".env"; missing ones are skipped.
func Load(path, env string, dotenv ...string) (*Database, error) {
	const op = "config.Load"
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, file := range dotenv {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return nil, fmt.Errorf("%s: unable to load '%s': %w", op, file, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return Parse(data, env)
}

// Parse reads the settings of env from data, then applies environment
// overrides, defaults and validation.
func Parse(data []byte, env string) (*Database, error) {
	const op = "config.Parse"
	if env == "" {
		env = DefaultEnvironment
	}

	var environments map[string]*Database
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &environments); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db, ok := environments[env]
	if !ok || db == nil {
		return nil, fmt.Errorf("%s: environment '%s' not found", op, env)
	}
	db.Environment = env

	if err := envconfig.Process(EnvPrefix, db); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.resolve(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.Validate(); err != nil {
		return nil, err
	}
	return db, nil
}

// resolve fills connection settings from URL and applies defaults.
func (db *Database) resolve() error {
	if db.URL != "" {
		u, err := dburl.Parse(db.URL)
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		if db.Adapter == "" {
			db.Adapter = u.Driver
		}
		db.dsn = u.DSN
		switch adapters[strings.ToLower(db.Adapter)] {
		case Postgres:
			db.Database = strings.TrimPrefix(u.Path, "/")
		case SQLite:
			db.Database = u.DSN
		}
	}

	if adapter, ok := adapters[strings.ToLower(db.Adapter)]; ok {
		db.Adapter = adapter
	}
	if db.Adapter == Postgres && db.Port == 0 {
		db.Port = DefaultPostgresPort
	}
	if db.MigrationsPath == "" {
		db.MigrationsPath = DefaultMigrationsPath
	}
	if db.Adapter == SQLite && db.SchemaDir == "" {
		db.SchemaDir = filepath.Dir(db.Database)
	}
	return nil
}

// Validate reports every problem with the settings at once.
func (db *Database) Validate() error {
	var result *multierror.Error
	if _, ok := adapters[db.Adapter]; !ok {
		result = multierror.Append(result, fmt.Errorf("unsupported adapter '%s'", db.Adapter))
	}
	if db.Database == "" {
		result = multierror.Append(result, errors.New("missing database"))
	}
	if db.Schema() == "" {
		result = multierror.Append(result, errors.New("missing schema_search_path"))
	} else if _, err := migrate.ParseSchema(db.Schema()); err != nil {
		result = multierror.Append(result, err)
	}
	if db.Port < 0 || db.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("invalid port %d", db.Port))
	}
	if db.Encoding != "" && !strings.EqualFold(db.Encoding, "utf8") && !strings.EqualFold(db.Encoding, "unicode") {
		result = multierror.Append(result, fmt.Errorf("unsupported encoding '%s'", db.Encoding))
	}
	if result != nil {
		result.ErrorFormat = func(errs []error) string {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			return fmt.Sprintf("invalid %s configuration: %s", db.Environment, strings.Join(msgs, "; "))
		}
	}
	return result.ErrorOrNil()
}

// Schema returns the schema migrations target: the first entry of
// schema_search_path.
func (db *Database) Schema() string {
	first, _, _ := strings.Cut(db.SchemaSearchPath, ",")
	return strings.TrimSpace(first)
}

// DSN returns the connection string for the adapter, as understood by pgx,
// or the path of the SQLite database file.
func (db *Database) DSN() string {
	if db.dsn != "" {
		return db.dsn
	}
	if db.Adapter == SQLite {
		return db.Database
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(db.hostOrDefault(), strconv.Itoa(db.Port)),
		Path:   "/" + db.Database,
	}
	if db.Username != "" {
		if db.Password != "" {
			u.User = url.UserPassword(db.Username, db.Password)
		} else {
			u.User = url.User(db.Username)
		}
	}
	query := url.Values{}
	if db.SSLMode != "" {
		query.Set("sslmode", db.SSLMode)
	}
	if db.Encoding != "" {
		query.Set("client_encoding", "UTF8")
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func (db *Database) hostOrDefault() string {
	if db.Host == "" {
		return "localhost"
	}
	return db.Host
}
