package migrate

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option configures a Runner.
type Option func(*options)

type options struct {
	logger      hclog.Logger
	timeout     time.Duration
	environment string
}

func getOpts(opt ...Option) options {
	opts := options{
		logger:      hclog.NewNullLogger(),
		environment: "development",
	}
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// WithLogger sets the logger a Runner reports progress to.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMigrationTimeout bounds the time each migration may take. When it
// expires the migration fails with kind MigrationFailed. Zero disables the
// limit.
func WithMigrationTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithEnvironment sets the environment name recorded in the schema's
// metadata table.
func WithEnvironment(env string) Option {
	return func(o *options) {
		if env != "" {
			o.environment = env
		}
	}
}
