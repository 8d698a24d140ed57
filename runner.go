package migrate

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Keys written to the schema's metadata table by every run.
const (
	MetadataEnvironment = "environment"
	MetadataSchema      = "schema"
)

// Runner applies migrations inside a single schema. Every operation holds one
// connection for its whole duration: the schema is provisioned on it, the run
// lock is taken on it, and migrations execute on it. A Runner is not safe for
// concurrent use; concurrent Runners against the same schema are serialized
// by the dialect's Locker.
type Runner struct {
	db      *sql.DB
	dialect Dialect
	schema  Schema
	ledger  Ledger
	meta    Metadata
	opts    options
	logger  hclog.Logger

	state   State
	version int64
}

// NewRunner returns a Runner targeting schema through db. NewRunner returns an
// error if db is nil, if schema is not a valid name, or if schema is the
// dialect's default namespace.
func NewRunner(db *sql.DB, dialect Dialect, schema string, opt ...Option) (*Runner, error) {
	const op = "migrate.NewRunner"
	if db == nil {
		return nil, E(op, Other, errors.New("got nil database handle"))
	}
	if dialect == nil {
		return nil, E(op, Other, errors.New("got nil dialect"))
	}

	s, err := ParseSchema(schema)
	if err != nil {
		return nil, err
	}
	if s.String() == dialect.DefaultSchema() {
		return nil, E(op, InvalidSchema, fmt.Errorf("refusing to target the default namespace '%s'", s))
	}

	opts := getOpts(opt...)
	return &Runner{
		db:      db,
		dialect: dialect,
		schema:  s,
		ledger:  dialect.Ledger(s),
		meta:    dialect.Metadata(s),
		opts:    opts,
		logger:  opts.logger.Named("runner").With("schema", s.String(), "dialect", dialect.Name()),
	}, nil
}

// Schema returns the schema targeted by the Runner.
func (r *Runner) Schema() Schema {
	return r.schema
}

// State returns the state the last operation reached, along with the version
// being applied or reverted when it got there.
func (r *Runner) State() (State, int64) {
	return r.state, r.version
}

func (r *Runner) transition(to State, version int64) error {
	const op = "migrate.(*Runner).transition"
	if !canTransition(r.state, to) {
		return E(op, Other, fmt.Errorf("invalid state transition %s -> %s", r.state, to))
	}
	r.logger.Trace("state transition", "from", r.state.String(), "to", to.String(), "version", version)
	r.state, r.version = to, version
	return nil
}

// fail ends the current operation in the Failed state and returns err.
func (r *Runner) fail(err error) error {
	if !r.state.Terminal() {
		r.state = Failed
	}
	return err
}

// begin checks out the connection used for a whole operation and takes the
// run lock on it. The returned function resets the session and releases
// both.
func (r *Runner) begin(ctx context.Context) (*sql.Conn, func(), error) {
	const op = "migrate.(*Runner).begin"
	r.state, r.version = Idle, 0

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, nil, r.fail(E(op, Other, err))
	}

	unlock, err := r.dialect.Lock(ctx, conn, r.schema)
	if err != nil {
		_ = conn.Close()
		return nil, nil, r.fail(err)
	}

	end := func() {
		ctx := context.Background()
		resetErr := r.dialect.ResetSession(ctx, conn, r.schema)
		if err := unlock(ctx); err != nil {
			r.logger.Warn("unable to release run lock", "error", err)
		}
		if resetErr != nil {
			r.logger.Warn("unable to reset session, discarding connection", "error", resetErr)
			// ErrBadConn keeps the connection out of the pool
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			r.logger.Warn("unable to return connection", "error", err)
		}
	}
	return conn, end, nil
}

// prepare provisions the schema and the tables living in it. The schema is
// always ensured first so that the ledger never lands in the default
// namespace.
func (r *Runner) prepare(ctx context.Context, conn *sql.Conn) error {
	if err := r.dialect.EnsureSchema(ctx, conn, r.schema); err != nil {
		return err
	}
	if err := r.transition(SchemaEnsured, 0); err != nil {
		return err
	}

	if err := r.ledger.EnsureStorage(ctx, conn); err != nil {
		return err
	}
	if err := r.meta.EnsureStorage(ctx, conn); err != nil {
		return err
	}
	if err := r.meta.Set(ctx, conn, MetadataEnvironment, r.opts.environment); err != nil {
		return err
	}
	if err := r.meta.Set(ctx, conn, MetadataSchema, r.schema.String()); err != nil {
		return err
	}
	return r.transition(LedgerReady, 0)
}

// Run applies every migration not yet recorded in the ledger, in ascending
// version order, and returns the versions it applied. A migration whose
// version is lower than the newest applied one is still applied.
//
// Run stops at the first failure and returns the versions applied before it
// together with an Error of kind MigrationFailed carrying the failed version.
// Earlier migrations stay recorded. The failed migration's reverse action is
// never run; migrations marked NoTx may leave partially applied DDL behind.
//
// A migration creating tables in the dialect's default namespace fails with
// kind MigrationFailed. Migrations sharing a version are rejected before any
// DDL runs.
func (r *Runner) Run(ctx context.Context, migrations []*Migration) ([]int64, error) {
	const op = "migrate.(*Runner).Run"
	sorted, err := Sort(migrations)
	if err != nil {
		return nil, err
	}

	conn, end, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	if err := r.prepare(ctx, conn); err != nil {
		return nil, r.fail(err)
	}

	entries, err := r.ledger.AppliedVersions(ctx, conn)
	if err != nil {
		return nil, r.fail(err)
	}

	pending := pendingMigrations(sorted, entries)
	applied := make([]int64, 0, len(pending))
	if len(pending) == 0 {
		r.logger.Info("schema is up to date", "migrations", len(sorted))
		return applied, r.transition(Done, 0)
	}

	latest := latestVersion(entries)
	start := time.Now()
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return applied, r.fail(&Error{Kind: MigrationFailed, Op: op, Version: m.Version, Err: err})
		}
		if err := r.transition(Applying, m.Version); err != nil {
			return applied, r.fail(err)
		}
		if m.Version < latest {
			r.logger.Warn("applying migration out of order", "version", m.Version, "latest", latest)
		}

		r.logger.Info("applying migration", "version", m.Version, "name", m.Name)
		began := time.Now()
		if err := r.step(ctx, conn, m, m.Up, r.ledger.RecordApplied); err != nil {
			r.logger.Error("migration failed", "version", m.Version, "error", err)
			return applied, r.fail(err)
		}
		r.logger.Debug("applied migration", "version", m.Version, "elapsed", time.Since(began))
		applied = append(applied, m.Version)
	}

	r.logger.Info("applied migrations", "count", len(applied), "elapsed", time.Since(start))
	return applied, r.transition(Done, applied[len(applied)-1])
}

// Rollback reverts the newest steps applied migrations, newest first, and
// returns the reverted versions. Every targeted migration is checked for a
// reverse action before any of them runs.
func (r *Runner) Rollback(ctx context.Context, migrations []*Migration, steps int) ([]int64, error) {
	const op = "migrate.(*Runner).Rollback"
	if steps < 1 {
		return nil, E(op, Other, fmt.Errorf("expected at least one step, got %d", steps))
	}

	sorted, err := Sort(migrations)
	if err != nil {
		return nil, err
	}
	known := make(map[int64]*Migration, len(sorted))
	for _, m := range sorted {
		known[m.Version] = m
	}

	conn, end, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	if err := r.prepare(ctx, conn); err != nil {
		return nil, r.fail(err)
	}

	entries, err := r.ledger.AppliedVersions(ctx, conn)
	if err != nil {
		return nil, r.fail(err)
	}

	var targets []*Migration
	for i := len(entries) - 1; i >= 0 && len(targets) < steps; i-- {
		v := entries[i].Version
		m, ok := known[v]
		if !ok {
			return nil, r.fail(&Error{Kind: UnknownVersion, Op: op, Version: v,
				Err: fmt.Errorf("applied version is not among the %d known migrations", len(known))})
		}
		if m.Down == nil {
			return nil, r.fail(&Error{Kind: NoReverse, Op: op, Version: v,
				Err: fmt.Errorf("migration '%s' cannot be rolled back", m)})
		}
		targets = append(targets, m)
	}

	reverted := make([]int64, 0, len(targets))
	for _, m := range targets {
		if err := r.transition(Applying, m.Version); err != nil {
			return reverted, r.fail(err)
		}
		r.logger.Info("reverting migration", "version", m.Version, "name", m.Name)
		if err := r.step(ctx, conn, m, m.Down, r.ledger.RecordReverted); err != nil {
			r.logger.Error("rollback failed", "version", m.Version, "error", err)
			return reverted, r.fail(err)
		}
		reverted = append(reverted, m.Version)
	}

	var last int64
	if len(reverted) > 0 {
		last = reverted[len(reverted)-1]
	}
	return reverted, r.transition(Done, last)
}

// step runs action for m and records the outcome in the ledger. Unless m is
// marked NoTx both happen in one transaction, so a failed ledger write also
// undoes the action. An action which creates tables in the dialect's default
// namespace fails.
func (r *Runner) step(ctx context.Context, conn *sql.Conn, m *Migration, action Action,
	record func(context.Context, Querier, int64) error) error {
	const op = "migrate.(*Runner).step"

	mctx, cancel := r.migrationContext(ctx)
	defer cancel()

	failed := func(err error) error {
		return &Error{Kind: MigrationFailed, Op: op, Version: m.Version, Err: r.cause(mctx, err)}
	}

	if m.NoTx {
		check, err := r.watchDefault(mctx, conn)
		if err != nil {
			return failed(err)
		}
		if err := action(mctx, conn, r.schema); err != nil {
			return failed(err)
		}
		if err := check(); err != nil {
			return failed(err)
		}
		// the action completed, so it is recorded even if ctx ended meanwhile
		if err := record(context.WithoutCancel(ctx), conn, m.Version); err != nil {
			r.logger.Error("ledger diverged from database, manual reconciliation required",
				"version", m.Version, "error", err)
			return withVersion(err, m.Version)
		}
		return nil
	}

	tx, err := conn.BeginTx(mctx, nil)
	if err != nil {
		return failed(err)
	}
	check, err := r.watchDefault(mctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return failed(err)
	}
	if err := action(mctx, tx, r.schema); err != nil {
		_ = tx.Rollback()
		return failed(err)
	}
	if err := mctx.Err(); err != nil {
		_ = tx.Rollback()
		return failed(err)
	}
	if err := check(); err != nil {
		_ = tx.Rollback()
		return failed(err)
	}
	if err := record(mctx, tx, m.Version); err != nil {
		_ = tx.Rollback()
		return withVersion(err, m.Version)
	}
	if err := tx.Commit(); err != nil {
		return failed(err)
	}
	return nil
}

// watchDefault records the tables of the dialect's default namespace. The
// returned function fails if tables were created there since.
func (r *Runner) watchDefault(ctx context.Context, q Querier) (func() error, error) {
	ns := r.dialect.DefaultSchema()
	before, err := r.dialect.Tables(ctx, q, ns)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(before))
	for _, table := range before {
		known[table] = true
	}

	return func() error {
		after, err := r.dialect.Tables(ctx, q, ns)
		if err != nil {
			return err
		}
		var created []string
		for _, table := range after {
			if !known[table] {
				created = append(created, table)
			}
		}
		if len(created) > 0 {
			return fmt.Errorf("created %s in the default namespace '%s' instead of '%s', "+
				"qualify tables with the {{schema}} token", strings.Join(created, ", "), ns, r.schema)
		}
		return nil
	}, nil
}

func (r *Runner) migrationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.timeout > 0 {
		return context.WithTimeout(ctx, r.opts.timeout)
	}
	return context.WithCancel(ctx)
}

// cause lets the dialect decorate err and makes sure an expired migration
// context is visible to errors.Is.
func (r *Runner) cause(ctx context.Context, err error) error {
	err = r.dialect.Describe(err)
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// Pending returns the migrations Run would apply, in the order it would apply
// them. Like every Runner operation it provisions the schema and ledger if
// they are absent.
func (r *Runner) Pending(ctx context.Context, migrations []*Migration) ([]*Migration, error) {
	sorted, err := Sort(migrations)
	if err != nil {
		return nil, err
	}

	conn, end, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	if err := r.prepare(ctx, conn); err != nil {
		return nil, r.fail(err)
	}
	entries, err := r.ledger.AppliedVersions(ctx, conn)
	if err != nil {
		return nil, r.fail(err)
	}
	return pendingMigrations(sorted, entries), r.transition(Done, 0)
}

// MigrationStatus describes one version known to the migrations passed to
// Status, the ledger, or both.
type MigrationStatus struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
	// Known is false for versions recorded in the ledger which no longer
	// have a migration.
	Known bool
}

// Status returns one entry per version found among migrations or in the
// ledger, ordered by version.
func (r *Runner) Status(ctx context.Context, migrations []*Migration) ([]MigrationStatus, error) {
	sorted, err := Sort(migrations)
	if err != nil {
		return nil, err
	}

	conn, end, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	if err := r.prepare(ctx, conn); err != nil {
		return nil, r.fail(err)
	}
	entries, err := r.ledger.AppliedVersions(ctx, conn)
	if err != nil {
		return nil, r.fail(err)
	}

	byVersion := make(map[int64]*MigrationStatus, len(sorted)+len(entries))
	for _, m := range sorted {
		byVersion[m.Version] = &MigrationStatus{Version: m.Version, Name: m.Name, Known: true}
	}
	for _, e := range entries {
		st, ok := byVersion[e.Version]
		if !ok {
			st = &MigrationStatus{Version: e.Version}
			byVersion[e.Version] = st
		}
		st.Applied = true
		st.AppliedAt = e.AppliedAt
	}

	result := make([]MigrationStatus, 0, len(byVersion))
	for _, st := range byVersion {
		result = append(result, *st)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, r.transition(Done, 0)
}

func pendingMigrations(sorted []*Migration, entries []LedgerEntry) []*Migration {
	applied := make(map[int64]bool, len(entries))
	for _, e := range entries {
		applied[e.Version] = true
	}

	pending := make([]*Migration, 0, len(sorted))
	for _, m := range sorted {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending
}

func latestVersion(entries []LedgerEntry) int64 {
	var latest int64
	for _, e := range entries {
		if e.Version > latest {
			latest = e.Version
		}
	}
	return latest
}

func withVersion(err error, version int64) error {
	var e *Error
	if errors.As(err, &e) && e.Version == 0 {
		copied := *e
		copied.Version = version
		return &copied
	}
	return err
}
