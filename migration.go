package migrate

import (
	"context"
	"fmt"
	"sort"
)

// Action is one direction of a Migration. Unqualified identifiers resolve
// through the session's active namespace, which the Provisioner has set to s;
// actions which must also work on engines without a search path should
// qualify names with s.Qualify or the {{schema}} token.
type Action func(ctx context.Context, q Querier, s Schema) error

// SQL returns an Action executing each statement in order after expanding
// the {{schema}} token.
func SQL(stmts ...string) Action {
	return func(ctx context.Context, q Querier, s Schema) error {
		for _, stmt := range stmts {
			if err := execStatement(ctx, q, s, "", stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

func execStatement(ctx context.Context, q Querier, s Schema, part, stmt string) error {
	expanded := s.Expand(stmt)
	if _, err := q.ExecContext(ctx, expanded); err != nil {
		return &StatementError{Part: part, Statement: expanded, Err: err}
	}
	return nil
}

// Migration represents a single migration, most importantly containing its
// version number and the actions moving the schema forward and back.
// Migrations loaded from files also carry the Parts their actions run.
type Migration struct {
	Version int64
	Name    string
	Path    string
	Parts   []*Part

	Up Action
	// Down is optional. A migration without it cannot be rolled back.
	Down Action
	// NoTx runs Up outside of a transaction. The ledger is then written
	// after Up returns, and a failure to do so leaves the two diverged.
	NoTx bool
}

// NewMigration returns a Migration built from in-memory actions.
func NewMigration(version int64, name string, up, down Action) *Migration {
	return &Migration{Version: version, Name: name, Up: up, Down: down}
}

// NewPartsMigration returns a Migration running parts in order. The
// migration runs outside of a transaction if any part asks to.
func NewPartsMigration(version int64, name string, parts ...*Part) *Migration {
	m := &Migration{Version: version, Name: name, Parts: parts}

	hasDown := len(parts) > 0
	for _, part := range parts {
		if part.Down == "" {
			hasDown = false
		}
		if part.NoTx {
			m.NoTx = true
		}
	}

	m.Up = func(ctx context.Context, q Querier, s Schema) error {
		for _, part := range parts {
			if err := execStatement(ctx, q, s, part.Name, part.Up); err != nil {
				return err
			}
		}
		return nil
	}

	// Reverse actions undo parts in the opposite order they were applied.
	if hasDown {
		m.Down = func(ctx context.Context, q Querier, s Schema) error {
			for i := len(parts) - 1; i >= 0; i-- {
				if err := execStatement(ctx, q, s, parts[i].Name, parts[i].Down); err != nil {
					return err
				}
			}
			return nil
		}
	}

	return m
}

// String returns the migration as `<version>_<name>`.
func (m *Migration) String() string {
	if m.Name == "" {
		return fmt.Sprint(m.Version)
	}
	return fmt.Sprintf("%d_%s", m.Version, m.Name)
}

// Sort validates migrations and returns a copy ordered by ascending version.
// Version 0 is reserved to represent the state of the database before any
// migration is applied. Sort returns an Error of kind DuplicateIdentifier if
// two migrations share a version.
func Sort(migrations []*Migration) ([]*Migration, error) {
	const op = "migrate.Sort"
	sorted := make([]*Migration, 0, len(migrations))
	seen := make(map[int64]*Migration, len(migrations))
	for _, m := range migrations {
		if m == nil {
			return nil, E(op, InvalidMigration, fmt.Errorf("got nil migration"))
		}
		if m.Version <= 0 {
			return nil, &Error{Kind: InvalidMigration, Op: op, Version: m.Version,
				Err: fmt.Errorf("migration '%s' has a disallowed version, versions must be positive", m)}
		}
		if m.Up == nil {
			return nil, &Error{Kind: InvalidMigration, Op: op, Version: m.Version,
				Err: fmt.Errorf("migration '%s' has no forward action", m)}
		}
		if prior, ok := seen[m.Version]; ok {
			return nil, &Error{Kind: DuplicateIdentifier, Op: op, Version: m.Version,
				Err: fmt.Errorf("'%s' and '%s' share a version", prior, m)}
		}
		seen[m.Version] = m
		sorted = append(sorted, m)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return sorted, nil
}
