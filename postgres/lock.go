package postgres

import (
	"context"
	"hash/fnv"

	migrate "github.com/octacian/schema-migrate"
)

// lockNamespace keeps the advisory lock keys of different schemas apart from
// keys other applications derive from the bare schema name.
const lockNamespace = "schema-migrate:"

// Lock takes a session level advisory lock keyed by the schema name. The
// lock belongs to the session, so q must be the connection the run uses and
// the returned unlock must be called on it as well.
func (*Dialect) Lock(ctx context.Context, q migrate.Querier, s migrate.Schema) (func(context.Context) error, error) {
	const op = "postgres.(*Dialect).Lock"
	key := lockKey(s)

	if _, err := q.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		return nil, migrate.E(op, migrate.LockFailed, err)
	}

	unlock := func(ctx context.Context) error {
		const op = "postgres.(*Dialect).Lock.unlock"
		if _, err := q.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			return migrate.E(op, migrate.LockFailed, err)
		}
		return nil
	}
	return unlock, nil
}

// lockKey hashes the schema name to the int64 key pg_advisory_lock expects.
func lockKey(s migrate.Schema) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(lockNamespace + s.String()))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
