package migrate

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
)

func expectError(t *testing.T, name string, msg string, fn func() error, substr ...string) {
	t.Helper()
	if err := fn(); err == nil {
		t.Errorf("%s: expected error with %s", name, msg)
	} else {
		for _, str := range substr {
			if !strings.Contains(err.Error(), str) {
				t.Errorf("%s: expected substring '%s' in error with %s, got:\n%s",
					name, str, msg, err.Error())
			}
		}
	}
}

func newExpectError(name string, fn func(...any) error) func(t *testing.T, msg, errContains string, args ...any) {
	return func(t *testing.T, msg, errContains string, args ...any) {
		t.Helper()
		if err := fn(args...); err == nil {
			t.Errorf("%s: expected error with %s", name, msg)
		} else if !strings.Contains(err.Error(), errContains) {
			t.Errorf("%s: got unexpected error message with %s:\n%s", name, msg, err)
		}
	}
}

// recorder is a Querier remembering every statement executed through it.
type recorder struct {
	stmts []string
	// failOn makes ExecContext fail for statements containing it.
	failOn string
}

var errRecorder = errors.New("statement rejected")

func (r *recorder) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	if r.failOn != "" && strings.Contains(query, r.failOn) {
		return nil, errRecorder
	}
	r.stmts = append(r.stmts, query)
	return nil, nil
}

func (r *recorder) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func (r *recorder) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}
