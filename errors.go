package migrate

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error by the stage of a run which produced it.
type Kind uint8

const (
	// Other is used for errors which do not belong to any stage, such as
	// database connection failures.
	Other Kind = iota
	// CreateFailed indicates that the schema creation DDL was rejected.
	CreateFailed
	// StorageInitFailed indicates that the ledger or metadata tables could
	// not be created.
	StorageInitFailed
	// DuplicateIdentifier indicates that two migrations share a version.
	DuplicateIdentifier
	// MigrationFailed indicates that the action of a specific migration
	// failed.
	MigrationFailed
	// WriteFailed indicates that ledger bookkeeping failed. When it follows a
	// migration run outside of a transaction, the ledger and the database
	// have diverged and must be reconciled by hand.
	WriteFailed
	// LockFailed indicates that the run lock could not be obtained.
	LockFailed
	// NoReverse indicates that a migration being rolled back has no reverse
	// action.
	NoReverse
	// UnknownVersion indicates that the ledger references a version which is
	// not among the known migrations.
	UnknownVersion
	// InvalidSchema indicates an unusable schema name.
	InvalidSchema
	// InvalidMigration indicates a malformed migration definition.
	InvalidMigration
)

var kindText = map[Kind]string{
	Other:               "error",
	CreateFailed:        "schema creation failed",
	StorageInitFailed:   "storage initialization failed",
	DuplicateIdentifier: "duplicate migration version",
	MigrationFailed:     "migration failed",
	WriteFailed:         "ledger write failed",
	LockFailed:          "unable to obtain lock",
	NoReverse:           "migration has no reverse action",
	UnknownVersion:      "unknown migration version",
	InvalidSchema:       "invalid schema name",
	InvalidMigration:    "invalid migration",
}

// String implements fmt.Stringer for Kind.
func (k Kind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the structured error returned by every operation in this module.
// It identifies the operation which failed, the stage (Kind), and the
// migration version involved, if any.
type Error struct {
	Kind    Kind
	Op      string
	Version int64
	Err     error
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Version != 0 {
		fmt.Fprintf(&b, " (version %d)", e.Version)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare Error (such as ErrMigrationFailed)
// carrying the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Version == 0 && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrCreateFailed        = &Error{Kind: CreateFailed}
	ErrStorageInitFailed   = &Error{Kind: StorageInitFailed}
	ErrDuplicateIdentifier = &Error{Kind: DuplicateIdentifier}
	ErrMigrationFailed     = &Error{Kind: MigrationFailed}
	ErrWriteFailed         = &Error{Kind: WriteFailed}
	ErrLockFailed          = &Error{Kind: LockFailed}
	ErrNoReverse           = &Error{Kind: NoReverse}
	ErrUnknownVersion      = &Error{Kind: UnknownVersion}
	ErrInvalidSchema       = &Error{Kind: InvalidSchema}
	ErrInvalidMigration    = &Error{Kind: InvalidMigration}
)

var (
	// ErrAlreadyRecorded is wrapped by ledgers when a version is recorded
	// twice.
	ErrAlreadyRecorded = errors.New("version already recorded")
	// ErrNotRecorded is wrapped by ledgers when reverting a version which
	// was never recorded.
	ErrNotRecorded = errors.New("version not recorded")
)

// E builds an Error. It is exported for the dialect packages.
func E(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first Error in err's chain, or Other.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// StatementError records which statement of a SQL action failed, allowing
// dialects to describe the failure in terms of the statement text.
type StatementError struct {
	// Part is the name of the part the statement came from, if any.
	Part      string
	Statement string
	Err       error
}

// Error implements the error interface for StatementError.
func (e *StatementError) Error() string {
	if e.Part != "" {
		return fmt.Sprintf("part '%s': %s", e.Part, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the driver error.
func (e *StatementError) Unwrap() error {
	return e.Err
}
