package transplant

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports a missing or unsupported connection URI or an invalid
	// table list. Nothing is opened when it is returned.
	ErrConfig = errors.New("transplant: configuration error")

	// ErrDependency reports a select handler that needs a table which is not
	// in the Context (not extracted yet, or extracted empty).
	ErrDependency = errors.New("transplant: dependency error")

	// ErrCacheRead reports a cache entry that exists but cannot be decoded.
	ErrCacheRead = errors.New("transplant: cache read error")

	// ErrDatabase wraps failures of the source or destination database.
	ErrDatabase = errors.New("transplant: database error")
)

// Phase names the half of a run an error happened in.
type Phase string

const (
	PhaseExtract Phase = "extract"
	PhaseLoad    Phase = "load"
)

// TableError attaches the table and phase to an error.
type TableError struct {
	Table string
	Phase Phase
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Table, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }

// NotAvailable returns the ErrDependency used when table is missing from the
// Context.
func NotAvailable(table string) error {
	return fmt.Errorf("%w: %s isn't available", ErrDependency, table)
}

func databaseError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDatabase) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDatabase, op, err)
}
