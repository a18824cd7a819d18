package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors. Every typed error below matches one of these with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrSchema          = errors.New("schema error")
	ErrExecution       = errors.New("execution error")
	ErrTimeout         = errors.New("timeout")
	ErrRuleNotFound    = errors.New("rule not found")
	ErrMaintenanceBusy = errors.New("maintenance already running")
	ErrTooManyRuns     = errors.New("too many rule runs in progress")
	ErrDuplicateRule   = errors.New("rule name already exists")
)

// Error class names written to quality_metrics.details.error_class.
const (
	classExecution  = "execution"
	classTimeout    = "timeout"
	classSchema     = "schema"
	classValidation = "validation"
)

// SQLSTATEs the service reacts to.
const (
	pgQueryCanceled   = "57014" // statement_timeout and user cancels
	pgUniqueViolation = "23505"
)

// ValidationError reports malformed input to a registry or history operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SchemaError reports an identifier that is absent from the catalog.
type SchemaError struct {
	Kind   string // "schema", "table" or "column"
	Schema string
	Table  string
	Column string
}

func (e *SchemaError) Error() string {
	switch e.Kind {
	case "column":
		return fmt.Sprintf("column %q not found in %s.%s", e.Column, e.Schema, e.Table)
	case "table":
		return fmt.Sprintf("table %s.%s not found", e.Schema, e.Table)
	default:
		return fmt.Sprintf("schema %q not found", e.Schema)
	}
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// ExecutionError wraps a database failure while running a generated or
// user-supplied query.
type ExecutionError struct {
	Query string
	Err   error
}

func (e *ExecutionError) Error() string {
	return "query failed: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

// TimeoutError reports a query cancelled by its deadline or statement_timeout.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded timeout of %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// classifyError turns a raw query error into a TimeoutError or ExecutionError.
// Errors that are already classified pass through unchanged.
func classifyError(op, query string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrExecution) || errors.Is(err, ErrSchema) || errors.Is(err, ErrValidation) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgQueryCanceled {
		return &TimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	return &ExecutionError{Query: query, Err: err}
}

// errorClass names the taxonomy bucket of err for metric details.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return classTimeout
	case errors.Is(err, ErrSchema):
		return classSchema
	case errors.Is(err, ErrValidation):
		return classValidation
	default:
		return classExecution
	}
}

// ObjectError is a maintenance failure for one object of a batch.
type ObjectError struct {
	Object string
	Err    error
}

func (e *ObjectError) Error() string {
	return e.Object + ": " + e.Err.Error()
}

func (e *ObjectError) Unwrap() error { return e.Err }

// BatchError aggregates per-object failures of a maintenance batch.
// Objects that succeeded stay committed.
type BatchError struct {
	Op       string
	Schema   string
	Total    int
	Failures []*ObjectError
}

func (e *BatchError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Object
	}
	return fmt.Sprintf("%s on schema %q: %d of %d objects failed (%s)",
		e.Op, e.Schema, len(e.Failures), e.Total, strings.Join(names, ", "))
}

// Unwrap exposes every object failure to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
