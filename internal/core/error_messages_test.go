package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"validation error", &ValidationError{Field: "severity", Reason: "must be ERROR or WARNING"}, "DQ001"},
		{"wrapped schema error", fmt.Errorf("profile: %w", &SchemaError{Kind: "table", Schema: "raw_data", Table: "nope"}), "DQ002"},
		{"execution error", &ExecutionError{Query: "SELECT 1/0", Err: errors.New("division by zero")}, "DQ003"},
		{"timeout error", &TimeoutError{Op: "rule 7", Timeout: time.Second, Err: context.DeadlineExceeded}, "DQ004"},
		{"rule not found", fmt.Errorf("rule 9: %w", ErrRuleNotFound), "DQ005"},
		{"maintenance busy", ErrMaintenanceBusy, "DQ006"},
		{"too many runs", ErrTooManyRuns, "DQ007"},
		{"duplicate rule", fmt.Errorf("add rule %q: %w", "x", ErrDuplicateRule), "DQ008"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB004"},
		{"deadlock pattern", errors.New("ERROR: DEADLOCK detected"), "DB007"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err).Code; got != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	canceled := &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}
	undefined := &pgconn.PgError{Code: "42703", Message: `column "nope" does not exist`}

	tests := []struct {
		name      string
		err       error
		wantClass string
	}{
		{"deadline", context.DeadlineExceeded, classTimeout},
		{"statement timeout", canceled, classTimeout},
		{"undefined column", undefined, classExecution},
		{"schema passes through", &SchemaError{Kind: "schema", Schema: "x"}, classSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError("rule", "SELECT 1", time.Second, tt.err)
			if got := errorClass(err); got != tt.wantClass {
				t.Errorf("errorClass() = %q, want %q", got, tt.wantClass)
			}
			if !errors.Is(err, tt.err) && !errors.As(err, new(*SchemaError)) {
				t.Errorf("classified error lost its cause: %v", err)
			}
		})
	}

	if classifyError("rule", "", time.Second, nil) != nil {
		t.Error("classifyError(nil) should be nil")
	}
}

func TestBatchError_Unwrap(t *testing.T) {
	timeout := &TimeoutError{Op: "refresh", Timeout: time.Minute, Err: context.DeadlineExceeded}
	be := &BatchError{
		Op:     "refresh_views",
		Schema: "analytics",
		Total:  3,
		Failures: []*ObjectError{
			{Object: "mv_daily", Err: timeout},
			{Object: "mv_weekly", Err: &ExecutionError{Err: errors.New("boom")}},
		},
	}

	if !errors.Is(be, ErrTimeout) {
		t.Error("BatchError should match ErrTimeout through its failures")
	}
	if !errors.Is(be, ErrExecution) {
		t.Error("BatchError should match ErrExecution through its failures")
	}
	var oe *ObjectError
	if !errors.As(be, &oe) || oe.Object != "mv_daily" {
		t.Errorf("errors.As(*ObjectError) = %v", oe)
	}
	want := `refresh_views on schema "analytics": 2 of 3 objects failed (mv_daily, mv_weekly)`
	if be.Error() != want {
		t.Errorf("Error() = %q, want %q", be.Error(), want)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrTooManyRuns)
	want := "Too many rule runs in progress (Code: DQ007). Please wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"typed error is user facing", &ValidationError{Field: "table", Reason: "required"}, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}
