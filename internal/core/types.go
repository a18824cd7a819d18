package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DB is a DBTX that can also open transactions. Satisfied by *pgxpool.Pool.
type DB interface {
	DBTX
	BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error)
}

// Severity classifies the impact of a failing rule.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityError || s == SeverityWarning
}

// MetricStatus is the outcome recorded for one evaluation.
type MetricStatus string

const (
	StatusPass MetricStatus = "PASS"
	StatusFail MetricStatus = "FAIL"
	StatusWarn MetricStatus = "WARN"
)

// LoadStatus is the outcome of one ingestion attempt.
type LoadStatus string

const (
	LoadSuccess LoadStatus = "SUCCESS"
	LoadFailed  LoadStatus = "FAILED"
	LoadPartial LoadStatus = "PARTIAL"
)

// Valid reports whether s is a known load status.
func (s LoadStatus) Valid() bool {
	switch s {
	case LoadSuccess, LoadFailed, LoadPartial:
		return true
	}
	return false
}

// CheckType selects how a rule produces its scalar.
type CheckType string

const (
	// CheckSQL runs the rule's predicate template.
	CheckSQL CheckType = "sql"
	// CheckDuplicates measures excess rows for the rule's key column.
	CheckDuplicates CheckType = "duplicates"
	// CheckNullCount counts NULLs in the rule's column.
	CheckNullCount CheckType = "null_count"
	// CheckRowCount counts rows in the rule's table.
	CheckRowCount CheckType = "row_count"
)

// Valid reports whether t is a known check type.
func (t CheckType) Valid() bool {
	switch t {
	case CheckSQL, CheckDuplicates, CheckNullCount, CheckRowCount:
		return true
	}
	return false
}

// NeedsColumn reports whether the check type operates on a column.
func (t CheckType) NeedsColumn() bool {
	return t == CheckDuplicates || t == CheckNullCount
}

// ValidationRule is a registered, severity-tagged predicate over a table.
type ValidationRule struct {
	ID             int64     `json:"id"`
	Name           string    `json:"ruleName"`
	SchemaName     string    `json:"schemaName"`
	TableName      string    `json:"tableName"`
	ColumnName     string    `json:"columnName,omitempty"`
	CheckType      CheckType `json:"checkType"`
	Predicate      string    `json:"ruleSql,omitempty"`
	ExpectedResult string    `json:"expectedResult"`
	Severity       Severity  `json:"severity"`
	Active         bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewRule is the input to AddRule and SeedRules. The yaml tags define the
// seed file format.
type NewRule struct {
	Name           string    `json:"ruleName" yaml:"name"`
	SchemaName     string    `json:"schemaName,omitempty" yaml:"schema,omitempty"`
	TableName      string    `json:"tableName" yaml:"table"`
	ColumnName     string    `json:"columnName,omitempty" yaml:"column,omitempty"`
	CheckType      CheckType `json:"checkType,omitempty" yaml:"check,omitempty"`
	Predicate      string    `json:"ruleSql,omitempty" yaml:"sql,omitempty"`
	ExpectedResult string    `json:"expectedResult,omitempty" yaml:"expected,omitempty"`
	Severity       Severity  `json:"severity,omitempty" yaml:"severity,omitempty"`
}

// LoadHistoryRecord is one ingestion attempt as written by the loader.
type LoadHistoryRecord struct {
	ID              int64      `json:"loadId"`
	TableName       string     `json:"tableName"`
	SchemaName      string     `json:"schemaName"`
	LoadedAt        time.Time  `json:"loadTimestamp"`
	RowsLoaded      *int64     `json:"rowsLoaded"`
	Status          LoadStatus `json:"loadStatus"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	DurationSeconds float64    `json:"loadDurationSeconds"`
}

// NewLoadRecord is the input to RecordLoad.
type NewLoadRecord struct {
	TableName       string     `json:"tableName"`
	SchemaName      string     `json:"schemaName,omitempty"`
	LoadedAt        *time.Time `json:"loadTimestamp,omitempty"`
	RowsLoaded      *int64     `json:"rowsLoaded"`
	Status          LoadStatus `json:"loadStatus"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	DurationSeconds float64    `json:"loadDurationSeconds"`
}

// QualityMetricRecord is the recorded outcome of one rule or profile evaluation.
// ID is zero when the outcome could not be persisted.
type QualityMetricRecord struct {
	ID          int64         `json:"metricId"`
	CheckedAt   time.Time     `json:"checkTimestamp"`
	TableName   string        `json:"tableName"`
	MetricName  string        `json:"metricName"`
	MetricValue *float64      `json:"metricValue"`
	Status      MetricStatus  `json:"metricStatus"`
	Details     MetricDetails `json:"details"`
}

// MetricDetails is stored as JSONB in quality_metrics.details.
type MetricDetails struct {
	RuleID        int64          `json:"rule_id,omitempty"`
	RunID         string         `json:"run_id,omitempty"`
	CheckType     CheckType      `json:"check_type,omitempty"`
	Schema        string         `json:"schema,omitempty"`
	Column        string         `json:"column,omitempty"`
	Predicate     string         `json:"predicate,omitempty"`
	PredicateHash string         `json:"predicate_hash,omitempty"`
	Query         string         `json:"query,omitempty"`
	Expected      string         `json:"expected,omitempty"`
	Actual        string         `json:"actual,omitempty"`
	Severity      Severity       `json:"severity,omitempty"`
	ErrorClass    string         `json:"error_class,omitempty"`
	Error         string         `json:"error,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// TableStats is the catalog-level profile of a table.
// RowCount and LastAnalyzed come from planner statistics and may be stale.
type TableStats struct {
	Schema       string     `json:"schema"`
	Table        string     `json:"table"`
	RowCount     int64      `json:"rowCount"`
	ColumnCount  int        `json:"columnCount"`
	SizeBytes    int64      `json:"sizeBytes"`
	LastAnalyzed *time.Time `json:"lastAnalyzed"`
}

// DuplicateStats summarises duplicate keys in one column.
type DuplicateStats struct {
	DuplicateGroupCount int64 `json:"duplicateGroupCount"`
	TotalExcessRows     int64 `json:"totalExcessRows"`
}

// DateProfile summarises a date or timestamp column.
type DateProfile struct {
	MinDate        *time.Time `json:"minDate"`
	MaxDate        *time.Time `json:"maxDate"`
	RangeDays      int        `json:"rangeDays"`
	NullCount      int64      `json:"nullCount"`
	NullPercentage float64    `json:"nullPercentage"`
	TotalRows      int64      `json:"totalRows"`
	// InfiniteCount counts ±infinity values, which are left out of the bounds.
	InfiniteCount int64 `json:"infiniteCount"`
}
