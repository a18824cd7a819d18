package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/warehouse-dq/internal/logging"
)

// checkProfile tags metrics written by RecordProfile rather than by a rule.
const checkProfile CheckType = "profile"

// nullText is how a NULL scalar is rendered and compared.
const nullText = "NULL"

func duplicateExcessSQL(ref TableRef, col ColumnRef) string {
	return fmt.Sprintf(`SELECT COALESCE(sum(n - 1), 0)::bigint
FROM (SELECT count(*) AS n FROM %s GROUP BY %s HAVING count(*) > 1) d`,
		ref.Relation(), col.Ident())
}

// readOnly runs fn in a READ ONLY transaction whose statements are capped
// by statement_timeout. The transaction is always rolled back.
func (s *Service) readOnly(ctx context.Context, timeout time.Duration, fn func(context.Context, pgx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return err
	}
	return fn(ctx, tx)
}

// RunReport is the outcome of one batch.
type RunReport struct {
	RunID      string                `json:"runId"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt"`
	Summary    RunSummary            `json:"summary"`
	Records    []QualityMetricRecord `json:"records"`
}

// RunSummary counts outcomes by status. Errored counts FAIL records caused
// by an execution, timeout or schema error rather than a mismatch.
type RunSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Warned  int `json:"warned"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// HasFailures reports whether any rule failed.
func (s RunSummary) HasFailures() bool { return s.Failed > 0 }

// Summarize counts records by status.
func Summarize(records []QualityMetricRecord) RunSummary {
	sum := RunSummary{Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case StatusPass:
			sum.Passed++
		case StatusWarn:
			sum.Warned++
		case StatusFail:
			sum.Failed++
			if r.Details.ErrorClass != "" {
				sum.Errored++
			}
		}
	}
	return sum
}

// RunRule evaluates one rule and records the outcome. Evaluation failures
// become FAIL records; a record that could not be persisted has ID 0.
func (s *Service) RunRule(ctx context.Context, rule ValidationRule) QualityMetricRecord {
	runID := uuid.NewString()
	return s.evaluate(logging.ContextWithRunID(ctx, runID), rule, runID)
}

// RunRuleByID loads a rule, active or not, and evaluates it.
func (s *Service) RunRuleByID(ctx context.Context, id int64) (QualityMetricRecord, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return QualityMetricRecord{}, err
	}
	return s.RunRule(ctx, rule), nil
}

// RunAllActiveRules evaluates every active rule under one run id and
// returns one record per rule in registry order. A failing rule never stops
// the batch. The error is non-nil only if the rule list cannot be read.
func (s *Service) RunAllActiveRules(ctx context.Context) ([]QualityMetricRecord, error) {
	report, err := s.runActive(ctx, uuid.NewString())
	if err != nil {
		return nil, err
	}
	return report.Records, nil
}

// RunBatch is RunAllActiveRules behind the run limiter, returning a report.
// It fails with ErrTooManyRuns when no slot frees up in time.
func (s *Service) RunBatch(ctx context.Context) (RunReport, error) {
	if err := s.runLimiter.Acquire(ctx); err != nil {
		return RunReport{}, err
	}
	defer s.runLimiter.Release()

	return s.runActive(ctx, uuid.NewString())
}

func (s *Service) runActive(ctx context.Context, runID string) (RunReport, error) {
	report := RunReport{RunID: runID, StartedAt: time.Now()}

	rules, err := s.ListActiveRules(ctx)
	if err != nil {
		return report, err
	}

	ctx = logging.ContextWithRunID(ctx, runID)
	logger := logging.Enrich(ctx, s.logger)
	logger.Info("rule batch started", "rules", len(rules), "concurrency", s.cfg.RuleConcurrency)

	records := make([]QualityMetricRecord, len(rules))
	var g errgroup.Group
	g.SetLimit(s.cfg.RuleConcurrency)
	for i, rule := range rules {
		i, rule := i, rule
		g.Go(func() error {
			records[i] = s.evaluate(ctx, rule, runID)
			return nil
		})
	}
	_ = g.Wait()

	report.Records = records
	report.FinishedAt = time.Now()
	report.Summary = Summarize(records)

	logger.Info("rule batch finished",
		"total", report.Summary.Total,
		"passed", report.Summary.Passed,
		"warned", report.Summary.Warned,
		"failed", report.Summary.Failed,
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

func (s *Service) evaluate(ctx context.Context, rule ValidationRule, runID string) QualityMetricRecord {
	start := time.Now()
	rec := QualityMetricRecord{
		TableName:  rule.TableName,
		MetricName: rule.Name,
		Details: MetricDetails{
			RuleID:        rule.ID,
			RunID:         runID,
			CheckType:     rule.CheckType,
			Schema:        rule.SchemaName,
			Column:        rule.ColumnName,
			Predicate:     rule.Predicate,
			PredicateHash: fingerprint(rule.Predicate),
			Expected:      rule.ExpectedResult,
			Severity:      rule.Severity,
		},
	}

	actual, query, err := s.scalar(ctx, rule)
	rec.Details.Query = query
	rec.Details.DurationMs = time.Since(start).Milliseconds()

	logger := logging.Enrich(ctx, s.logger).With("rule_id", rule.ID, "rule_name", rule.Name,
		"table", rule.SchemaName+"."+rule.TableName)

	if err != nil {
		rec.Status = StatusFail
		rec.Details.Error = err.Error()
		rec.Details.ErrorClass = errorClass(err)
		logger.Warn("rule errored", "error_class", rec.Details.ErrorClass, "error", err)
	} else {
		rec.Details.Actual = actual
		rec.MetricValue = numericValue(actual)
		rec.Status = DeriveStatus(actual, rule.ExpectedResult, rule.Severity)
		if rec.Status == StatusPass {
			logger.Debug("rule passed", "actual", actual)
		} else {
			logger.Warn("rule violated", "status", rec.Status, "actual", actual, "expected", rule.ExpectedResult)
		}
	}
	s.metrics.ObserveRule(rule.TableName, string(rule.CheckType), string(rec.Status), time.Since(start))

	// The outcome is written even when the caller's context has ended.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	saved, perr := s.RecordMetric(pctx, rec)
	if perr != nil {
		s.metrics.PersistFailed()
		logger.Error("failed to record rule outcome", "status", rec.Status, "error", perr)
		rec.ID = 0
		return rec
	}
	return saved
}

// scalar produces the rule's single value as text, and the SQL that was run.
func (s *Service) scalar(ctx context.Context, rule ValidationRule) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RuleTimeout)
	defer cancel()

	ref, err := s.catalog.ResolveTable(ctx, s.schemaOrDefault(rule.SchemaName), rule.TableName)
	if err != nil {
		return "", "", classifyError("resolve table", "", s.cfg.RuleTimeout, err)
	}
	var col *ColumnRef
	if rule.ColumnName != "" {
		c, err := s.catalog.ResolveColumn(ctx, ref, rule.ColumnName)
		if err != nil {
			return "", "", classifyError("resolve column", "", s.cfg.RuleTimeout, err)
		}
		col = &c
	}

	query, err := buildRuleQuery(rule, ref, col)
	if err != nil {
		return "", "", err
	}

	var v any
	err = s.readOnly(ctx, s.cfg.RuleTimeout, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, query).Scan(&v)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		err = fmt.Errorf("predicate returned no rows: %w", err)
	}
	if err != nil {
		return "", query, classifyError(fmt.Sprintf("rule %d", rule.ID), query, s.cfg.RuleTimeout, err)
	}
	return formatScalar(v), query, nil
}

func buildRuleQuery(rule ValidationRule, ref TableRef, col *ColumnRef) (string, error) {
	if rule.CheckType.NeedsColumn() && col == nil {
		return "", invalid("column_name", "required for %s checks", rule.CheckType)
	}
	switch rule.CheckType {
	case CheckSQL, "":
		if err := checkPlaceholders(rule.Predicate, col != nil); err != nil {
			return "", err
		}
		return renderPredicate(rule.Predicate, ref, col), nil
	case CheckDuplicates:
		return duplicateExcessSQL(ref, *col), nil
	case CheckNullCount:
		return nullCountSQL(ref, *col), nil
	case CheckRowCount:
		return rowCountSQL(ref), nil
	}
	return "", invalid("check_type", "unknown check type %q", rule.CheckType)
}

// DeriveStatus compares a rule's actual scalar with its expected result.
// Values equal as text or as exact decimals pass; otherwise the rule's
// severity decides between FAIL and WARN.
func DeriveStatus(actual, expected string, severity Severity) MetricStatus {
	if scalarsEqual(actual, expected) {
		return StatusPass
	}
	if severity == SeverityWarning {
		return StatusWarn
	}
	return StatusFail
}

func scalarsEqual(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == b {
		return true
	}
	if strings.EqualFold(a, nullText) || strings.EqualFold(b, nullText) {
		return strings.EqualFold(a, b)
	}
	ra, ok := new(big.Rat).SetString(a)
	if !ok {
		return false
	}
	rb, ok := new(big.Rat).SetString(b)
	if !ok {
		return false
	}
	return ra.Cmp(rb) == 0
}

// formatScalar renders a scanned value as comparison text. Decimals lose
// trailing zeros so that 1.50 and 1.5 compare equal.
func formatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return nullText
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case pgtype.Numeric:
		return formatNumeric(x)
	case time.Time:
		if x.Equal(x.Truncate(24*time.Hour)) && x.Location() == time.UTC {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}

func formatNumeric(n pgtype.Numeric) string {
	switch {
	case !n.Valid:
		return nullText
	case n.NaN:
		return "NaN"
	case n.InfinityModifier == pgtype.Infinity:
		return "Infinity"
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity"
	}
	if n.Int == nil {
		return "0"
	}
	r := new(big.Rat).SetInt(n.Int)
	if n.Exp > 0 {
		r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil)))
	} else if n.Exp < 0 {
		r.Quo(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)))
	}
	prec := 0
	if n.Exp < 0 {
		prec = int(-n.Exp)
	}
	return trimDecimal(r.FloatString(prec))
}

func trimDecimal(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

// numericValue is the metric_value for an actual scalar, nil when the
// scalar is not a finite number.
func numericValue(actual string) *float64 {
	f, err := strconv.ParseFloat(actual, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
