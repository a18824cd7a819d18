package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Planner statistics are read from the catalog; nothing here scans the table.
const tableStatsSQL = `SELECT COALESCE(st.n_live_tup, 0)::bigint,
	GREATEST(st.last_analyze, st.last_autoanalyze),
	pg_total_relation_size(c.oid)
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_stat_user_tables st ON st.relid = c.oid
WHERE n.nspname = $1 AND c.relname = $2`

func duplicatesSQL(ref TableRef, col ColumnRef) string {
	return fmt.Sprintf(`SELECT count(*)::bigint, COALESCE(sum(n - 1), 0)::bigint
FROM (SELECT count(*) AS n FROM %s GROUP BY %s HAVING count(*) > 1) d`,
		ref.Relation(), col.Ident())
}

// Bounds cover finite values only; ±infinity sentinels are counted apart.
func dateProfileSQL(ref TableRef, col ColumnRef) string {
	return fmt.Sprintf(`SELECT min(%[2]s::date) FILTER (WHERE isfinite(%[2]s::date)),
	max(%[2]s::date) FILTER (WHERE isfinite(%[2]s::date)),
	count(*)::bigint,
	count(%[2]s)::bigint,
	count(*) FILTER (WHERE NOT isfinite(%[2]s::date))::bigint
FROM %[1]s`,
		ref.Relation(), col.Ident())
}

func nullCountSQL(ref TableRef, col ColumnRef) string {
	return fmt.Sprintf(`SELECT count(*) - count(%s) FROM %s`, col.Ident(), ref.Relation())
}

func rowCountSQL(ref TableRef) string {
	return fmt.Sprintf(`SELECT count(*) FROM %s`, ref.Relation())
}

// TableStats returns catalog statistics for schema.table.
func (s *Service) TableStats(ctx context.Context, schema, table string) (TableStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RuleTimeout)
	defer cancel()

	schema = s.schemaOrDefault(schema)
	ref, err := s.catalog.ResolveTable(ctx, schema, table)
	if err != nil {
		return TableStats{}, classifyCatalogError("table stats", s.cfg.RuleTimeout, err)
	}

	cols, err := s.catalog.ColumnCount(ctx, ref)
	if err != nil {
		return TableStats{}, classifyError("table stats", columnCountSQL, s.cfg.RuleTimeout, err)
	}

	var (
		rows     int64
		analyzed pgtype.Timestamptz
		size     int64
	)
	if err := s.db.QueryRow(ctx, tableStatsSQL, ref.Schema, ref.Name).Scan(&rows, &analyzed, &size); err != nil {
		return TableStats{}, classifyError("table stats", tableStatsSQL, s.cfg.RuleTimeout, err)
	}

	stats := TableStats{
		Schema:      ref.Schema,
		Table:       ref.Name,
		RowCount:    rows,
		ColumnCount: cols,
		SizeBytes:   size,
	}
	if analyzed.Valid {
		t := analyzed.Time
		stats.LastAnalyzed = &t
	}
	return stats, nil
}

// CheckDuplicates counts keys occurring more than once in column and the
// rows beyond the first for each. NULL keys group together.
func (s *Service) CheckDuplicates(ctx context.Context, schema, table, column string) (DuplicateStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RuleTimeout)
	defer cancel()

	ref, col, err := s.resolveColumn(ctx, schema, table, column)
	if err != nil {
		return DuplicateStats{}, classifyCatalogError("duplicate check", s.cfg.RuleTimeout, err)
	}

	var out DuplicateStats
	query := duplicatesSQL(ref, col)
	err = s.readOnly(ctx, s.cfg.RuleTimeout, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, query).Scan(&out.DuplicateGroupCount, &out.TotalExcessRows)
	})
	if err != nil {
		return DuplicateStats{}, classifyError("duplicate check", query, s.cfg.RuleTimeout, err)
	}
	return out, nil
}

// ProfileDateColumn reports the range and NULL share of a date-like column.
// An empty table yields nil bounds and a zero percentage.
func (s *Service) ProfileDateColumn(ctx context.Context, schema, table, column string) (DateProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RuleTimeout)
	defer cancel()

	ref, col, err := s.resolveColumn(ctx, schema, table, column)
	if err != nil {
		return DateProfile{}, classifyCatalogError("date profile", s.cfg.RuleTimeout, err)
	}

	var (
		minD, maxD               pgtype.Date
		total, nonNull, infinite int64
	)
	query := dateProfileSQL(ref, col)
	err = s.readOnly(ctx, s.cfg.RuleTimeout, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, query).Scan(&minD, &maxD, &total, &nonNull, &infinite)
	})
	if err != nil {
		return DateProfile{}, classifyError("date profile", query, s.cfg.RuleTimeout, err)
	}
	return buildDateProfile(minD, maxD, total, nonNull, infinite), nil
}

func buildDateProfile(minD, maxD pgtype.Date, total, nonNull, infinite int64) DateProfile {
	p := DateProfile{
		TotalRows:     total,
		NullCount:     total - nonNull,
		InfiniteCount: infinite,
	}
	lo, loOK := finiteDate(minD)
	hi, hiOK := finiteDate(maxD)
	if loOK {
		p.MinDate = &lo
	}
	if hiOK {
		p.MaxDate = &hi
	}
	if loOK && hiOK {
		p.RangeDays = int(unixDay(hi) - unixDay(lo))
	}
	p.NullPercentage = percentage(p.NullCount, total)
	return p
}

// finiteDate unwraps d, treating NULL and ±infinity as absent.
func finiteDate(d pgtype.Date) (time.Time, bool) {
	if !d.Valid || d.InfinityModifier != pgtype.Finite {
		return time.Time{}, false
	}
	return d.Time, true
}

// unixDay counts whole days since 1970-01-01. time.Duration overflows
// past ~292 years, so ranges are computed on day numbers instead.
func unixDay(t time.Time) int64 {
	y, m, d := t.Date()
	secs := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
	if secs < 0 && secs%86400 != 0 {
		return secs/86400 - 1
	}
	return secs / 86400
}

// classifyCatalogError reports a deadline hit during catalog lookup as a
// timeout and passes every other error through.
func classifyCatalogError(op string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	return err
}

// percentage returns part/total*100 rounded to two places, 0 when total is 0.
func percentage(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(total)) / 100
}

func (s *Service) resolveColumn(ctx context.Context, schema, table, column string) (TableRef, ColumnRef, error) {
	ref, err := s.catalog.ResolveTable(ctx, s.schemaOrDefault(schema), table)
	if err != nil {
		return TableRef{}, ColumnRef{}, err
	}
	col, err := s.catalog.ResolveColumn(ctx, ref, column)
	if err != nil {
		return TableRef{}, ColumnRef{}, err
	}
	return ref, col, nil
}

// ProfileKind selects what RecordProfile measures.
type ProfileKind string

const (
	ProfileTable      ProfileKind = "table"
	ProfileDuplicates ProfileKind = "duplicates"
	ProfileDates      ProfileKind = "dates"
)

// RecordProfile runs a profiling primitive and appends its result to
// quality_metrics. Nothing is written when the target does not resolve.
func (s *Service) RecordProfile(ctx context.Context, kind ProfileKind, schema, table, column string) ([]QualityMetricRecord, error) {
	schema = s.schemaOrDefault(schema)
	start := time.Now()

	var recs []QualityMetricRecord
	switch kind {
	case ProfileTable:
		st, err := s.TableStats(ctx, schema, table)
		if err != nil {
			return nil, err
		}
		base := MetricDetails{Schema: schema, DurationMs: time.Since(start).Milliseconds()}
		if st.LastAnalyzed != nil {
			base.Extra = map[string]any{"last_analyzed": st.LastAnalyzed.UTC().Format(time.RFC3339)}
		}
		recs = append(recs,
			profileRecord(table, "row_count", float64(st.RowCount), StatusPass, base),
			profileRecord(table, "column_count", float64(st.ColumnCount), StatusPass, base),
			profileRecord(table, "size_bytes", float64(st.SizeBytes), StatusPass, base),
		)

	case ProfileDuplicates:
		d, err := s.CheckDuplicates(ctx, schema, table, column)
		if err != nil {
			return nil, err
		}
		status := StatusPass
		if d.TotalExcessRows > 0 {
			status = StatusWarn
		}
		recs = append(recs, profileRecord(table, "duplicates:"+column, float64(d.TotalExcessRows), status,
			MetricDetails{
				Schema:     schema,
				Column:     column,
				DurationMs: time.Since(start).Milliseconds(),
				Extra:      map[string]any{"duplicate_groups": d.DuplicateGroupCount},
			}))

	case ProfileDates:
		p, err := s.ProfileDateColumn(ctx, schema, table, column)
		if err != nil {
			return nil, err
		}
		extra := map[string]any{"total_rows": p.TotalRows, "null_count": p.NullCount, "range_days": p.RangeDays}
		if p.MinDate != nil {
			extra["min_date"] = p.MinDate.Format(time.DateOnly)
		}
		if p.MaxDate != nil {
			extra["max_date"] = p.MaxDate.Format(time.DateOnly)
		}
		if p.InfiniteCount > 0 {
			extra["infinite_count"] = p.InfiniteCount
		}
		recs = append(recs, profileRecord(table, "null_pct:"+column, p.NullPercentage, StatusPass,
			MetricDetails{Schema: schema, Column: column, DurationMs: time.Since(start).Milliseconds(), Extra: extra}))

	default:
		return nil, invalid("kind", "unknown profile kind %q", kind)
	}

	out := make([]QualityMetricRecord, 0, len(recs))
	for _, rec := range recs {
		saved, err := s.RecordMetric(ctx, rec)
		if err != nil {
			return out, err
		}
		out = append(out, saved)
	}
	s.logger.Info("profile recorded", "kind", kind, "table", schema+"."+table, "column", column, "metrics", len(out))
	return out, nil
}

func profileRecord(table, name string, value float64, status MetricStatus, details MetricDetails) QualityMetricRecord {
	details.CheckType = checkProfile
	return QualityMetricRecord{
		TableName:   table,
		MetricName:  name,
		MetricValue: &value,
		Status:      status,
		Details:     details,
	}
}
