package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// History tables are append-only. Nothing in this package updates or
// deletes load_history or quality_metrics rows.

const (
	insertLoadSQL = `INSERT INTO load_history
	(table_name, schema_name, load_timestamp, rows_loaded, load_status, error_message, load_duration_seconds)
VALUES ($1, $2, COALESCE($3, now()), $4, $5, $6, $7)
RETURNING load_id, load_timestamp`

	insertMetricSQL = `INSERT INTO quality_metrics
	(table_name, metric_name, metric_value, metric_status, details)
VALUES ($1, $2, $3, $4, $5)
RETURNING metric_id, check_timestamp`

	listLoadsSQL = `SELECT load_id, table_name, schema_name, load_timestamp, rows_loaded,
	load_status, error_message, load_duration_seconds
FROM load_history
WHERE ($1 = '' OR table_name = $1)
  AND ($2 = '' OR load_status = $2)
  AND ($3::timestamptz IS NULL OR load_timestamp >= $3)
  AND ($4::timestamptz IS NULL OR load_timestamp < $4)
ORDER BY load_timestamp DESC, load_id DESC
LIMIT $5 OFFSET $6`

	listMetricsSQL = `SELECT metric_id, check_timestamp, table_name, metric_name, metric_value,
	metric_status, details
FROM quality_metrics
WHERE ($1 = '' OR table_name = $1)
  AND ($2 = '' OR metric_status = $2)
  AND ($3 = '' OR metric_name = $3)
  AND ($4::timestamptz IS NULL OR check_timestamp >= $4)
  AND ($5::timestamptz IS NULL OR check_timestamp < $5)
ORDER BY check_timestamp DESC, metric_id DESC
LIMIT $6 OFFSET $7`

	latestMetricsSQL = `SELECT DISTINCT ON (table_name, metric_name)
	metric_id, check_timestamp, table_name, metric_name, metric_value, metric_status, details
FROM quality_metrics
WHERE ($1 = '' OR table_name = $1)
ORDER BY table_name, metric_name, check_timestamp DESC, metric_id DESC`
)

// History list limits.
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// HistoryFilter narrows a history listing. Zero values mean "any".
type HistoryFilter struct {
	TableName  string
	Status     string
	MetricName string // quality metrics only
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

func (f HistoryFilter) window() (from, to pgtype.Timestamptz, limit, offset int) {
	if !f.From.IsZero() {
		from = pgtype.Timestamptz{Time: f.From, Valid: true}
	}
	if !f.To.IsZero() {
		to = pgtype.Timestamptz{Time: f.To, Valid: true}
	}
	limit = f.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return from, to, limit, offset
}

// RecordLoad appends one ingestion attempt.
func (s *Service) RecordLoad(ctx context.Context, in NewLoadRecord) (LoadHistoryRecord, error) {
	in.TableName = strings.TrimSpace(in.TableName)
	in.SchemaName = s.schemaOrDefault(strings.TrimSpace(in.SchemaName))
	in.Status = LoadStatus(strings.ToUpper(string(in.Status)))

	switch {
	case in.TableName == "":
		return LoadHistoryRecord{}, invalid("table_name", "must not be empty")
	case !in.Status.Valid():
		return LoadHistoryRecord{}, invalid("load_status", "must be SUCCESS, FAILED or PARTIAL, got %q", in.Status)
	case in.RowsLoaded != nil && *in.RowsLoaded < 0:
		return LoadHistoryRecord{}, invalid("rows_loaded", "must not be negative")
	case in.DurationSeconds < 0 || math.IsNaN(in.DurationSeconds) || math.IsInf(in.DurationSeconds, 0):
		return LoadHistoryRecord{}, invalid("load_duration_seconds", "must be a non-negative number")
	case in.Status == LoadFailed && strings.TrimSpace(in.ErrorMessage) == "":
		return LoadHistoryRecord{}, invalid("error_message", "required when load_status is FAILED")
	case in.Status == LoadFailed && in.RowsLoaded != nil && *in.RowsLoaded > 0:
		return LoadHistoryRecord{}, invalid("rows_loaded", "must be empty or 0 when load_status is FAILED")
	}

	var loadedAt pgtype.Timestamptz
	if in.LoadedAt != nil {
		loadedAt = pgtype.Timestamptz{Time: *in.LoadedAt, Valid: true}
	}
	var errMsg pgtype.Text
	if in.ErrorMessage != "" {
		errMsg = pgtype.Text{String: in.ErrorMessage, Valid: true}
	}

	rec := LoadHistoryRecord{
		TableName:       in.TableName,
		SchemaName:      in.SchemaName,
		RowsLoaded:      in.RowsLoaded,
		Status:          in.Status,
		ErrorMessage:    in.ErrorMessage,
		DurationSeconds: in.DurationSeconds,
	}
	var ts pgtype.Timestamptz
	err := s.db.QueryRow(ctx, insertLoadSQL, in.TableName, in.SchemaName, loadedAt,
		in.RowsLoaded, string(in.Status), errMsg, in.DurationSeconds).Scan(&rec.ID, &ts)
	if err != nil {
		return LoadHistoryRecord{}, fmt.Errorf("record load for %s: %w", in.TableName, err)
	}
	rec.LoadedAt = ts.Time

	s.metrics.ObserveLoad(rec.TableName, string(rec.Status))
	s.logger.Info("load recorded", "load_id", rec.ID, "table", rec.SchemaName+"."+rec.TableName,
		"status", rec.Status, "rows", in.RowsLoaded)
	return rec, nil
}

// RecordMetric appends one evaluation outcome and returns it with its id
// and timestamp filled in.
func (s *Service) RecordMetric(ctx context.Context, rec QualityMetricRecord) (QualityMetricRecord, error) {
	if rec.TableName == "" || rec.MetricName == "" {
		return rec, invalid("metric", "table_name and metric_name are required")
	}
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return rec, fmt.Errorf("encode metric details: %w", err)
	}

	var ts pgtype.Timestamptz
	err = s.db.QueryRow(ctx, insertMetricSQL, rec.TableName, rec.MetricName, rec.MetricValue,
		string(rec.Status), details).Scan(&rec.ID, &ts)
	if err != nil {
		return rec, fmt.Errorf("record metric %s: %w", rec.MetricName, err)
	}
	rec.CheckedAt = ts.Time
	return rec, nil
}

// ListLoadHistory returns load attempts, newest first.
func (s *Service) ListLoadHistory(ctx context.Context, f HistoryFilter) ([]LoadHistoryRecord, error) {
	from, to, limit, offset := f.window()
	rows, err := s.db.Query(ctx, listLoadsSQL, f.TableName, strings.ToUpper(f.Status), from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list load history: %w", err)
	}
	defer rows.Close()

	out := []LoadHistoryRecord{}
	for rows.Next() {
		var (
			r      LoadHistoryRecord
			ts     pgtype.Timestamptz
			rowsN  pgtype.Int8
			status string
			errMsg pgtype.Text
		)
		if err := rows.Scan(&r.ID, &r.TableName, &r.SchemaName, &ts, &rowsN, &status, &errMsg, &r.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scan load history: %w", err)
		}
		r.LoadedAt = ts.Time
		if rowsN.Valid {
			n := rowsN.Int64
			r.RowsLoaded = &n
		}
		r.Status = LoadStatus(status)
		r.ErrorMessage = errMsg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list load history: %w", err)
	}
	return out, nil
}

// ListQualityMetrics returns outcomes, newest first.
func (s *Service) ListQualityMetrics(ctx context.Context, f HistoryFilter) ([]QualityMetricRecord, error) {
	from, to, limit, offset := f.window()
	rows, err := s.db.Query(ctx, listMetricsSQL, f.TableName, strings.ToUpper(f.Status), f.MetricName,
		from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list quality metrics: %w", err)
	}
	return collectMetrics(rows)
}

// LatestMetrics returns the newest outcome of each (table, metric) pair,
// optionally for one table.
func (s *Service) LatestMetrics(ctx context.Context, table string) ([]QualityMetricRecord, error) {
	rows, err := s.db.Query(ctx, latestMetricsSQL, table)
	if err != nil {
		return nil, fmt.Errorf("latest quality metrics: %w", err)
	}
	return collectMetrics(rows)
}

type metricRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func collectMetrics(rows metricRows) ([]QualityMetricRecord, error) {
	defer rows.Close()

	out := []QualityMetricRecord{}
	for rows.Next() {
		var (
			r       QualityMetricRecord
			ts      pgtype.Timestamptz
			value   pgtype.Float8
			status  string
			details []byte
		)
		if err := rows.Scan(&r.ID, &ts, &r.TableName, &r.MetricName, &value, &status, &details); err != nil {
			return nil, fmt.Errorf("scan quality metric: %w", err)
		}
		r.CheckedAt = ts.Time
		if value.Valid {
			v := value.Float64
			r.MetricValue = &v
		}
		r.Status = MetricStatus(status)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &r.Details); err != nil {
				return nil, fmt.Errorf("decode details of metric %d: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan quality metrics: %w", err)
	}
	return out, nil
}
