package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/zeebo/xxh3"

	"github.com/JonMunkholm/warehouse-dq/internal/logging"
)

// Maintenance operation names, used in lock keys, logs and metrics.
const (
	OpRefreshViews = "refresh_views"
	OpAnalyze      = "analyze"
)

const (
	listMatViewsSQL = `SELECT matviewname FROM pg_catalog.pg_matviews
WHERE schemaname = $1 ORDER BY matviewname`

	listBaseTablesSQL = `SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`

	advisoryLockSQL = `SELECT pg_advisory_xact_lock($1)`
)

// MaintenanceResult reports what a maintenance batch touched.
type MaintenanceResult struct {
	Op        string        `json:"op"`
	Schema    string        `json:"schema"`
	Processed []string      `json:"processed"`
	Failed    []string      `json:"failed"`
	Duration  time.Duration `json:"durationNs"`
}

// RefreshAllViews refreshes every materialized view in schema in name
// order. Each view commits on its own; failures are collected into a
// *BatchError and do not stop the batch.
func (s *Service) RefreshAllViews(ctx context.Context, schema string) (MaintenanceResult, error) {
	return s.runMaintenance(ctx, OpRefreshViews, schema, listMatViewsSQL, "REFRESH MATERIALIZED VIEW %s")
}

// ReanalyzeSchema runs ANALYZE on every base table in schema so that
// planner statistics and TableStats row counts are current.
func (s *Service) ReanalyzeSchema(ctx context.Context, schema string) (MaintenanceResult, error) {
	return s.runMaintenance(ctx, OpAnalyze, schema, listBaseTablesSQL, "ANALYZE %s")
}

func (s *Service) runMaintenance(ctx context.Context, op, schema, discoverSQL, stmtFormat string) (MaintenanceResult, error) {
	schema = s.schemaOrDefault(schema)
	result := MaintenanceResult{Op: op, Schema: schema, Processed: []string{}, Failed: []string{}}
	start := time.Now()

	name, err := s.catalog.ResolveSchema(ctx, schema)
	if err != nil {
		return result, err
	}

	unlock, ok := s.tryLockMaintenance(op, name)
	if !ok {
		return result, fmt.Errorf("%s on schema %q: %w", op, name, ErrMaintenanceBusy)
	}
	defer unlock()

	objects, err := s.discover(ctx, discoverSQL, name)
	if err != nil {
		return result, fmt.Errorf("%s: list objects in %q: %w", op, name, err)
	}

	logger := logging.Enrich(ctx, s.logger).With("op", op, "schema", name)
	logger.Info("maintenance started", "objects", len(objects))

	key := advisoryKey(op, name)
	batchErr := &BatchError{Op: op, Schema: name, Total: len(objects)}
	for _, obj := range objects {
		stmt := fmt.Sprintf(stmtFormat, pgx.Identifier{name, obj}.Sanitize())
		objStart := time.Now()
		if err := s.maintainObject(ctx, key, stmt); err != nil {
			err = classifyError(op+" "+obj, stmt, s.cfg.ObjectTimeout, err)
			batchErr.Failures = append(batchErr.Failures, &ObjectError{Object: obj, Err: err})
			result.Failed = append(result.Failed, obj)
			s.metrics.ObserveMaintenance(op, "failed")
			logger.Warn("maintenance object failed", "object", obj, "error", err)
			continue
		}
		result.Processed = append(result.Processed, obj)
		s.metrics.ObserveMaintenance(op, "ok")
		logger.Debug("maintenance object done", "object", obj, "duration", time.Since(objStart))
	}

	result.Duration = time.Since(start)
	if len(result.Processed) > 0 {
		s.catalog.Invalidate()
	}
	logger.Info("maintenance finished",
		"processed", len(result.Processed), "failed", len(result.Failed), "duration", result.Duration)

	if len(batchErr.Failures) > 0 {
		return result, batchErr
	}
	return result, nil
}

// maintainObject runs stmt in its own transaction. The transaction-level
// advisory lock serialises the same operation on the same schema across
// processes; statement_timeout bounds both the wait and the work.
func (s *Service) maintainObject(ctx context.Context, key int64, stmt string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", s.cfg.ObjectTimeout.Milliseconds())); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, advisoryLockSQL, key); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) discover(ctx context.Context, query, schema string) ([]string, error) {
	rows, err := s.db.Query(ctx, query, schema)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return names, nil
}

// tryLockMaintenance takes the in-process lock for (op, schema) without
// waiting.
func (s *Service) tryLockMaintenance(op, schema string) (func(), bool) {
	s.maintMu.Lock()
	key := op + "\x00" + schema
	mu, ok := s.maintLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.maintLocks[key] = mu
	}
	s.maintMu.Unlock()

	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}

// advisoryKey maps (op, schema) onto the bigint space of pg advisory locks.
func advisoryKey(op, schema string) int64 {
	return int64(xxh3.HashString(op + ":" + schema))
}
