// Package schema holds the DDL for the service's own tables: the rule
// registry and the two append-only history tables. Apply is idempotent and
// safe to run from several processes at once.
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zeebo/xxh3"
)

// Table is one managed table and the statements that create it.
type Table struct {
	Name       string
	Statements []string
}

// ValidationRules is the rule registry. Rules are deactivated, never
// deleted, so history rows keep a valid rule_id.
var ValidationRules = Table{
	Name: "validation_rules",
	Statements: []string{
		`CREATE TABLE IF NOT EXISTS validation_rules (
	id              BIGSERIAL PRIMARY KEY,
	rule_name       TEXT NOT NULL UNIQUE,
	schema_name     TEXT NOT NULL DEFAULT 'public',
	table_name      TEXT NOT NULL,
	column_name     TEXT,
	check_type      TEXT NOT NULL DEFAULT 'sql'
		CHECK (check_type IN ('sql', 'duplicates', 'null_count', 'row_count')),
	rule_sql        TEXT NOT NULL DEFAULT '',
	expected_result TEXT NOT NULL DEFAULT '0',
	severity        TEXT NOT NULL DEFAULT 'ERROR' CHECK (severity IN ('ERROR', 'WARNING')),
	is_active       BOOLEAN NOT NULL DEFAULT true,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS validation_rules_active_idx ON validation_rules (id) WHERE is_active`,
	},
}

// LoadHistory records one row per ingestion attempt.
var LoadHistory = Table{
	Name: "load_history",
	Statements: []string{
		`CREATE TABLE IF NOT EXISTS load_history (
	load_id               BIGSERIAL PRIMARY KEY,
	table_name            TEXT NOT NULL,
	schema_name           TEXT NOT NULL,
	load_timestamp        TIMESTAMPTZ NOT NULL DEFAULT now(),
	rows_loaded           BIGINT CHECK (rows_loaded >= 0),
	load_status           TEXT NOT NULL CHECK (load_status IN ('SUCCESS', 'FAILED', 'PARTIAL')),
	error_message         TEXT,
	load_duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (load_duration_seconds >= 0),
	CHECK (load_status <> 'FAILED' OR COALESCE(rows_loaded, 0) = 0)
)`,
		`CREATE INDEX IF NOT EXISTS load_history_table_ts_idx ON load_history (table_name, load_timestamp DESC)`,
	},
}

// QualityMetrics records one row per rule or profile outcome.
var QualityMetrics = Table{
	Name: "quality_metrics",
	Statements: []string{
		`CREATE TABLE IF NOT EXISTS quality_metrics (
	metric_id       BIGSERIAL PRIMARY KEY,
	check_timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
	table_name      TEXT NOT NULL,
	metric_name     TEXT NOT NULL,
	metric_value    DOUBLE PRECISION,
	metric_status   TEXT NOT NULL CHECK (metric_status IN ('PASS', 'FAIL', 'WARN')),
	details         JSONB NOT NULL DEFAULT '{}'
)`,
		`CREATE INDEX IF NOT EXISTS quality_metrics_latest_idx
	ON quality_metrics (table_name, metric_name, check_timestamp DESC, metric_id DESC)`,
		`CREATE INDEX IF NOT EXISTS quality_metrics_ts_idx ON quality_metrics (check_timestamp DESC)`,
	},
}

// Tables lists every managed table in creation order.
var Tables = []Table{ValidationRules, LoadHistory, QualityMetrics}

// Migrator is the subset of a pgx pool Apply needs.
type Migrator interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

const advisoryLockSQL = `SELECT pg_advisory_xact_lock($1)`

// lockKey serialises concurrent Apply calls across processes.
var lockKey = int64(xxh3.HashString("warehouse-dq/schema"))

// Apply creates every managed table and index that does not exist yet, in
// one transaction.
func Apply(ctx context.Context, db Migrator) (err error) {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, advisoryLockSQL, lockKey); err != nil {
		return fmt.Errorf("lock schema: %w", err)
	}
	for _, t := range Tables {
		for _, stmt := range t.Statements {
			if _, err = tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", t.Name, describe(err))
			}
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// describe adds the server's detail to a Postgres error message.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s)", err, pgErr.Detail)
	}
	return err
}
