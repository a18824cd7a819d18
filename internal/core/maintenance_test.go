package core

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/warehouse-dq/internal/core/coretest"
)

func TestRefreshAllViews_PartialFailure(t *testing.T) {
	db := coretest.New()
	olist.install(db)
	db.OnResult(listMatViewsSQL, coretest.Result{Rows: [][]any{{"mv_daily"}, {"mv_sellers"}, {"mv_weekly"}}})
	db.OnResult(`REFRESH MATERIALIZED VIEW "analytics"."mv_sellers"`,
		coretest.Fail(&pgconn.PgError{Code: "42P01", Message: `relation "raw_data.sellers" does not exist`}))

	s := newTestService(t, db)
	res, err := s.RefreshAllViews(context.Background(), "analytics")

	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 3, be.Total)
	require.Len(t, be.Failures, 1)
	assert.Equal(t, "mv_sellers", be.Failures[0].Object)
	assert.ErrorIs(t, err, ErrExecution)

	assert.Equal(t, []string{"mv_daily", "mv_weekly"}, res.Processed)
	assert.Equal(t, []string{"mv_sellers"}, res.Failed)

	refreshes := db.CallsMatching("REFRESH MATERIALIZED VIEW")
	require.Len(t, refreshes, 3)
	assert.Contains(t, refreshes[0].SQL, "mv_daily", "views refresh in name order")
	assert.Contains(t, refreshes[2].SQL, "mv_weekly")

	begins, commits, rollbacks := db.TxCounts()
	assert.Equal(t, 3, begins, "one transaction per view")
	assert.Equal(t, 2, commits, "successful views stay committed")
	assert.Equal(t, 1, rollbacks)

	locks := db.CallsMatching(advisoryLockSQL)
	require.Len(t, locks, 3)
	assert.Equal(t, advisoryKey(OpRefreshViews, "analytics"), locks[0].Args[0])
}

func TestRefreshAllViews_UnknownSchema(t *testing.T) {
	db := coretest.New()
	olist.install(db)

	_, err := newTestService(t, db).RefreshAllViews(context.Background(), "does_not_exist")
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "schema", serr.Kind)
	assert.Empty(t, db.CallsMatching(listMatViewsSQL))

	begins, _, _ := db.TxCounts()
	assert.Zero(t, begins)
}

func TestRefreshAllViews_NoViews(t *testing.T) {
	db := coretest.New()
	olist.install(db)
	db.OnResult(listMatViewsSQL, coretest.Result{})

	res, err := newTestService(t, db).RefreshAllViews(context.Background(), "analytics")
	require.NoError(t, err)
	assert.Empty(t, res.Processed)
	assert.Empty(t, res.Failed)
}

func TestMaintenance_BusyWhenAlreadyRunning(t *testing.T) {
	db := coretest.New()
	olist.install(db)
	db.OnResult(listMatViewsSQL, coretest.Result{})
	s := newTestService(t, db)

	unlock, ok := s.tryLockMaintenance(OpRefreshViews, "analytics")
	require.True(t, ok)

	_, err := s.RefreshAllViews(context.Background(), "analytics")
	assert.ErrorIs(t, err, ErrMaintenanceBusy)

	_, err = s.ReanalyzeSchema(context.Background(), "analytics")
	assert.NotErrorIs(t, err, ErrMaintenanceBusy, "different operations do not block each other")

	unlock()
	_, err = s.RefreshAllViews(context.Background(), "analytics")
	assert.NoError(t, err)
}

func TestReanalyzeSchema(t *testing.T) {
	db := coretest.New()
	olist.install(db)
	db.OnResult(listBaseTablesSQL, coretest.Result{Rows: [][]any{{"customers"}, {"orders"}}})

	res, err := newTestService(t, db).ReanalyzeSchema(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "raw_data", res.Schema)
	assert.Equal(t, []string{"customers", "orders"}, res.Processed)

	stmts := db.CallsMatching("ANALYZE ")
	require.Len(t, stmts, 2)
	assert.Equal(t, `ANALYZE "raw_data"."customers"`, stmts[0].SQL)
	assert.True(t, stmts[0].InTx)

	timeouts := db.CallsMatching("SET LOCAL statement_timeout = 60000")
	assert.Len(t, timeouts, 2, "object timeout is applied per object")
}

func TestReanalyzeSchema_Idempotent(t *testing.T) {
	db := coretest.New()
	olist.install(db)
	db.OnResult(listBaseTablesSQL, coretest.Result{Rows: [][]any{{"customers"}, {"orders"}}})
	s := newTestService(t, db)

	first, err := s.ReanalyzeSchema(context.Background(), "raw_data")
	require.NoError(t, err)
	firstStmts := db.CallsMatching("ANALYZE ")

	second, err := s.ReanalyzeSchema(context.Background(), "raw_data")
	require.NoError(t, err)
	allStmts := db.CallsMatching("ANALYZE ")

	assert.Equal(t, first.Processed, second.Processed)
	assert.Equal(t, first.Failed, second.Failed)
	require.Len(t, allStmts, 2*len(firstStmts))
	for i, c := range firstStmts {
		assert.Equal(t, c.SQL, allStmts[len(firstStmts)+i].SQL, "second run issues the same statements")
	}
}

func TestReanalyzeSchema_TimeoutClassified(t *testing.T) {
	db := coretest.New()
	olist.install(db)
	db.OnResult(listBaseTablesSQL, coretest.Result{Rows: [][]any{{"orders"}}})
	db.OnResult(`ANALYZE "raw_data"."orders"`, coretest.Fail(&pgconn.PgError{Code: "57014"}))

	_, err := newTestService(t, db).ReanalyzeSchema(context.Background(), "raw_data")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReanalyzeSchema_DiscoveryFailure(t *testing.T) {
	db := coretest.New()
	olist.install(db)
	db.OnResult(listBaseTablesSQL, coretest.Fail(errors.New("connection reset")))

	_, err := newTestService(t, db).ReanalyzeSchema(context.Background(), "raw_data")
	require.Error(t, err)
	var be *BatchError
	assert.False(t, errors.As(err, &be))
}
