package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/warehouse-dq/internal/core/coretest"
)

func int64p(v int64) *int64 { return &v }

func TestRecordLoad_Validation(t *testing.T) {
	tests := []struct {
		name      string
		in        NewLoadRecord
		wantField string
	}{
		{"missing table", NewLoadRecord{Status: LoadSuccess}, "table_name"},
		{"unknown status", NewLoadRecord{TableName: "orders", Status: "DONE"}, "load_status"},
		{"negative rows", NewLoadRecord{TableName: "orders", Status: LoadSuccess, RowsLoaded: int64p(-1)}, "rows_loaded"},
		{"negative duration", NewLoadRecord{TableName: "orders", Status: LoadSuccess, DurationSeconds: -2}, "load_duration_seconds"},
		{"failed without message", NewLoadRecord{TableName: "orders", Status: LoadFailed}, "error_message"},
		{"failed with rows", NewLoadRecord{TableName: "orders", Status: LoadFailed, ErrorMessage: "copy aborted", RowsLoaded: int64p(120)}, "rows_loaded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := coretest.New()
			_, err := newTestService(t, db).RecordLoad(context.Background(), tt.in)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.Empty(t, db.Calls())
		})
	}
}

func TestRecordLoad_Success(t *testing.T) {
	db := coretest.New()
	loadedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var got []any
	db.On(insertLoadSQL, func(args []any) coretest.Result {
		got = args
		return coretest.Row(int64(5), pgtype.Timestamptz{Time: loadedAt, Valid: true})
	})

	rec, err := newTestService(t, db).RecordLoad(context.Background(), NewLoadRecord{
		TableName:       "orders",
		RowsLoaded:      int64p(99441),
		Status:          "partial",
		ErrorMessage:    "12 rows rejected",
		DurationSeconds: 4.2,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), rec.ID)
	assert.Equal(t, loadedAt, rec.LoadedAt)
	assert.Equal(t, LoadPartial, rec.Status)
	assert.Equal(t, "raw_data", rec.SchemaName)

	require.Len(t, got, 7)
	assert.Equal(t, pgtype.Timestamptz{}, got[2], "server clock when no timestamp given")
	assert.Equal(t, "PARTIAL", got[4])
	assert.Equal(t, pgtype.Text{String: "12 rows rejected", Valid: true}, got[5])
}

func TestRecordMetric_EncodesDetails(t *testing.T) {
	db := coretest.New()
	sink := &metricSink{}
	sink.install(db)

	v := 3.0
	saved, err := newTestService(t, db).RecordMetric(context.Background(), QualityMetricRecord{
		TableName:   "orders",
		MetricName:  "orders_status_known",
		MetricValue: &v,
		Status:      StatusFail,
		Details:     MetricDetails{RuleID: 2, RunID: "run-1", Expected: "0", Actual: "3"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.ID)
	assert.False(t, saved.CheckedAt.IsZero())

	recs := sink.records()
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), recs[0].Details.RuleID)
	assert.Equal(t, "3", recs[0].Details.Actual)
}

func TestRecordMetric_RequiresNames(t *testing.T) {
	_, err := newTestService(t, coretest.New()).RecordMetric(context.Background(), QualityMetricRecord{TableName: "orders"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListQualityMetrics(t *testing.T) {
	db := coretest.New()
	details, err := json.Marshal(MetricDetails{RuleID: 7, RunID: "run-9", ErrorClass: classTimeout})
	require.NoError(t, err)

	var got []any
	db.On(listMetricsSQL, func(args []any) coretest.Result {
		got = args
		return coretest.Result{Rows: [][]any{
			{int64(11), pgtype.Timestamptz{Time: time.Now(), Valid: true}, "orders", "slow_rule",
				pgtype.Float8{}, "FAIL", details},
		}}
	})

	out, err := newTestService(t, db).ListQualityMetrics(context.Background(), HistoryFilter{
		TableName: "orders",
		Status:    "fail",
		Limit:     5000,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].MetricValue)
	assert.Equal(t, StatusFail, out[0].Status)
	assert.Equal(t, int64(7), out[0].Details.RuleID)
	assert.Equal(t, classTimeout, out[0].Details.ErrorClass)

	require.Len(t, got, 7)
	assert.Equal(t, "FAIL", got[1], "status filter is upper-cased")
	assert.Equal(t, pgtype.Timestamptz{}, got[3], "open window")
	assert.Equal(t, MaxHistoryLimit, got[5], "limit is clamped")
	assert.Equal(t, 0, got[6])
}

func TestListLoadHistory(t *testing.T) {
	db := coretest.New()
	db.OnResult(listLoadsSQL, coretest.Result{Rows: [][]any{
		{int64(2), "orders", "raw_data", pgtype.Timestamptz{Time: time.Now(), Valid: true},
			pgtype.Int8{Int64: 10, Valid: true}, "SUCCESS", pgtype.Text{}, 1.5},
		{int64(1), "orders", "raw_data", pgtype.Timestamptz{Time: time.Now(), Valid: true},
			pgtype.Int8{}, "FAILED", pgtype.Text{String: "file missing", Valid: true}, 0.1},
	}})

	out, err := newTestService(t, db).ListLoadHistory(context.Background(), HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].RowsLoaded)
	assert.Equal(t, int64(10), *out[0].RowsLoaded)
	assert.Nil(t, out[1].RowsLoaded)
	assert.Equal(t, "file missing", out[1].ErrorMessage)
}

func TestLatestMetrics_PassesTableFilter(t *testing.T) {
	db := coretest.New()
	var got []any
	db.On(latestMetricsSQL, func(args []any) coretest.Result {
		got = args
		return coretest.Result{}
	})

	out, err := newTestService(t, db).LatestMetrics(context.Background(), "customers")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []any{"customers"}, got)
}

func TestHistoryFilter_Window(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f, to, limit, offset := HistoryFilter{From: from, Offset: -3}.window()
	assert.True(t, f.Valid)
	assert.Equal(t, from, f.Time)
	assert.False(t, to.Valid)
	assert.Equal(t, DefaultHistoryLimit, limit)
	assert.Zero(t, offset)
}
