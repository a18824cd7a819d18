package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r := New("dq")

	r.ObserveRule("orders", "sql", "PASS", 10*time.Millisecond)
	r.ObserveRule("orders", "sql", "FAIL", 20*time.Millisecond)
	r.ObserveRule("orders", "sql", "FAIL", 20*time.Millisecond)
	r.PersistFailed()
	r.ObserveMaintenance("refresh_views", "ok")
	r.ObserveLoad("customers", "SUCCESS")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.ruleEvaluations.WithLabelValues("orders", "PASS")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.ruleEvaluations.WithLabelValues("orders", "FAIL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.persistFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.maintenance.WithLabelValues("refresh_views", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.loads.WithLabelValues("customers", "SUCCESS")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveRule("t", "sql", "PASS", time.Second)
		r.PersistFailed()
		r.ObserveLoad("t", "FAILED")
		r.ObserveMaintenance("analyze", "failed")
		r.ObserveRequest("/", "200")
	})
	assert.Nil(t, r.Registry())
}

func TestRecorder_Handler(t *testing.T) {
	r := New("dq")
	r.ObserveRequest("/api/rules", "200")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `dq_http_requests_total{code="200",route="/api/rules"} 1`), string(body))
}
