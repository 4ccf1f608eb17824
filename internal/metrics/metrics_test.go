package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAndRetry(t *testing.T) {
	m := New()
	m.Observe("store", OutcomeSuccess, time.Now())
	m.Observe("store", OutcomeSuccess, time.Now())
	m.Observe("store", OutcomeRejected, time.Now())
	m.Retry("store")
	m.SetLive(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ops.WithLabelValues("store", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("store", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("store")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.live))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe("store", OutcomeSuccess, time.Now())
	m.Retry("store")
	m.SetLive(1)
	assert.NotNil(t, m.Handler())
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Observe("retrieve", OutcomeSuccess, time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `memory_store_operations_total{op="retrieve",outcome="success"} 1`)
}
