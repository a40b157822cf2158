package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveParse(10, 2)
	m.ObserveInserted(7)
	m.ObserveSkipped(SkipDuplicate, 3)
	m.ObserveSkipped(SkipInvalidDate, 0)
	m.ObserveBatchFailure()
	m.ObserveProposal("keyword")
	m.ObserveProposal("keyword")

	assert.Equal(t, 10.0, counterValue(t, m.rowsParsed))
	assert.Equal(t, 2.0, counterValue(t, m.rowErrors))
	assert.Equal(t, 7.0, counterValue(t, m.rowsInserted))
	assert.Equal(t, 3.0, counterValue(t, m.rowsSkipped.WithLabelValues(SkipDuplicate)))
	assert.Equal(t, 1.0, counterValue(t, m.batchFailures))
	assert.Equal(t, 2.0, counterValue(t, m.mappingProposals.WithLabelValues("keyword")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveParse(1, 1)
		m.ObserveInserted(1)
		m.ObserveSkipped(SkipBatchFailed, 1)
		m.ObserveBatchFailure()
		m.ObserveProposal("none")
		m.ObserveHTTP(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodPost, "/import/parse", http.StatusOK, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "household_http_request_duration_seconds")
	assert.Contains(t, rec.Body.String(), `route="/import/parse"`)
}
