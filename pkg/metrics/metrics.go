// Package metrics holds the Prometheus collectors of the import API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "household"

// Skip reasons reported on RowsSkipped.
const (
	SkipDuplicate   = "duplicate"
	SkipInvalidDate = "invalid_date"
	SkipBatchFailed = "batch_failed"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	rowsParsed       prometheus.Counter
	rowErrors        prometheus.Counter
	rowsInserted     prometheus.Counter
	rowsSkipped      *prometheus.CounterVec
	batchFailures    prometheus.Counter
	mappingProposals *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rowsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "rows_parsed_total",
			Help:      "Statement rows parsed into transactions.",
		}),
		rowErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "row_errors_total",
			Help:      "Statement rows rejected with an error.",
		}),
		rowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "rows_inserted_total",
			Help:      "Transactions committed.",
		}),
		rowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "rows_skipped_total",
			Help:      "Transactions skipped during commit.",
		}, []string{"reason"}),
		batchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "batch_failures_total",
			Help:      "Insert batches that failed.",
		}),
		mappingProposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "mapping_proposals_total",
			Help:      "Category mapping proposals by source.",
		}, []string{"source"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rowsParsed,
		m.rowErrors,
		m.rowsInserted,
		m.rowsSkipped,
		m.batchFailures,
		m.mappingProposals,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveParse(rows, rowErrors int) {
	if m == nil {
		return
	}
	m.rowsParsed.Add(float64(rows))
	m.rowErrors.Add(float64(rowErrors))
}

func (m *Metrics) ObserveInserted(n int) {
	if m == nil {
		return
	}
	m.rowsInserted.Add(float64(n))
}

func (m *Metrics) ObserveSkipped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsSkipped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) ObserveBatchFailure() {
	if m == nil {
		return
	}
	m.batchFailures.Inc()
}

func (m *Metrics) ObserveProposal(source string) {
	if m == nil {
		return
	}
	m.mappingProposals.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
