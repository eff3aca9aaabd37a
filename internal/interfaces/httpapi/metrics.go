package httpapi

import (
	"net/http"
	"time"

	"cowindex/internal/application"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "cowindex"

// Metrics is shared by the API, the ingester and the compute consumer. Each
// binary only moves the collectors it owns. Every instance has its own
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Computations        prometheus.Counter
	ComputationFailures *prometheus.CounterVec
	ComputationDuration prometheus.Histogram

	IngestCursor      prometheus.Gauge
	IngestPages       prometheus.Counter
	IngestSettlements prometheus.Counter
	IngestLastPage    prometheus.Gauge
	IngestLastSuccess prometheus.Gauge

	KafkaErrors *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		Computations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "computations_total",
			Help:      "Total number of cowiness computations",
		}),
		ComputationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "computation_failures_total",
			Help:      "Failed cowiness computations by error class",
		}, []string{"class"}),
		ComputationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "computation_duration_seconds",
			Help:      "Wall time of one cowiness computation",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		IngestCursor: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "cursor_timestamp",
			Help:      "First trade timestamp of the newest ingested settlement",
		}),
		IngestPages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "pages_total",
			Help:      "Settlement pages published",
		}),
		IngestSettlements: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "settlements_total",
			Help:      "Settlements published",
		}),
		IngestLastPage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "last_page_size",
			Help:      "Settlements in the most recent page",
		}),
		IngestLastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "last_page_unixtime",
			Help:      "Unix time of the most recent published page",
		}),

		KafkaErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "kafka",
			Name:      "errors_total",
			Help:      "Kafka consumer errors by stage",
		}, []string{"stage"}),
	}
}

func (m *Metrics) OnComputed(duration time.Duration, err error) {
	m.Computations.Inc()
	m.ComputationDuration.Observe(duration.Seconds())
	if err != nil {
		m.ComputationFailures.WithLabelValues(application.ErrorClass(err)).Inc()
	}
}

func (m *Metrics) OnPageIngested(cursor int64, count int) {
	m.IngestCursor.Set(float64(cursor))
	m.IngestPages.Inc()
	m.IngestSettlements.Add(float64(count))
	m.IngestLastPage.Set(float64(count))
	m.IngestLastSuccess.SetToCurrentTime()
}

func (m *Metrics) SetIngestCursor(cursor int64) {
	m.IngestCursor.Set(float64(cursor))
}

func (m *Metrics) IncKafkaFetchErr()  { m.KafkaErrors.WithLabelValues("fetch").Inc() }
func (m *Metrics) IncKafkaDecodeErr() { m.KafkaErrors.WithLabelValues("decode").Inc() }
func (m *Metrics) IncKafkaFlushErr()  { m.KafkaErrors.WithLabelValues("flush").Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
