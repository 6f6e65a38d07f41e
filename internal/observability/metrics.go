package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stormwatch"

// Metrics holds the Prometheus counters, histograms, and gauges for the pipeline.
type Metrics struct {
	// Collector metrics.
	ReadingsCollected       *prometheus.CounterVec // labels: station
	FetchErrors             *prometheus.CounterVec // labels: station
	CollectorCycleDuration  prometheus.Histogram
	ProviderRequestDuration prometheus.Histogram

	// Detector metrics.
	EntriesProcessed  prometheus.Counter
	MalformedEntries  prometheus.Counter
	PressureDropRate  *prometheus.GaugeVec   // labels: station
	AlertsPublished   *prometheus.CounterVec // labels: channel, source={collector,detector}

	// Gateway metrics.
	GatewayConnections *prometheus.GaugeVec   // labels: mode={updates,replay,alerts}
	EventsForwarded    *prometheus.CounterVec // labels: mode

	// Supervisor metrics.
	LoopRestarts *prometheus.CounterVec // labels: loop
	LoopRunning  *prometheus.GaugeVec   // labels: loop
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ReadingsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_collected_total",
			Help:      "Readings appended to the observation stream, by station.",
		}, []string{"station"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Provider fetches that failed and were skipped, by station.",
		}, []string{"station"}),
		CollectorCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collector_cycle_duration_seconds",
			Help:      "Duration of one pass over every configured station.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ProviderRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "NWS API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		EntriesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_entries_processed_total",
			Help:      "Observation stream entries evaluated by the storm detector.",
		}),
		MalformedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_entries_total",
			Help:      "Stream entries skipped because they could not be decoded.",
		}),
		PressureDropRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pressure_drop_rate",
			Help:      "Most recent pressure fall rate in mb/hour, by station.",
		}, []string{"station"}),
		AlertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_published_total",
			Help:      "Alert notifications published, by channel and detection path.",
		}, []string{"channel", "source"}),
		GatewayConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connections",
			Help:      "Live gateway relay loops, by mode.",
		}, []string{"mode"}),
		EventsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_events_forwarded_total",
			Help:      "Events forwarded to gateway clients, by mode.",
		}, []string{"mode"}),
		LoopRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_restarts_total",
			Help:      "Restarts of a supervised loop after a store failure.",
		}, []string{"loop"}),
		LoopRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_running",
			Help:      "1 while a supervised loop is running, 0 otherwise.",
		}, []string{"loop"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReadingsCollected,
		m.FetchErrors,
		m.CollectorCycleDuration,
		m.ProviderRequestDuration,
		m.EntriesProcessed,
		m.MalformedEntries,
		m.PressureDropRate,
		m.AlertsPublished,
		m.GatewayConnections,
		m.EventsForwarded,
		m.LoopRestarts,
		m.LoopRunning,
	}
}
