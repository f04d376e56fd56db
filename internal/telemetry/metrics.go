package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "holderwatch"

// Metrics holds every collector the process exports. All methods are safe
// on a nil receiver so components can run without instrumentation.
type Metrics struct {
	syncCycles     *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	syncDropped    *prometheus.CounterVec
	fetchAttempts  *prometheus.CounterVec
	mergeOutcomes  *prometheus.CounterVec
	holders        prometheus.Gauge
	ath            prometheus.Gauge
	historySamples prometheus.Gauge
	insightRuns    *prometheus.CounterVec
	alertsFired    *prometheus.CounterVec
	wsClients      prometheus.Gauge
	httpRequests   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Completed sync cycles by result.",
		}, []string{"result"}), // "success", "failure", "discarded"

		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Wall time of one sync cycle, retries included.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		syncDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "dropped_total",
			Help:      "Sync requests dropped because a cycle was already in flight.",
		}, []string{"trigger"}),

		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_attempts_total",
			Help:      "Upstream fetch attempts by outcome kind.",
		}, []string{"outcome"}),

		mergeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "merges_total",
			Help:      "History merge outcomes.",
		}, []string{"outcome"}),

		holders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "holders_current",
			Help:      "Most recent holder count.",
		}),

		ath: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "holders_ath",
			Help:      "All-time-high holder count since process start.",
		}),

		historySamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "samples",
			Help:      "Samples currently retained in history.",
		}),

		insightRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "insight",
			Name:      "runs_total",
			Help:      "Summarization runs by result.",
		}, []string{"result"}), // "ok", "cached", "default"

		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Alerts fired by severity.",
		}, []string{"severity"}),

		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected WebSocket clients.",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route template and status code.",
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.syncCycles,
		m.syncDuration,
		m.syncDropped,
		m.fetchAttempts,
		m.mergeOutcomes,
		m.holders,
		m.ath,
		m.historySamples,
		m.insightRuns,
		m.alertsFired,
		m.wsClients,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) ObserveCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncCycles.WithLabelValues(result).Inc()
	m.syncDuration.Observe(d.Seconds())
}

func (m *Metrics) SyncDropped(trigger string) {
	if m == nil {
		return
	}
	m.syncDropped.WithLabelValues(trigger).Inc()
}

func (m *Metrics) FetchAttempt(outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MergeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.mergeOutcomes.WithLabelValues(outcome).Inc()
}

// SetSeries publishes the current value, ATH and retained sample count.
func (m *Metrics) SetSeries(current, ath int64, samples int) {
	if m == nil {
		return
	}
	m.holders.Set(float64(current))
	m.ath.Set(float64(ath))
	m.historySamples.Set(float64(samples))
}

func (m *Metrics) InsightRun(result string) {
	if m == nil {
		return
	}
	m.insightRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) AlertFired(severity string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(severity).Inc()
}

func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

func (m *Metrics) HTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
