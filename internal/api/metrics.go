package api

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/events"
	"github.com/AaronLay10/SentientLock/internal/orchestrator"
	"github.com/AaronLay10/SentientLock/internal/version"
)

// Metrics owns the orchestrator's Prometheus registry. Most series are
// read at scrape time from the host and the event buffer.
type Metrics struct {
	registry  *prometheus.Registry
	startTime time.Time
	submits   *prometheus.HistogramVec
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// NewMetrics registers every series for host.
func NewMetrics(host *orchestrator.Host) *Metrics {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}
	reg := prometheus.WrapRegistererWith(prometheus.Labels{
		"session":  host.SessionID(),
		"instance": hostname,
		"version":  version.Version,
	}, m.registry)
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentientlock_uptime_seconds",
		Help: "Number of seconds since the orchestrator started",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "sentientlock_events_total",
		Help: "Total number of events emitted since startup",
	}, func() float64 { return float64(events.TotalCount()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentientlock_ws_clients",
		Help: "Number of active WebSocket event subscribers",
	}, func() float64 { return float64(events.SubscriberCount()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentientlock_orchestrator_ready",
		Help: "Whether the host replica is running (1) or not (0)",
	}, func() float64 { orch, _, _ := readinessSnapshot(); return boolGauge(orch) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentientlock_mqtt_connected",
		Help: "Whether the MQTT broker is connected (1) or not (0)",
	}, func() float64 { _, ok, _ := readinessSnapshot(); return boolGauge(ok) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentientlock_postgres_connected",
		Help: "Whether PostgreSQL is connected (1) or not (0)",
	}, func() float64 { _, _, ok := readinessSnapshot(); return boolGauge(ok) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentientlock_log_head",
		Help: "Last seq assigned by the sequencer",
	}, func() float64 { return float64(host.Stats().Head) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentientlock_log_applied",
		Help: "Last seq applied by the host replica",
	}, func() float64 { return float64(host.Stats().Applied) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "sentientlock_calls_appended_total",
		Help: "Calls appended to the log",
	}, func() float64 { return float64(host.Stats().Appended) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "sentientlock_calls_rejected_total",
		Help: "Calls rejected by the sequencer",
	}, func() float64 { return float64(host.Stats().Rejected) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "sentientlock_calls_duplicate_total",
		Help: "Redelivered calls answered with their original entry",
	}, func() float64 { return float64(host.Stats().Duplicates) })

	rt := host.Runtime()
	for _, id := range rt.PuzzleIDs() {
		id := id
		promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"puzzle_id": id}, reg)).
			NewGaugeFunc(prometheus.GaugeOpts{
				Name: "sentientlock_lock_unlocked",
				Help: "Whether the lock is open (1) or locked (0)",
			}, func() float64 {
				st, _ := rt.Status(id, false)
				return boolGauge(st.IsResolved())
			})
	}

	m.submits = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentientlock_submit_duration_seconds",
		Help:    "Latency of HTTP call submissions",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"result"})

	return m
}

// ObserveSubmit records one submission by result class.
func (m *Metrics) ObserveSubmit(d time.Duration, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, channel.ErrDuplicate):
		result = "duplicate"
	default:
		result = "rejected"
	}
	m.submits.WithLabelValues(result).Observe(d.Seconds())
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
