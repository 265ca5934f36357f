package metrics

import (
	"net/http"
	"time"

	"github.com/harun/wagateway/pkg/hub"
	"github.com/harun/wagateway/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wagateway"

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsByState         *prometheus.GaugeVec
	SessionTransitionsTotal *prometheus.CounterVec
	ReconnectsTotal         prometheus.Counter
	ReconnectDelay          prometheus.Histogram
	WatchdogFiredTotal      prometheus.Counter

	// Message metrics
	MessagesSentTotal *prometheus.CounterVec
	SendDuration      prometheus.Histogram

	// Hub metrics
	HubSubscribers     prometheus.Gauge
	HubEventsTotal     *prometheus.CounterVec
	HubEvictionsTotal  prometheus.Counter
	MaintenanceRuns    *prometheus.CounterVec
	MaintenanceLastRun prometheus.Gauge
}

var (
	_ session.Observer = (*Metrics)(nil)
	_ hub.Observer     = (*Metrics)(nil)
)

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		SessionsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions",
				Help:      "Number of sessions by state",
			},
			[]string{"state"},
		),
		SessionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_transitions_total",
				Help:      "Total number of session state transitions",
			},
			[]string{"from", "to"},
		),
		ReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_reconnects_total",
				Help:      "Total number of scheduled reconnect attempts",
			},
		),
		ReconnectDelay: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_reconnect_delay_seconds",
				Help:      "Delay before scheduled reconnect attempts in seconds",
				Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		WatchdogFiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_watchdog_fired_total",
				Help:      "Total number of sessions that did not become ready in time",
			},
		),

		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of outbound messages by status",
			},
			[]string{"status"},
		),
		SendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_send_duration_seconds",
				Help:      "Duration of outbound message sends in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		HubSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "hub_subscribers",
				Help:      "Number of attached event subscribers",
			},
		),
		HubEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hub_events_total",
				Help:      "Total number of published events by name",
			},
			[]string{"event"},
		),
		HubEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hub_evictions_total",
				Help:      "Total number of subscribers detached for falling behind",
			},
		),
		MaintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Total number of maintenance runs by status",
			},
			[]string{"status"},
		),
		MaintenanceLastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "maintenance_last_run_timestamp_seconds",
				Help:      "Unix time of the last maintenance run",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.SessionsByState)
	m.registry.MustRegister(m.SessionTransitionsTotal)
	m.registry.MustRegister(m.ReconnectsTotal)
	m.registry.MustRegister(m.ReconnectDelay)
	m.registry.MustRegister(m.WatchdogFiredTotal)

	m.registry.MustRegister(m.MessagesSentTotal)
	m.registry.MustRegister(m.SendDuration)

	m.registry.MustRegister(m.HubSubscribers)
	m.registry.MustRegister(m.HubEventsTotal)
	m.registry.MustRegister(m.HubEvictionsTotal)
	m.registry.MustRegister(m.MaintenanceRuns)
	m.registry.MustRegister(m.MaintenanceLastRun)

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Transition implements session.Observer.
func (m *Metrics) Transition(from, to session.State) {
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "none"
	}
	m.SessionTransitionsTotal.WithLabelValues(fromLabel, string(to)).Inc()
}

// Reconnect implements session.Observer.
func (m *Metrics) Reconnect(_ string, delay time.Duration) {
	m.ReconnectsTotal.Inc()
	m.ReconnectDelay.Observe(delay.Seconds())
}

// WatchdogFired implements session.Observer.
func (m *Metrics) WatchdogFired(string) {
	m.WatchdogFiredTotal.Inc()
}

// SendResult implements session.Observer.
func (m *Metrics) SendResult(err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.MessagesSentTotal.WithLabelValues(status).Inc()
	m.SendDuration.Observe(elapsed.Seconds())
}

// SubscribersChanged implements hub.Observer.
func (m *Metrics) SubscribersChanged(n int) {
	m.HubSubscribers.Set(float64(n))
}

// EventPublished implements hub.Observer.
func (m *Metrics) EventPublished(event string) {
	m.HubEventsTotal.WithLabelValues(event).Inc()
}

// SubscriberEvicted implements hub.Observer.
func (m *Metrics) SubscriberEvicted() {
	m.HubEvictionsTotal.Inc()
}

// SetSessionStates overwrites the per-state gauges. States missing from
// counts are reported as zero.
func (m *Metrics) SetSessionStates(counts map[session.State]int) {
	for _, state := range session.AllStates {
		m.SessionsByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// MaintenanceRun records one maintenance pass.
func (m *Metrics) MaintenanceRun(at time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.MaintenanceRuns.WithLabelValues(status).Inc()
	m.MaintenanceLastRun.Set(float64(at.Unix()))
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
