package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the monitoring subsystem.
type Metrics struct {
	ChecksTotal           *prometheus.CounterVec
	CheckDuration         prometheus.Histogram
	CategoriesUnavailable *prometheus.CounterVec
	TicksSkipped          prometheus.Counter
	AlertsGenerated       *prometheus.CounterVec
	ActiveMonitors        prometheus.Gauge
	NotificationsTotal    *prometheus.CounterVec
}

// NewMetrics registers and returns monitoring metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_checks_total",
			Help: "Total compliance check cycles by outcome.",
		}, []string{"outcome"}),
		CheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetwatch_check_duration_seconds",
			Help:    "Duration of compliance check cycles in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		CategoriesUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_categories_unavailable_total",
			Help: "Category fetches that failed or timed out, by category.",
		}, []string{"category"}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetwatch_ticks_skipped_total",
			Help: "Scheduled checks skipped because the previous one was still running.",
		}),
		AlertsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_alerts_generated_total",
			Help: "Alerts produced by check cycles, by severity.",
		}, []string{"severity"}),
		ActiveMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetwatch_active_monitors",
			Help: "Vehicles currently under monitoring.",
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_notifications_total",
			Help: "Critical alert notification attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.ChecksTotal,
		m.CheckDuration,
		m.CategoriesUnavailable,
		m.TicksSkipped,
		m.AlertsGenerated,
		m.ActiveMonitors,
		m.NotificationsTotal,
	)

	return m
}
