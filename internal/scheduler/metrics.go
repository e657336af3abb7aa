package scheduler

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the sync Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	cyclesTotal     *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	refreshesTotal  *prometheus.CounterVec
	alertsTotal     prometheus.Counter
	positionInserts prometheus.Counter
	lastSuccess     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clima_sync_cycles_total",
				Help: "Total number of sync cycles by outcome",
			},
			[]string{"outcome"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clima_sync_cycle_duration_seconds",
				Help:    "Time taken by a full sync cycle",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		refreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clima_location_refreshes_total",
				Help: "Total number of per-location refreshes by status",
			},
			[]string{"status"}, // status: success, error
		),
		alertsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clima_alerts_total",
				Help: "Total number of temperature alerts raised",
			},
		),
		positionInserts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clima_position_inserts_total",
				Help: "Total number of current-position entries inserted at the top",
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clima_sync_last_success_timestamp_seconds",
				Help: "Unix time of the last successful sync cycle",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.cyclesTotal, m.cycleDuration, m.refreshesTotal,
		m.alertsTotal, m.positionInserts, m.lastSuccess,
	}
	var errs []error
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observeCycle(r Report) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(string(r.Outcome)).Inc()
	m.cycleDuration.Observe(r.Duration.Seconds())
	m.refreshesTotal.WithLabelValues("success").Add(float64(r.Refreshed))
	m.refreshesTotal.WithLabelValues("error").Add(float64(r.Failed))
	m.alertsTotal.Add(float64(r.Alerts))
	if r.Outcome == Success {
		m.lastSuccess.Set(float64(r.StartedAt.Add(r.Duration).Unix()))
	}
}

func (m *Metrics) positionInserted() {
	if m == nil {
		return
	}
	m.positionInserts.Inc()
}
