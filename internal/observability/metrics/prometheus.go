// Package metrics provides Prometheus metrics for the decision support core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	ValidationsTotal  prometheus.Counter
	ValidationAlerts  *prometheus.CounterVec
	ValidationErrors  prometheus.Counter
	CyclesStarted     prometheus.Counter
	CyclesRefused     prometheus.Counter
	CycleDuration     prometheus.Histogram
	PatientsEvaluated prometheus.Counter
	PatientsSkipped   *prometheus.CounterVec
	AlertsRaised      *prometheus.CounterVec
	AlertsSuppressed  prometheus.Counter
	AlertsDelivered   prometheus.Counter
	AlertsDegraded    prometheus.Counter
	ChannelDeliveries *prometheus.CounterVec
	ActiveAdmissions  prometheus.Gauge
	VitalsIngested    prometheus.Counter
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		ValidationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescription_validations_total",
			Help: "Total prescription safety validations performed",
		}),
		ValidationAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prescription_safety_alerts_total",
			Help: "Safety alerts emitted by validation, by type and severity",
		}, []string{"type", "severity"}),
		ValidationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescription_validation_errors_total",
			Help: "Validation calls that failed on bad input or missing data",
		}),
		CyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_cycles_started_total",
			Help: "Monitoring cycles started",
		}),
		CyclesRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_cycles_refused_total",
			Help: "Cycles refused because the previous cycle was still running",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_cycle_duration_seconds",
			Help:    "Monitoring cycle duration",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		PatientsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_patients_evaluated_total",
			Help: "Patients successfully scored",
		}),
		PatientsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_patients_skipped_total",
			Help: "Patients skipped for a cycle, by reason",
		}, []string{"reason"}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_alerts_raised_total",
			Help: "Risk alerts handed to the dispatcher, by level",
		}, []string{"level"}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risk_alerts_suppressed_total",
			Help: "Assessments suppressed by dedup policy",
		}),
		AlertsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risk_alerts_delivered_total",
			Help: "Alerts accepted by at least one channel",
		}),
		AlertsDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risk_alerts_degraded_total",
			Help: "Alerts no channel could deliver",
		}),
		ChannelDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_channel_deliveries_total",
			Help: "Per-channel delivery outcomes",
		}, []string{"channel", "outcome"}),
		ActiveAdmissions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_active_admissions",
			Help: "Active admissions seen at the start of the last cycle",
		}),
		VitalsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitals_snapshots_ingested_total",
			Help: "Vitals snapshots consumed from the feed",
		}),
	}

	prometheus.MustRegister(
		m.ValidationsTotal,
		m.ValidationAlerts,
		m.ValidationErrors,
		m.CyclesStarted,
		m.CyclesRefused,
		m.CycleDuration,
		m.PatientsEvaluated,
		m.PatientsSkipped,
		m.AlertsRaised,
		m.AlertsSuppressed,
		m.AlertsDelivered,
		m.AlertsDegraded,
		m.ChannelDeliveries,
		m.ActiveAdmissions,
		m.VitalsIngested,
	)

	return m
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
