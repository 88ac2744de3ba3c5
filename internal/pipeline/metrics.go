package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "fredcast"

// Metrics are the pipeline's Prometheus collectors.
type Metrics struct {
	StageDuration         *prometheus.HistogramVec
	GroupFailures         *prometheus.CounterVec
	HarmonizationFailures *prometheus.CounterVec
	PredictionsStored     *prometheus.CounterVec
	ObservationsRetrieved prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each analysis stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"group", "stage"}),
		GroupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "group_failures_total",
			Help:      "Analysis groups aborted, by stage.",
		}, []string{"group", "stage"}),
		HarmonizationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "harmonization_failures_total",
			Help:      "Series dropped because they could not be harmonized.",
		}, []string{"strategy"}),
		PredictionsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "predictions_stored_total",
			Help:      "Prediction rows persisted, by group.",
		}, []string{"group"}),
		ObservationsRetrieved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "observations_retrieved_total",
			Help:      "Raw observations returned by the retrieval client.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.StageDuration, m.GroupFailures, m.HarmonizationFailures, m.PredictionsStored, m.ObservationsRetrieved)
	}
	return m
}
