package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	candidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socwatch",
			Name:      "candidates_total",
			Help:      "Candidate incidents emitted by detectors.",
		},
		[]string{"detector"},
	)

	duplicatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socwatch",
			Name:      "candidates_duplicate_total",
			Help:      "Candidates dropped at admission because a matching incident exists.",
		},
		[]string{"detector"},
	)

	admittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socwatch",
			Name:      "incidents_admitted_total",
			Help:      "Incidents created, partitioned by severity.",
		},
		[]string{"severity"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socwatch",
			Name:      "incident_transitions_total",
			Help:      "Committed lifecycle transitions, partitioned by target status.",
		},
		[]string{"to"},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "socwatch",
			Name:      "incidents_escalated_total",
			Help:      "Incidents raised to HIGH after breaching their SLA.",
		},
	)

	taskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socwatch",
			Name:      "scheduler_runs_total",
			Help:      "Scheduled task runs, partitioned by task and outcome.",
		},
		[]string{"task", "outcome"},
	)

	detectionPassSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "socwatch",
			Name:      "detection_pass_seconds",
			Help:      "Detection pass latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
)

// Register attaches socwatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		candidatesTotal,
		duplicatesTotal,
		admittedTotal,
		transitionsTotal,
		escalationsTotal,
		taskRunsTotal,
		detectionPassSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveCandidate(detector string) {
	candidatesTotal.WithLabelValues(detector).Inc()
}

func ObserveDuplicate(detector string) {
	duplicatesTotal.WithLabelValues(detector).Inc()
}

func ObserveAdmitted(severity string) {
	admittedTotal.WithLabelValues(severity).Inc()
}

func ObserveTransition(to string) {
	transitionsTotal.WithLabelValues(to).Inc()
}

func ObserveEscalation() {
	escalationsTotal.Inc()
}

// ObserveTaskRun records one scheduled run; a nil err counts as success.
func ObserveTaskRun(task string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	taskRunsTotal.WithLabelValues(task, outcome).Inc()
}

func ObserveDetectionPass(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	detectionPassSeconds.Observe(duration.Seconds())
}
