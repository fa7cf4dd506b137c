package bridge

import "github.com/prometheus/client_golang/prometheus"

const namespace = "callengine"

var turnLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "bridge",
	Name:      "turn_latency_seconds",
	Help:      "Per-turn latency breakdown for media bridge sessions.",
	Buckets:   prometheus.DefBuckets,
}, []string{"stage"})

var sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "bridge",
	Name:      "sessions_active",
	Help:      "Number of bridge sessions currently streaming.",
})

var sessionsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "bridge",
	Name:      "sessions_failed_total",
	Help:      "Number of bridge sessions that entered FAILED.",
})

func init() {
	prometheus.MustRegister(turnLatencySeconds, sessionsActive, sessionsFailedTotal)
}

func recordTurnLatency(stages map[string]float64) {
	for stage, seconds := range stages {
		turnLatencySeconds.WithLabelValues(stage).Observe(seconds)
	}
}
