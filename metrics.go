package vedra

import "github.com/prometheus/client_golang/prometheus"

var MatchCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vedra",
	Subsystem: "match",
	Name:      "lookups",
}, []string{"result"})

var FilterErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vedra",
	Subsystem: "match",
	Name:      "filter_errors",
}, []string{"index"})

var DispatchCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vedra",
	Subsystem: "dispatch",
	Name:      "documents",
}, []string{"index", "mode", "result"})

var QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "vedra",
	Subsystem: "dispatch",
	Name:      "queue_depth",
}, []string{"shard"})

var IndexDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "vedra",
	Subsystem: "dispatch",
	Name:      "index_duration_seconds",
	Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
}, []string{"index"})

var EventCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vedra",
	Subsystem: "events",
	Name:      "applied",
}, []string{"type", "result"})

func registerMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		MatchCount,
		FilterErrors,
		DispatchCount,
		QueueDepth,
		IndexDuration,
		EventCount,
	)
}
