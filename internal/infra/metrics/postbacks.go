package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		postbacksTotal,
		postbackLatencyMs,
		postbackRetriesTotal,
	)
}

var (
	postbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbacks_total",
			Help: "Gateway postbacks by outcome (handled/unmatched/bad_signature/error).",
		},
		[]string{"outcome"},
	)

	postbackLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postback_latency_ms",
			Help:    "Postback handling latency distribution in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600, 3000},
		},
	)

	postbackRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postback_retries_total",
			Help: "Postbacks that waited for the local payment record to appear.",
		},
	)
)

func IncPostback(outcome string) {
	postbacksTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObservePostbackLatency(ms int) {
	postbackLatencyMs.Observe(float64(ms))
}

func IncPostbackRetry() { postbackRetriesTotal.Inc() }
