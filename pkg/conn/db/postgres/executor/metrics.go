package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	callDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	failures     *prometheus.CounterVec
	resets       prometheus.Counter
}

func newMetrics(r prometheus.Registerer) *metrics {
	return &metrics{
		callDuration: promauto.With(r).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xtstore_db_call_duration_seconds",
			Help:    "Time taken by a statement, including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"label"}),
		retries: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "xtstore_db_call_retries_total",
			Help: "Total number of retried attempts.",
		}, []string{"label"}),
		failures: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "xtstore_db_call_failures_total",
			Help: "Total number of failed attempts, by failure class.",
		}, []string{"label", "class"}),
		resets: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "xtstore_db_connection_resets_total",
			Help: "Total number of connection replacements.",
		}),
	}
}
