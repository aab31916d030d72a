package mempool

import (
	"sync"

	"github.com/bsv-blockchain/chainstate/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusMempoolAccept   prometheus.Histogram
	prometheusMempoolAccepted prometheus.Counter
	prometheusMempoolRejected *prometheus.CounterVec
	prometheusMempoolRemoved  *prometheus.CounterVec
	prometheusMempoolSize     prometheus.Gauge
	prometheusMempoolBytes    prometheus.Gauge
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusMempoolAccept = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "mempool",
			Name:      "accept",
			Help:      "Histogram of transaction admission time",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusMempoolAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "mempool",
			Name:      "accepted",
			Help:      "Number of transactions accepted into the mempool",
		},
	)

	prometheusMempoolRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "mempool",
			Name:      "rejected",
			Help:      "Number of transactions rejected by the mempool, by reject reason",
		},
		[]string{"reason"},
	)

	prometheusMempoolRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "mempool",
			Name:      "removed",
			Help:      "Number of transactions removed from the mempool, by removal reason",
		},
		[]string{"reason"},
	)

	prometheusMempoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chainstate",
			Subsystem: "mempool",
			Name:      "size",
			Help:      "Number of transactions in the mempool",
		},
	)

	prometheusMempoolBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chainstate",
			Subsystem: "mempool",
			Name:      "bytes",
			Help:      "Virtual size of the transactions in the mempool",
		},
	)
}
