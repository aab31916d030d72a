package blockvalidation

import (
	"sync"

	"github.com/bsv-blockchain/chainstate/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlockValidationCheckBlock    prometheus.Histogram
	prometheusBlockValidationTimeTooNew    prometheus.Counter
	prometheusBlockValidationStakeFailures prometheus.Counter
)

var (
	prometheusMetricsInitOnce sync.Once
)

// initPrometheusMetrics registers the block validation metrics once per process.
func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlockValidationCheckBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "blockvalidation",
			Name:      "check_block",
			Help:      "Histogram of context-free block check time",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusBlockValidationTimeTooNew = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "blockvalidation",
			Name:      "time_too_new",
			Help:      "Number of blocks rejected for a timestamp in the future",
		},
	)

	prometheusBlockValidationStakeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "blockvalidation",
			Name:      "stake_failures",
			Help:      "Number of proof-of-stake blocks failing the stake kernel check",
		},
	)
}
