package contract

import (
	"sync"

	"github.com/bsv-blockchain/chainstate/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusContractExecutions        prometheus.Counter
	prometheusContractExceptions        prometheus.Counter
	prometheusContractExecutionDuration prometheus.Histogram
	prometheusContractGas               prometheus.Histogram
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusContractExecutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "contract",
			Name:      "executions",
			Help:      "Number of contract calls executed",
		},
	)

	prometheusContractExceptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "contract",
			Name:      "exceptions",
			Help:      "Number of contract calls that ended in an exception",
		},
	)

	prometheusContractExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "contract",
			Name:      "execution_duration",
			Help:      "Histogram of contract call execution time",
			Buckets:   util.MetricsBucketsMicroSeconds,
		},
	)

	prometheusContractGas = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "contract",
			Name:      "gas_used",
			Help:      "Histogram of gas used per contract call",
			Buckets:   prometheus.ExponentialBuckets(1_000, 4, 10),
		},
	)
}
