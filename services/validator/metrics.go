/*
Package validator implements transaction and script validation for the chainstate engine.

This file implements Prometheus metrics collection for the validator,
providing monitoring of script verification and the script execution cache.
*/
package validator

import (
	"sync"

	"github.com/bsv-blockchain/chainstate/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics collectors
var (
	// prometheusScriptCheck measures individual input script executions
	prometheusScriptCheck prometheus.Histogram

	// prometheusScriptCheckFailures counts input scripts that failed verification
	prometheusScriptCheckFailures prometheus.Counter

	// prometheusScriptCacheHits counts input scripts skipped thanks to the script cache
	prometheusScriptCacheHits prometheus.Counter

	// prometheusCheckQueueWait measures how long a block waits for its script checks
	prometheusCheckQueueWait prometheus.Histogram

	// prometheusInputsChecked measures full CheckInputs calls
	prometheusInputsChecked prometheus.Histogram

	// prometheusInvalidTransactions counts transactions failing CheckTransaction or CheckInputs
	prometheusInvalidTransactions prometheus.Counter
)

// Synchronization primitives
var (
	// prometheusMetricsInitOnce ensures metrics are initialized only once
	prometheusMetricsInitOnce sync.Once
)

// initPrometheusMetrics initializes all Prometheus metrics
func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusScriptCheck = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "validator",
			Name:      "script_check",
			Help:      "Histogram of input script executions",
			Buckets:   util.MetricsBucketsMicroSeconds,
		},
	)

	prometheusScriptCheckFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "validator",
			Name:      "script_check_failures",
			Help:      "Number of input scripts that failed verification",
		},
	)

	prometheusScriptCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "validator",
			Name:      "script_cache_hits",
			Help:      "Number of input scripts found in the script execution cache",
		},
	)

	prometheusCheckQueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "validator",
			Name:      "check_queue_wait",
			Help:      "Histogram of time spent waiting for queued script checks",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusInputsChecked = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "validator",
			Name:      "check_inputs",
			Help:      "Histogram of transaction input checks",
			Buckets:   util.MetricsBucketsMicroSeconds,
		},
	)

	prometheusInvalidTransactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "validator",
			Name:      "invalid_transactions",
			Help:      "Number of transactions found invalid by the validator",
		},
	)
}
