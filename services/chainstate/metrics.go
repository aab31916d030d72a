package chainstate

import (
	"sync"

	"github.com/bsv-blockchain/chainstate/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusChainStateProcessBlock    prometheus.Histogram
	prometheusChainStateBlockSize       prometheus.Histogram
	prometheusChainStateConnectBlock    prometheus.Histogram
	prometheusChainStateFlush           prometheus.Histogram
	prometheusChainStateConnected       prometheus.Counter
	prometheusChainStateDisconnected    prometheus.Counter
	prometheusChainStateInvalid         *prometheus.CounterVec
	prometheusChainStateReorgDepth      prometheus.Histogram
	prometheusChainStateHeight          prometheus.Gauge
	prometheusChainStateCoinsCacheBytes prometheus.Gauge
	prometheusChainStateState           prometheus.Gauge
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusChainStateProcessBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "chainstate",
			Name:      "process_block",
			Help:      "Histogram of ProcessNewBlock time, chain activation included",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusChainStateBlockSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "chainstate",
			Name:      "block_size",
			Help:      "Histogram of the serialized size of blocks passed to ProcessNewBlock",
			Buckets:   util.MetricsBucketsSize,
		},
	)

	prometheusChainStateConnectBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "chainstate",
			Name:      "connect_block",
			Help:      "Histogram of the time taken to connect a block to the tip",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusChainStateFlush = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "chainstate",
			Name:      "flush",
			Help:      "Histogram of the time taken to flush the index and coins to disk",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusChainStateConnected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "chainstate",
			Name:      "blocks_connected",
			Help:      "Number of blocks connected to the active chain",
		},
	)

	prometheusChainStateDisconnected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "chainstate",
			Name:      "blocks_disconnected",
			Help:      "Number of blocks disconnected from the active chain",
		},
	)

	prometheusChainStateInvalid = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Subsystem: "chainstate",
			Name:      "blocks_invalid",
			Help:      "Number of blocks found invalid, by reject reason",
		},
		[]string{"reason"},
	)

	prometheusChainStateReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Subsystem: "chainstate",
			Name:      "reorg_depth",
			Help:      "Number of blocks disconnected per reorganization",
			Buckets:   util.MetricsBucketsCount,
		},
	)

	prometheusChainStateHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chainstate",
			Subsystem: "chainstate",
			Name:      "height",
			Help:      "Height of the active chain tip",
		},
	)

	prometheusChainStateCoinsCacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chainstate",
			Subsystem: "chainstate",
			Name:      "coins_cache_bytes",
			Help:      "Estimated memory used by the coins tip cache",
		},
	)

	prometheusChainStateState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chainstate",
			Subsystem: "chainstate",
			Name:      "state",
			Help:      "Lifecycle state: 0 stopped, 1 running, 2 aborted",
		},
	)
}
