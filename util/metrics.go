package util

// MetricsBucketsMicroSeconds defines histogram buckets for microsecond-level latency measurements.
// Buckets range from 128μs to 262ms in exponential progression.
var MetricsBucketsMicroSeconds = []float64{
	128e-6, 256e-6, 512e-6, 1024e-6, 2048e-6, 4096e-6, 8192e-6, 16384e-6, 32768e-6, 65536e-6, 131072e-6, 262144e-6,
}

// MetricsBucketsMilliSeconds defines histogram buckets for millisecond-level latency measurements.
// Buckets range from 1ms to 4s in exponential progression.
var MetricsBucketsMilliSeconds = []float64{
	1e-3, 2e-3, 4e-3, 16e-3, 32e-3, 64e-3, 128e-3, 256e-3, 512e-3, 1024e-3, 2048e-3, 4096e-3,
}

// MetricsBucketsSize defines histogram buckets for transaction and block size measurements.
// Buckets range from 128 bytes to 4MB in exponential progression.
var MetricsBucketsSize = []float64{
	128, 256, 512, 1024, 2048, 4096, 16384, 65536, 262144, 1048576, 2097152, 4194304,
}

// MetricsBucketsCount defines histogram buckets for small counts such as reorg depths.
var MetricsBucketsCount = []float64{
	1, 2, 3, 4, 6, 8, 12, 16, 32, 64, 128, 256,
}
