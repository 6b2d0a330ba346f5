package priosched

import "sync/atomic"

// schedulerMetrics holds plain atomic counters, simplified from
// eventloop/metrics.go's psquare latency-percentile estimator since
// nothing in this spec calls for latency histograms — just lifecycle and
// throughput counts suitable for a Metrics() snapshot.
type schedulerMetrics struct {
	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	cancelled  atomic.Int64
	workers    atomic.Int32
	idleWorkers atomic.Int32
}

// Metrics is a read-only snapshot of a PriorityScheduler's running state,
// returned by PriorityScheduler.Metrics.
type Metrics struct {
	HighQueueDepth      int
	LowQueueDepth       int
	StarvableQueueDepth int
	Workers             int
	IdleWorkers         int
	Dispatched          int64
	Completed           int64
	Failed              int64
	Cancelled           int64
}
