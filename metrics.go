package aio

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing. Kept verbatim from the
// teacher's metrics.go: the bucket ladder is domain-independent.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for the AIO
// engine: atomic counters plus one latency histogram shared by all
// operation types, plus retry/failure counts.
type Metrics struct {
	ReadOps    atomic.Uint64
	WriteOps   atomic.Uint64
	FsyncOps   atomic.Uint64
	FlushOps   atomic.Uint64
	WALWriteOps atomic.Uint64
	GenericWriteOps atomic.Uint64
	NopOps     atomic.Uint64

	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	SoftFailures atomic.Uint64
	HardFailures atomic.Uint64
	Retries      atomic.Uint64
	RetriesExhausted atomic.Uint64
	SubmissionFailures atomic.Uint64

	MergedChains      atomic.Uint64
	MergedChainLength atomic.Uint64 // cumulative, for average chain length

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) RecordOp(op OpType, bytes uint64, latencyNs uint64, success bool) {
	switch op {
	case OpReadBuffer:
		m.ReadOps.Add(1)
		if success {
			m.ReadBytes.Add(bytes)
		}
	case OpWriteBuffer:
		m.WriteOps.Add(1)
		if success {
			m.WriteBytes.Add(bytes)
		}
	case OpFsync, OpFsyncWAL, OpFlushRange:
		m.FsyncOps.Add(1)
	case OpWriteWAL:
		m.WALWriteOps.Add(1)
		if success {
			m.WriteBytes.Add(bytes)
		}
	case OpWriteGeneric:
		m.GenericWriteOps.Add(1)
		if success {
			m.WriteBytes.Add(bytes)
		}
	case OpNop:
		m.NopOps.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordSoftFailure()       { m.SoftFailures.Add(1) }
func (m *Metrics) RecordHardFailure()       { m.HardFailures.Add(1) }
func (m *Metrics) RecordRetry()             { m.Retries.Add(1) }
func (m *Metrics) RecordRetryExhausted()    { m.RetriesExhausted.Add(1) }
func (m *Metrics) RecordSubmissionFailure() { m.SubmissionFailures.Add(1) }

func (m *Metrics) RecordMergedChain(length int) {
	m.MergedChains.Add(1)
	m.MergedChainLength.Add(uint64(length))
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	ReadOps, WriteOps, FsyncOps, FlushOps           uint64
	WALWriteOps, GenericWriteOps, NopOps            uint64
	ReadBytes, WriteBytes                           uint64
	SoftFailures, HardFailures                      uint64
	Retries, RetriesExhausted, SubmissionFailures   uint64
	MergedChains                                    uint64
	AvgMergedChainLength                            float64
	AvgLatencyNs                                    uint64
	UptimeNs                                        uint64
	LatencyP50Ns, LatencyP99Ns, LatencyP999Ns        uint64
	LatencyHistogram                                [numLatencyBuckets]uint64
	TotalOps, TotalBytes                             uint64
	ErrorRate                                        float64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps: m.ReadOps.Load(), WriteOps: m.WriteOps.Load(),
		FsyncOps: m.FsyncOps.Load(), FlushOps: m.FlushOps.Load(),
		WALWriteOps: m.WALWriteOps.Load(), GenericWriteOps: m.GenericWriteOps.Load(),
		NopOps: m.NopOps.Load(),
		ReadBytes: m.ReadBytes.Load(), WriteBytes: m.WriteBytes.Load(),
		SoftFailures: m.SoftFailures.Load(), HardFailures: m.HardFailures.Load(),
		Retries: m.Retries.Load(), RetriesExhausted: m.RetriesExhausted.Load(),
		SubmissionFailures: m.SubmissionFailures.Load(),
		MergedChains: m.MergedChains.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.FsyncOps + snap.FlushOps +
		snap.WALWriteOps + snap.GenericWriteOps + snap.NopOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	if chainLen := m.MergedChainLength.Load(); snap.MergedChains > 0 {
		snap.AvgMergedChainLength = float64(chainLen) / float64(snap.MergedChains)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	totalFailures := snap.SoftFailures + snap.HardFailures
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalFailures) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable metrics collection, mirroring the
// teacher's Observer/NoOpObserver/MetricsObserver shape.
type Observer interface {
	ObserveOp(op OpType, bytes uint64, latencyNs uint64, success bool)
	ObserveSoftFailure()
	ObserveHardFailure()
	ObserveRetry()
	ObserveMergedChain(length int)
}

type NoOpObserver struct{}

func (NoOpObserver) ObserveOp(OpType, uint64, uint64, bool) {}
func (NoOpObserver) ObserveSoftFailure()                    {}
func (NoOpObserver) ObserveHardFailure()                    {}
func (NoOpObserver) ObserveRetry()                          {}
func (NoOpObserver) ObserveMergedChain(int)                 {}

type MetricsObserver struct {
	metrics *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{metrics: m} }

func (o *MetricsObserver) ObserveOp(op OpType, bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordOp(op, bytes, latencyNs, success)
}
func (o *MetricsObserver) ObserveSoftFailure()     { o.metrics.RecordSoftFailure() }
func (o *MetricsObserver) ObserveHardFailure()     { o.metrics.RecordHardFailure() }
func (o *MetricsObserver) ObserveRetry()           { o.metrics.RecordRetry() }
func (o *MetricsObserver) ObserveMergedChain(n int) { o.metrics.RecordMergedChain(n) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = NoOpObserver{}
