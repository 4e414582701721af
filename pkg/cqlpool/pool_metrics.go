package cqlpool

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// PoolMetrics tracks metrics for a single HostConnectionPool. Shape mirrors
// the teacher's PoolMetrics (atomic counters plus a bounded latency ring
// buffer for percentile lookups), re-themed from worker/request counters to
// connection/borrow counters.
type PoolMetrics struct {
	ConnectionsOpened  atomic.Uint64
	ConnectionsClosed  atomic.Uint64
	ConnectionsTrashed atomic.Uint64

	BorrowsTotal    atomic.Uint64
	BorrowsTimedOut atomic.Uint64
	BorrowsFailed   atomic.Uint64

	GrowthsTriggered   atomic.Uint64
	Shrinks            atomic.Uint64
	ReconnectAttempts  atomic.Uint64
	ReconnectSuccesses atomic.Uint64

	latencyMu    sync.RWMutex
	latencies    []time.Duration
	maxLatencies int
}

// NewPoolMetrics creates a new metrics tracker.
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{
		maxLatencies: 10000,
		latencies:    make([]time.Duration, 0, 1024),
	}
}

// RecordBorrowLatency records how long a BorrowConnection call took.
func (m *PoolMetrics) RecordBorrowLatency(latency time.Duration) {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()

	if len(m.latencies) >= m.maxLatencies {
		m.latencies = m.latencies[1:]
	}
	m.latencies = append(m.latencies, latency)
}

// BorrowLatencyPercentile returns an approximate percentile (0-100) over
// recorded borrow latencies.
func (m *PoolMetrics) BorrowLatencyPercentile(percentile float64) time.Duration {
	m.latencyMu.RLock()
	defer m.latencyMu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)-1) * percentile / 100.0)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// MetricsSnapshot is a point-in-time read of PoolMetrics.
type MetricsSnapshot struct {
	ConnectionsOpened  uint64
	ConnectionsClosed  uint64
	ConnectionsTrashed uint64

	BorrowsTotal    uint64
	BorrowsTimedOut uint64
	BorrowsFailed   uint64

	GrowthsTriggered   uint64
	Shrinks            uint64
	ReconnectAttempts  uint64
	ReconnectSuccesses uint64

	BorrowLatencyP50 time.Duration
	BorrowLatencyP95 time.Duration
	BorrowLatencyP99 time.Duration

	Timestamp time.Time
}

// Snapshot returns the current metrics snapshot.
func (m *PoolMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ConnectionsOpened:  m.ConnectionsOpened.Load(),
		ConnectionsClosed:  m.ConnectionsClosed.Load(),
		ConnectionsTrashed: m.ConnectionsTrashed.Load(),
		BorrowsTotal:       m.BorrowsTotal.Load(),
		BorrowsTimedOut:    m.BorrowsTimedOut.Load(),
		BorrowsFailed:      m.BorrowsFailed.Load(),
		GrowthsTriggered:   m.GrowthsTriggered.Load(),
		Shrinks:            m.Shrinks.Load(),
		ReconnectAttempts:  m.ReconnectAttempts.Load(),
		ReconnectSuccesses: m.ReconnectSuccesses.Load(),
		BorrowLatencyP50:   m.BorrowLatencyPercentile(50),
		BorrowLatencyP95:   m.BorrowLatencyPercentile(95),
		BorrowLatencyP99:   m.BorrowLatencyPercentile(99),
		Timestamp:          time.Now(),
	}
}
