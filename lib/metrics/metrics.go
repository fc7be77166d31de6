// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds NineDoor's counters. A Metrics value is built
// once per server and passed to everything that counts; tests build
// their own. Values are exported through /proc files and, in the host
// binary, a Prometheus collector.
package metrics

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLatencySamples is the size of the batch latency window.
const DefaultLatencySamples = 256

// Metrics is the set of server counters. All methods are safe for
// concurrent use.
type Metrics struct {
	sessions          atomic.Int64
	queueDepth        atomic.Int64
	queueLimit        atomic.Int64
	shortWrites       atomic.Uint64
	shortWriteRetries atomic.Uint64
	backpressure      atomic.Uint64
	uiDenies          atomic.Uint64
	gateDenies        atomic.Uint64
	batches           atomic.Uint64
	latency           *LatencyWindow
}

// New returns zeroed counters reporting queueLimit as the per-session
// queue limit.
func New(queueLimit int) *Metrics {
	m := &Metrics{latency: NewLatencyWindow(DefaultLatencySamples)}
	m.queueLimit.Store(int64(queueLimit))
	return m
}

func (m *Metrics) SessionOpened()      { m.sessions.Add(1) }
func (m *Metrics) SessionClosed()      { m.sessions.Add(-1) }
func (m *Metrics) QueueReserved(n int) { m.queueDepth.Add(int64(n)) }
func (m *Metrics) QueueReleased(n int) { m.queueDepth.Add(-int64(n)) }
func (m *Metrics) ShortWrite()         { m.shortWrites.Add(1) }
func (m *Metrics) ShortWriteRetry()    { m.shortWriteRetries.Add(1) }
func (m *Metrics) BackpressureEvent()  { m.backpressure.Add(1) }
func (m *Metrics) UIDeny()             { m.uiDenies.Add(1) }
func (m *Metrics) GateDeny()           { m.gateDenies.Add(1) }

// ObserveBatch records how long one batch took to process.
func (m *Metrics) ObserveBatch(elapsed time.Duration) {
	m.batches.Add(1)
	m.latency.Observe(elapsed)
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Sessions           int64
	QueueDepth         int64
	QueueLimit         int64
	ShortWrites        uint64
	ShortWriteRetries  uint64
	BackpressureEvents uint64
	UIDenies           uint64
	GateDenies         uint64
	Batches            uint64
	P50                time.Duration
	P95                time.Duration
}

// Snapshot reads every counter.
func (m *Metrics) Snapshot() Snapshot {
	p50, p95 := m.latency.Percentiles()
	return Snapshot{
		Sessions:           m.sessions.Load(),
		QueueDepth:         m.queueDepth.Load(),
		QueueLimit:         m.queueLimit.Load(),
		ShortWrites:        m.shortWrites.Load(),
		ShortWriteRetries:  m.shortWriteRetries.Load(),
		BackpressureEvents: m.backpressure.Load(),
		UIDenies:           m.uiDenies.Load(),
		GateDenies:         m.gateDenies.Load(),
		Batches:            m.batches.Load(),
		P50:                p50,
		P95:                p95,
	}
}

// LatencyWindow keeps the most recent samples for percentile queries.
type LatencyWindow struct {
	mutex   sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

// NewLatencyWindow returns a window of size samples.
func NewLatencyWindow(size int) *LatencyWindow {
	return &LatencyWindow{samples: make([]time.Duration, max(1, size))}
}

// Observe adds a sample, displacing the oldest once full.
func (w *LatencyWindow) Observe(sample time.Duration) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.samples[w.next] = sample
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

// Percentiles returns the nearest-rank 50th and 95th percentiles, or
// zeros when no samples have been observed.
func (w *LatencyWindow) Percentiles() (time.Duration, time.Duration) {
	w.mutex.Lock()
	count := w.next
	if w.full {
		count = len(w.samples)
	}
	sorted := slices.Clone(w.samples[:count])
	w.mutex.Unlock()

	if len(sorted) == 0 {
		return 0, 0
	}
	slices.Sort(sorted)
	return nearestRank(sorted, 50), nearestRank(sorted, 95)
}

func nearestRank(sorted []time.Duration, percentile int) time.Duration {
	rank := (percentile*len(sorted) + 99) / 100
	return sorted[max(0, rank-1)]
}
