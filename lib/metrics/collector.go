// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ninedoor"

// Collector exports a Metrics snapshot to Prometheus on each scrape.
type Collector struct {
	metrics *Metrics

	sessions          *prometheus.Desc
	queueDepth        *prometheus.Desc
	queueLimit        *prometheus.Desc
	shortWrites       *prometheus.Desc
	shortWriteRetries *prometheus.Desc
	backpressure      *prometheus.Desc
	uiDenies          *prometheus.Desc
	gateDenies        *prometheus.Desc
	batches           *prometheus.Desc
	latency           *prometheus.Desc
}

// NewCollector returns a collector reading m.
func NewCollector(m *Metrics) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		metrics:           m,
		sessions:          desc("sessions", "Attached Secure9P sessions."),
		queueDepth:        desc("queue_depth", "Outstanding operations across all sessions."),
		queueLimit:        desc("queue_limit", "Per-session outstanding operation limit."),
		shortWrites:       desc("short_writes_total", "Transport writes that accepted fewer bytes than requested."),
		shortWriteRetries: desc("short_write_retries_total", "Retries issued after short writes."),
		backpressure:      desc("backpressure_events_total", "Batches refused because the session queue was full."),
		uiDenies:          desc("ui_denies_total", "Operations denied by ticket scope, quota, or expiry."),
		gateDenies:        desc("gate_denies_total", "Operations denied by a lifecycle gate."),
		batches:           desc("batches_total", "Request batches processed."),
		latency:           desc("batch_latency_seconds", "Batch processing latency over the recent window.", "quantile"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{
		c.sessions, c.queueDepth, c.queueLimit, c.shortWrites, c.shortWriteRetries,
		c.backpressure, c.uiDenies, c.gateDenies, c.batches, c.latency,
	} {
		ch <- desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.metrics.Snapshot()
	gauge := func(desc *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
	}
	counter := func(desc *prometheus.Desc, value uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value))
	}
	gauge(c.sessions, float64(snapshot.Sessions))
	gauge(c.queueDepth, float64(snapshot.QueueDepth))
	gauge(c.queueLimit, float64(snapshot.QueueLimit))
	counter(c.shortWrites, snapshot.ShortWrites)
	counter(c.shortWriteRetries, snapshot.ShortWriteRetries)
	counter(c.backpressure, snapshot.BackpressureEvents)
	counter(c.uiDenies, snapshot.UIDenies)
	counter(c.gateDenies, snapshot.GateDenies)
	counter(c.batches, snapshot.Batches)
	gauge(c.latency, snapshot.P50.Seconds(), "0.5")
	gauge(c.latency, snapshot.P95.Seconds(), "0.95")
}

// Registry returns a registry holding a collector for m plus the
// standard Go runtime and process collectors.
func Registry(m *Metrics) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewCollector(m),
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return registry
}
