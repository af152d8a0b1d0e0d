// Package metrics exposes optional Prometheus collectors over the
// Buffer Pool, Thread-Pool Manager, Backpressure Controller, and scan
// throughput (§4's observability callouts, SPEC_FULL §B). None of
// these self-register against the default registry — the embedding
// program decides whether and where to register them, per Design
// Notes §9's guidance against global singletons.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blake3vault/scancore/backpressure"
	"github.com/blake3vault/scancore/buf"
	"github.com/blake3vault/scancore/pool"
)

// BufferPoolCollector exports per-tier available/total/in-use gauges
// and pool-wide counters for a *buf.Pool.
type BufferPoolCollector struct {
	p *buf.Pool

	available *prometheus.Desc
	total     *prometheus.Desc
	inUse     *prometheus.Desc
	hits      *prometheus.Desc
	outOfPool *prometheus.Desc
	resizes   *prometheus.Desc
}

// NewBufferPoolCollector wraps p. Call prometheus.Registry.Register on
// the result to expose it.
func NewBufferPoolCollector(p *buf.Pool) *BufferPoolCollector {
	tierLabels := []string{"tier_size", "category"}

	return &BufferPoolCollector{
		p: p,
		available: prometheus.NewDesc("scancore_buf_tier_available", "Idle buffers currently available in this tier.", tierLabels, nil),
		total:     prometheus.NewDesc("scancore_buf_tier_total", "Total buffers allocated for this tier.", tierLabels, nil),
		inUse:     prometheus.NewDesc("scancore_buf_tier_in_use", "Buffers currently checked out from this tier.", tierLabels, nil),
		hits:      prometheus.NewDesc("scancore_buf_tier_hits_total", "Acquisitions served without growing the tier.", tierLabels, nil),
		outOfPool: prometheus.NewDesc("scancore_buf_out_of_pool_allocations_total", "Acquisitions serviced outside the pool (above MaxTierSize).", nil, nil),
		resizes:   prometheus.NewDesc("scancore_buf_resize_total", "Adaptive-sizing resize operations performed.", nil, nil),
	}
}

func (c *BufferPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.available
	ch <- c.total
	ch <- c.inUse
	ch <- c.hits
	ch <- c.outOfPool
	ch <- c.resizes
}

func (c *BufferPoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.p.Stats()

	for _, t := range stats.Tiers {
		labels := []string{strconv.Itoa(t.Size), t.Category.String()}

		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, float64(t.Available), labels...)
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(t.Total), labels...)
		ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(t.InUse), labels...)
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(t.Hits), labels...)
	}

	ch <- prometheus.MustNewConstMetric(c.outOfPool, prometheus.CounterValue, float64(stats.OutOfPoolAllocations))
	ch <- prometheus.MustNewConstMetric(c.resizes, prometheus.CounterValue, float64(stats.ResizeCount))
}

// ThreadPoolCollector exports per-class gauges for a *pool.Manager.
type ThreadPoolCollector struct {
	m *pool.Manager

	live     *prometheus.Desc
	queued   *prometheus.Desc
	active   *prometheus.Desc
	rejected *prometheus.Desc
}

// NewThreadPoolCollector wraps m.
func NewThreadPoolCollector(m *pool.Manager) *ThreadPoolCollector {
	classLabels := []string{"class"}

	return &ThreadPoolCollector{
		m:        m,
		live:     prometheus.NewDesc("scancore_pool_live_workers", "Currently live goroutine workers in this pool class.", classLabels, nil),
		queued:   prometheus.NewDesc("scancore_pool_queued_tasks", "Tasks queued awaiting a worker in this pool class.", classLabels, nil),
		active:   prometheus.NewDesc("scancore_pool_active_tasks", "Tasks currently executing in this pool class.", classLabels, nil),
		rejected: prometheus.NewDesc("scancore_pool_rejected_total", "Tasks executed via caller-runs because this pool class was saturated.", classLabels, nil),
	}
}

func (c *ThreadPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.live
	ch <- c.queued
	ch <- c.active
	ch <- c.rejected
}

func (c *ThreadPoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.m.Stats() {
		labels := []string{s.Class.String()}

		ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, float64(s.Live), labels...)
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.Queued), labels...)
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.Active), labels...)
		ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(s.Rejected), labels...)
	}
}

// BackpressureCollector exports the current level and cumulative
// transition count for a *backpressure.Controller.
type BackpressureCollector struct {
	ctrl *backpressure.Controller

	level  *prometheus.Desc
	events *prometheus.Desc
}

// NewBackpressureCollector wraps ctrl.
func NewBackpressureCollector(ctrl *backpressure.Controller) *BackpressureCollector {
	return &BackpressureCollector{
		ctrl:   ctrl,
		level:  prometheus.NewDesc("scancore_backpressure_level", "Current backpressure level in [0,1].", nil, nil),
		events: prometheus.NewDesc("scancore_backpressure_events_total", "Count of 0->greater-than-0 backpressure transitions observed.", nil, nil),
	}
}

func (c *BackpressureCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.level
	ch <- c.events
}

func (c *BackpressureCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.level, prometheus.GaugeValue, c.ctrl.Current())
	ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(c.ctrl.TotalEvents()))
}

// ScanThroughput is a simple gauge the embedding program updates after
// each completed scan (there is no live *scanner.Scanner to poll
// between scans, unlike the pool/buf/backpressure collectors above).
var ScanThroughput = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "scancore_scan_throughput_files_per_second",
	Help: "Files scanned per second in the most recently completed scan.",
})
