// Package monitoring exposes the acquisition service over HTTP: a status
// dashboard, a JSON health API, a live readings/health SSE stream, and a
// Prometheus /metrics endpoint.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"adampoller/model"
	"adampoller/sink"
)

// HealthSource is the subset of Service the collector scrapes.
type HealthSource interface {
	GetAllHealth() []model.Health
}

// SinkSource is the subset of Service the collector scrapes for sink health.
type SinkSource interface {
	SinkStats() sink.Stats
}

// Collector is a Prometheus custom collector: it reads tracker and sink
// state at scrape time rather than polling on a timer, the same
// Collect-on-scrape idiom used for exporting a single snapshot of
// connection state elsewhere in this stack.
type Collector struct {
	health HealthSource
	sink   SinkSource

	totalReads          *prometheus.Desc
	successfulReads     *prometheus.Desc
	consecutiveFailures *prometheus.Desc
	successRate         *prometheus.Desc
	avgLatencyMs        *prometheus.Desc
	status              *prometheus.Desc
	sinkQueueDepth      *prometheus.Desc
	sinkDroppedTotal    *prometheus.Desc
}

// NewCollector creates a Collector reading from the given sources.
func NewCollector(health HealthSource, sink SinkSource) *Collector {
	return &Collector{
		health: health,
		sink:   sink,
		totalReads: prometheus.NewDesc(
			"adampoller_device_total_reads",
			"Total read attempts for a device",
			[]string{"device_id"}, nil,
		),
		successfulReads: prometheus.NewDesc(
			"adampoller_device_successful_reads",
			"Successful read attempts for a device",
			[]string{"device_id"}, nil,
		),
		consecutiveFailures: prometheus.NewDesc(
			"adampoller_device_consecutive_failures",
			"Current consecutive read failures for a device",
			[]string{"device_id"}, nil,
		),
		successRate: prometheus.NewDesc(
			"adampoller_device_success_rate",
			"Read success rate percentage for a device",
			[]string{"device_id"}, nil,
		),
		avgLatencyMs: prometheus.NewDesc(
			"adampoller_device_avg_latency_ms",
			"EWMA-smoothed read latency in milliseconds",
			[]string{"device_id"}, nil,
		),
		status: prometheus.NewDesc(
			"adampoller_device_status",
			"Device status as an enum value (0=unknown,1=online,2=warning,3=error,4=offline)",
			[]string{"device_id"}, nil,
		),
		sinkQueueDepth: prometheus.NewDesc(
			"adampoller_sink_queue_depth",
			"Current number of records pending flush in the batch sink",
			nil, nil,
		),
		sinkDroppedTotal: prometheus.NewDesc(
			"adampoller_sink_dropped_total",
			"Total records dropped by the batch sink at its hard cap",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalReads
	ch <- c.successfulReads
	ch <- c.consecutiveFailures
	ch <- c.successRate
	ch <- c.avgLatencyMs
	ch <- c.status
	ch <- c.sinkQueueDepth
	ch <- c.sinkDroppedTotal
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, h := range c.health.GetAllHealth() {
		ch <- prometheus.MustNewConstMetric(c.totalReads, prometheus.CounterValue, float64(h.TotalReads), h.DeviceID)
		ch <- prometheus.MustNewConstMetric(c.successfulReads, prometheus.CounterValue, float64(h.SuccessfulReads), h.DeviceID)
		ch <- prometheus.MustNewConstMetric(c.consecutiveFailures, prometheus.GaugeValue, float64(h.ConsecutiveFailures), h.DeviceID)
		ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, float64(h.Status), h.DeviceID)

		if rate, ok := h.SuccessRate(); ok {
			ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, rate, h.DeviceID)
		}
		if h.HasAvgLatencyMs {
			ch <- prometheus.MustNewConstMetric(c.avgLatencyMs, prometheus.GaugeValue, h.AvgLatencyMs, h.DeviceID)
		}
	}

	stats := c.sink.SinkStats()
	ch <- prometheus.MustNewConstMetric(c.sinkQueueDepth, prometheus.GaugeValue, float64(stats.QueueDepth))
	ch <- prometheus.MustNewConstMetric(c.sinkDroppedTotal, prometheus.CounterValue, float64(stats.DroppedCount))
}
