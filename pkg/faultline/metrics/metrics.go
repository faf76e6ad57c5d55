// Package metrics exposes the pipeline's queue statistics as
// prometheus collectors for local diagnostics. Nothing here is
// transmitted with report batches.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/faultline/faultline-go/pkg/faultline"
)

// StatisticsSource serves queue statistics snapshots. Both
// *faultline.Pipeline and *faultline.Queue satisfy this.
type StatisticsSource interface {
	Statistics() faultline.Statistics
}

var (
	descQueueDepth = prometheus.NewDesc(
		"faultline_queue_depth",
		"Number of classified records awaiting the next flush.",
		nil, nil,
	)
	descBatchesSent = prometheus.NewDesc(
		"faultline_batches_sent_total",
		"Report batches accepted by a backend.",
		nil, nil,
	)
	descBatchesDropped = prometheus.NewDesc(
		"faultline_batches_dropped_total",
		"Report batches lost after the retry cap or dispatch backlog.",
		nil, nil,
	)
	descRecordsDropped = prometheus.NewDesc(
		"faultline_records_dropped_total",
		"Records evicted by the queue bound before flushing.",
		nil, nil,
	)
	descRecordsSampled = prometheus.NewDesc(
		"faultline_records_sampled_out_total",
		"Records logged locally but excluded from transmission by sampling.",
		nil, nil,
	)
	descDispatchRetries = prometheus.NewDesc(
		"faultline_dispatch_retries_total",
		"Batch delivery attempts beyond the first.",
		nil, nil,
	)
	descLastFlush = prometheus.NewDesc(
		"faultline_last_flush_timestamp_seconds",
		"Unix time of the most recent batch flush.",
		nil, nil,
	)
)

// Collector adapts a StatisticsSource to prometheus.Collector.
type Collector struct {
	source StatisticsSource
}

// NewCollector creates a collector reading from source. Register it on
// the host application's registry:
//
//	prometheus.MustRegister(metrics.NewCollector(pipeline))
func NewCollector(source StatisticsSource) *Collector {
	return &Collector{source: source}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descQueueDepth
	ch <- descBatchesSent
	ch <- descBatchesDropped
	ch <- descRecordsDropped
	ch <- descRecordsSampled
	ch <- descDispatchRetries
	ch <- descLastFlush
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Statistics()

	ch <- prometheus.MustNewConstMetric(descQueueDepth, prometheus.GaugeValue, float64(s.QueueDepth))
	ch <- prometheus.MustNewConstMetric(descBatchesSent, prometheus.CounterValue, float64(s.BatchesSent))
	ch <- prometheus.MustNewConstMetric(descBatchesDropped, prometheus.CounterValue, float64(s.BatchesDropped))
	ch <- prometheus.MustNewConstMetric(descRecordsDropped, prometheus.CounterValue, float64(s.RecordsDropped))
	ch <- prometheus.MustNewConstMetric(descRecordsSampled, prometheus.CounterValue, float64(s.RecordsSampledOut))
	ch <- prometheus.MustNewConstMetric(descDispatchRetries, prometheus.CounterValue, float64(s.DispatchRetries))

	var lastFlush float64
	if !s.LastFlush.IsZero() {
		lastFlush = float64(s.LastFlush.Unix())
	}
	ch <- prometheus.MustNewConstMetric(descLastFlush, prometheus.GaugeValue, lastFlush)
}
