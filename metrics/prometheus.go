package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every exported metric name.
const Namespace = "ucdsync"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(s Snapshot) int64
}

// PrometheusCollector exports a Collector's counters to Prometheus.
// Values are read from a Snapshot on every scrape.
type PrometheusCollector struct {
	source   *Collector
	counters []counterDesc
}

// NewPrometheusCollector creates an exporter for c. The storage and state
// backend dimensions become constant labels.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	snap := c.Snapshot()
	labels := prometheus.Labels{
		"storage_backend": snap.StorageBackend,
		"state_backend":   snap.StateBackend,
	}
	counter := func(name, help string, value func(s Snapshot) int64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, nil, labels),
			value: value,
		}
	}

	return &PrometheusCollector{
		source: c,
		counters: []counterDesc{
			counter("workflows_started_total", "Workflow runs started",
				func(s Snapshot) int64 { return s.WorkflowsStarted }),
			counter("workflows_completed_total", "Workflow runs that reached complete",
				func(s Snapshot) int64 { return s.WorkflowsCompleted }),
			counter("workflows_errored_total", "Workflow runs that reached errored",
				func(s Snapshot) int64 { return s.WorkflowsErrored }),
			counter("step_attempts_total", "Workflow step execution attempts",
				func(s Snapshot) int64 { return s.StepAttempts }),
			counter("step_retries_total", "Workflow step attempts that were retried",
				func(s Snapshot) int64 { return s.StepRetries }),
			counter("step_replays_total", "Workflow steps replayed from recorded results",
				func(s Snapshot) int64 { return s.StepReplays }),
			counter("files_uploaded_total", "Extracted files written to blob storage",
				func(s Snapshot) int64 { return s.FilesUploaded }),
			counter("missing_files_total", "Files found missing during validation",
				func(s Snapshot) int64 { return s.MissingFiles }),
			counter("cache_purges_total", "Cache entries purged",
				func(s Snapshot) int64 { return s.CachePurges }),
			counter("cache_purge_failures_total", "Cache purges that failed",
				func(s Snapshot) int64 { return s.CachePurgeFailures }),
			counter("crawl_dirs_visited_total", "Upstream directories listed",
				func(s Snapshot) int64 { return s.CrawlDirsVisited }),
			counter("crawl_dirs_skipped_total", "Upstream directories skipped after errors",
				func(s Snapshot) int64 { return s.CrawlDirsSkipped }),
			counter("versions_refreshed_total", "Version manifests written by refresh",
				func(s Snapshot) int64 { return s.VersionsRefreshed }),
			counter("versions_failed_total", "Versions whose refresh failed",
				func(s Snapshot) int64 { return s.VersionsFailed }),
		},
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range p.counters {
		ch <- c.desc
	}
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := p.source.Snapshot()
	for _, c := range p.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(snap)))
	}
}

// Handler returns an HTTP handler serving c in the Prometheus text format
// from a dedicated registry.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewPrometheusCollector(c)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// Verify PrometheusCollector implements prometheus.Collector.
var _ prometheus.Collector = (*PrometheusCollector)(nil)
