// Package metrics provides pipeline metrics collection.
//
// The Collector accumulates counters across refreshes and workflow runs of
// one process. It is a leaf package with no internal dependencies; the
// Prometheus exporter reads it through Snapshot.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all pipeline metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Workflow lifecycle
	WorkflowsStarted   int64
	WorkflowsCompleted int64
	WorkflowsErrored   int64

	// Steps
	StepAttempts int64
	StepRetries  int64
	StepReplays  int64

	// Blob storage
	FilesUploaded int64
	MissingFiles  int64

	// Cache invalidation
	CachePurges        int64
	CachePurgeFailures int64

	// Upstream crawl and refresh
	CrawlDirsVisited  int64
	CrawlDirsSkipped  int64
	VersionsRefreshed int64
	VersionsFailed    int64

	// Dimensions (informational, set at construction)
	StorageBackend string
	StateBackend   string
}

// Collector accumulates pipeline metrics.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	workflowsStarted   int64
	workflowsCompleted int64
	workflowsErrored   int64

	stepAttempts int64
	stepRetries  int64
	stepReplays  int64

	filesUploaded int64
	missingFiles  int64

	cachePurges        int64
	cachePurgeFailures int64

	crawlDirsVisited  int64
	crawlDirsSkipped  int64
	versionsRefreshed int64
	versionsFailed    int64

	storageBackend string
	stateBackend   string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(storageBackend, stateBackend string) *Collector {
	return &Collector{
		storageBackend: storageBackend,
		stateBackend:   stateBackend,
	}
}

// add applies fn under the lock. Nil collectors are no-ops.
func (c *Collector) add(fn func(c *Collector)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn(c)
	c.mu.Unlock()
}

// --- Workflow lifecycle ---

// IncWorkflowStarted records a workflow run leaving pending.
func (c *Collector) IncWorkflowStarted() { c.add(func(c *Collector) { c.workflowsStarted++ }) }

// IncWorkflowCompleted records a workflow reaching complete.
func (c *Collector) IncWorkflowCompleted() { c.add(func(c *Collector) { c.workflowsCompleted++ }) }

// IncWorkflowErrored records a workflow reaching errored.
func (c *Collector) IncWorkflowErrored() { c.add(func(c *Collector) { c.workflowsErrored++ }) }

// --- Steps ---

// IncStepAttempt records one execution attempt of a step.
func (c *Collector) IncStepAttempt() { c.add(func(c *Collector) { c.stepAttempts++ }) }

// IncStepRetry records a failed attempt that will be retried.
func (c *Collector) IncStepRetry() { c.add(func(c *Collector) { c.stepRetries++ }) }

// IncStepReplay records a step whose recorded result was reused.
func (c *Collector) IncStepReplay() { c.add(func(c *Collector) { c.stepReplays++ }) }

// --- Blob storage ---
// File counters are per-object, not per-batch.

// AddFilesUploaded records n successful object writes.
func (c *Collector) AddFilesUploaded(n int) {
	c.add(func(c *Collector) { c.filesUploaded += int64(n) })
}

// AddMissingFiles records n objects found missing during validation.
func (c *Collector) AddMissingFiles(n int) {
	c.add(func(c *Collector) { c.missingFiles += int64(n) })
}

// --- Cache invalidation ---

// IncCachePurge records a successful cache entry purge.
func (c *Collector) IncCachePurge() { c.add(func(c *Collector) { c.cachePurges++ }) }

// IncCachePurgeFailure records a swallowed purge failure.
func (c *Collector) IncCachePurgeFailure() { c.add(func(c *Collector) { c.cachePurgeFailures++ }) }

// --- Upstream ---

// IncCrawlDirVisited records a directory listing fetched during a crawl.
func (c *Collector) IncCrawlDirVisited() { c.add(func(c *Collector) { c.crawlDirsVisited++ }) }

// IncCrawlDirSkipped records a subdirectory skipped after a failed listing.
func (c *Collector) IncCrawlDirSkipped() { c.add(func(c *Collector) { c.crawlDirsSkipped++ }) }

// IncVersionRefreshed records a manifest written by a refresh.
func (c *Collector) IncVersionRefreshed() { c.add(func(c *Collector) { c.versionsRefreshed++ }) }

// IncVersionFailed records a version whose refresh failed.
func (c *Collector) IncVersionFailed() { c.add(func(c *Collector) { c.versionsFailed++ }) }

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		WorkflowsStarted:   c.workflowsStarted,
		WorkflowsCompleted: c.workflowsCompleted,
		WorkflowsErrored:   c.workflowsErrored,

		StepAttempts: c.stepAttempts,
		StepRetries:  c.stepRetries,
		StepReplays:  c.stepReplays,

		FilesUploaded: c.filesUploaded,
		MissingFiles:  c.missingFiles,

		CachePurges:        c.cachePurges,
		CachePurgeFailures: c.cachePurgeFailures,

		CrawlDirsVisited:  c.crawlDirsVisited,
		CrawlDirsSkipped:  c.crawlDirsSkipped,
		VersionsRefreshed: c.versionsRefreshed,
		VersionsFailed:    c.versionsFailed,

		StorageBackend: c.storageBackend,
		StateBackend:   c.stateBackend,
	}
}
