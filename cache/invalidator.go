package cache

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pithecene-io/ucdsync/log"
	"github.com/pithecene-io/ucdsync/metrics"
)

// VersionPlaceholder is replaced by the version in route templates.
const VersionPlaceholder = "{version}"

// DefaultConcurrency bounds in-flight purges.
const DefaultConcurrency = 4

// NamedCache is one downstream cache and the version-scoped routes it holds.
type NamedCache struct {
	Name string
	// Routes are URL templates containing {version}.
	Routes []string
}

// Target is one cache entry to purge.
type Target struct {
	Cache string
	URL   string
}

// PurgeFailure is a target whose purge failed.
type PurgeFailure struct {
	Target Target
	Err    error
}

// PurgeReport is the outcome of invalidating one version.
type PurgeReport struct {
	Version  string
	Purged   []Target
	Failures []PurgeFailure
}

// OK reports whether every target was purged.
func (r PurgeReport) OK() bool {
	return len(r.Failures) == 0
}

// Invalidator purges the version-scoped entries of every configured cache.
type Invalidator struct {
	purger      Purger
	caches      []NamedCache
	concurrency int64
	logger      *log.Logger
	metrics     *metrics.Collector
}

// NewInvalidator creates an Invalidator. concurrency <= 0 selects
// DefaultConcurrency; logger and collector may be nil.
func NewInvalidator(purger Purger, caches []NamedCache, concurrency int, logger *log.Logger, collector *metrics.Collector) *Invalidator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Invalidator{
		purger:      purger,
		caches:      caches,
		concurrency: int64(concurrency),
		logger:      logger,
		metrics:     collector,
	}
}

// Targets expands the route templates of every cache for version.
// Duplicate targets are dropped; order follows the configuration.
func (inv *Invalidator) Targets(version string) []Target {
	seen := make(map[Target]struct{})
	var targets []Target
	for _, c := range inv.caches {
		for _, route := range c.Routes {
			t := Target{Cache: c.Name, URL: strings.ReplaceAll(route, VersionPlaceholder, version)}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			targets = append(targets, t)
		}
	}
	return targets
}

// Invalidate purges every target for version. It never fails: purge errors
// are logged and returned in the report.
func (inv *Invalidator) Invalidate(ctx context.Context, version string) PurgeReport {
	report := PurgeReport{Version: version}
	if inv == nil || inv.purger == nil {
		return report
	}
	targets := inv.Targets(version)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(inv.concurrency)
	)
	record := func(t Target, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			report.Purged = append(report.Purged, t)
			inv.metrics.IncCachePurge()
			return
		}
		report.Failures = append(report.Failures, PurgeFailure{Target: t, Err: err})
		inv.metrics.IncCachePurgeFailure()
		inv.logger.Warn("cache purge failed", map[string]any{
			"version": version,
			"cache":   t.Cache,
			"url":     t.URL,
			"error":   err.Error(),
		})
	}

	for _, t := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			record(t, err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			record(t, inv.purger.Purge(ctx, t.Cache, t.URL))
		}()
	}
	wg.Wait()

	inv.logger.Info("caches invalidated", map[string]any{
		"version":  version,
		"purged":   len(report.Purged),
		"failures": len(report.Failures),
	})
	return report
}
