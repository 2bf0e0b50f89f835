package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/ucdsync/log"
	"github.com/pithecene-io/ucdsync/manifest"
	"github.com/pithecene-io/ucdsync/metrics"
	"github.com/pithecene-io/ucdsync/types"
)

// Refresh batching defaults.
const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = 500 * time.Millisecond
)

// ErrNothingCrawled is reported for a version whose every subtree failed.
var ErrNothingCrawled = errors.New("no files crawled")

// VersionResult is the outcome of refreshing one version.
type VersionResult struct {
	Version string
	Files   int
	Skipped []SkippedDir
	Err     error
}

// RefreshReport summarizes one refresh pass.
type RefreshReport struct {
	Results []VersionResult
}

// Succeeded returns the number of versions whose manifest was written.
func (r *RefreshReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the versions that could not be refreshed.
func (r *RefreshReport) Failed() []VersionResult {
	var out []VersionResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// RefreshConfig configures a Refresher.
type RefreshConfig struct {
	// BaseURL is the upstream root holding one directory per version.
	BaseURL string
	// BatchSize is the number of versions crawled concurrently (default 5).
	BatchSize int
	// BatchDelay is the pause between batches (default 500ms).
	BatchDelay time.Duration
}

// Refresher recomputes manifests from the upstream tree.
type Refresher struct {
	discoverer *Discoverer
	crawler    *Crawler
	store      manifest.Store
	config     RefreshConfig
	logger     *log.Logger
	metrics    *metrics.Collector
}

// NewRefresher creates a Refresher. logger and collector may be nil.
func NewRefresher(discoverer *Discoverer, crawler *Crawler, store manifest.Store, cfg RefreshConfig, logger *log.Logger, collector *metrics.Collector) *Refresher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	return &Refresher{
		discoverer: discoverer,
		crawler:    crawler,
		store:      store,
		config:     cfg,
		logger:     logger,
		metrics:    collector,
	}
}

// Refresh crawls versions and writes one manifest per version. An empty
// versions list refreshes every discovered version. Per-version failures
// are reported in the result; the error is reserved for discovery failures
// and cancellation.
func (r *Refresher) Refresh(ctx context.Context, versions []string) (*RefreshReport, error) {
	if len(versions) == 0 {
		found, err := r.discoverer.Discover(ctx)
		if err != nil {
			return nil, err
		}
		versions = found
	}

	report := &RefreshReport{Results: make([]VersionResult, len(versions))}
	for start := 0; start < len(versions); start += r.config.BatchSize {
		if start > 0 && r.config.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(r.config.BatchDelay):
			}
		}

		end := min(start+r.config.BatchSize, len(versions))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				report.Results[i] = r.refreshVersion(ctx, versions[i])
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	r.logger.Info("refresh finished", map[string]any{
		"versions":  len(versions),
		"succeeded": report.Succeeded(),
		"failed":    len(report.Failed()),
	})
	return report, nil
}

func (r *Refresher) refreshVersion(ctx context.Context, version string) VersionResult {
	res := VersionResult{Version: version}

	crawl, err := r.crawler.Crawl(ctx, version, r.config.BaseURL)
	if err == nil && len(crawl.Files) == 0 && crawl.Partial() {
		err = fmt.Errorf("crawl %s: %w (%d directories skipped)", version, ErrNothingCrawled, len(crawl.Skipped))
	}
	if err == nil {
		res.Files = len(crawl.Files)
		res.Skipped = crawl.Skipped
		err = r.store.Put(ctx, version, types.Manifest{ExpectedFiles: crawl.Files})
	}

	if err != nil {
		res.Err = err
		r.metrics.IncVersionFailed()
		r.logger.Error("refresh version failed", map[string]any{
			"version": version,
			"error":   err.Error(),
		})
		return res
	}

	r.metrics.IncVersionRefreshed()
	r.logger.Info("manifest refreshed", map[string]any{
		"version": version,
		"files":   res.Files,
		"skipped": len(res.Skipped),
	})
	return res
}

// Loop refreshes versions (every discovered version when none are given)
// now and then every interval until ctx ends. Failed passes are logged and
// retried on the next tick.
func (r *Refresher) Loop(ctx context.Context, interval time.Duration, versions ...string) error {
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Refresh(ctx, versions); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("refresh pass failed", map[string]any{"error": err.Error()})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
