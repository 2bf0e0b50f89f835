package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pithecene-io/ucdsync/log"
	"github.com/pithecene-io/ucdsync/metrics"
	"github.com/pithecene-io/ucdsync/types"
)

// ucdFolder is the UCD subfolder stripped from manifest paths.
const ucdFolder = "ucd/"

// SkippedDir records a subdirectory whose listing failed during a crawl.
type SkippedDir struct {
	URL string
	Err error
}

// CrawlResult is the outcome of crawling one version.
type CrawlResult struct {
	// Files are paths relative to the version root, sorted and unique.
	Files []string
	// Skipped lists subtrees left out because their listing failed.
	Skipped []SkippedDir
}

// Partial reports whether any subtree was skipped.
func (r *CrawlResult) Partial() bool {
	return len(r.Skipped) > 0
}

// Crawler enumerates every file under a version's upstream directory.
type Crawler struct {
	lister  Lister
	logger  *log.Logger
	metrics *metrics.Collector
}

// NewCrawler creates a Crawler. logger and collector may be nil.
func NewCrawler(lister Lister, logger *log.Logger, collector *metrics.Collector) *Crawler {
	return &Crawler{lister: lister, logger: logger, metrics: collector}
}

// Crawl lists baseURL/{version}/ and every directory below it using an
// explicit LIFO worklist. A failing subdirectory is logged and skipped; a
// failing version root is returned as an error.
func (c *Crawler) Crawl(ctx context.Context, version, baseURL string) (*CrawlResult, error) {
	rootURL, err := versionURL(baseURL, version)
	if err != nil {
		return nil, err
	}
	rootPrefix := rootURL.Path

	visited := map[string]struct{}{rootURL.String(): {}}
	worklist := []*url.URL{rootURL}
	files := make([]string, 0)
	result := &CrawlResult{}

	for len(worklist) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		entries, err := c.lister.List(ctx, dir.String())
		if err != nil {
			if dir == rootURL {
				return nil, fmt.Errorf("crawl %s: list version root: %w", version, err)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("skipping directory", map[string]any{
				"version": version,
				"url":     dir.String(),
				"error":   err.Error(),
			})
			c.metrics.IncCrawlDirSkipped()
			result.Skipped = append(result.Skipped, SkippedDir{URL: dir.String(), Err: err})
			continue
		}
		c.metrics.IncCrawlDirVisited()

		for _, e := range entries {
			switch e.Type() {
			case types.EntryTypeFile:
				if rel := relativePath(e.EntryPath(), rootPrefix, version); rel != "" {
					files = append(files, rel)
				}
			case types.EntryTypeDirectory:
				child := dir.ResolveReference(&url.URL{Path: ensureSlash(e.EntryPath())})
				if !strings.HasPrefix(child.Path, rootPrefix) {
					continue
				}
				key := child.String()
				if _, ok := visited[key]; ok {
					continue
				}
				visited[key] = struct{}{}
				worklist = append(worklist, child)
			}
		}
	}

	result.Files = types.NewManifest(files).ExpectedFiles
	return result, nil
}

// versionURL returns the directory URL of version under baseURL.
func versionURL(baseURL, version string) (*url.URL, error) {
	if err := types.ValidateVersion(version); err != nil {
		return nil, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	return base.ResolveReference(&url.URL{Path: ensureSlash(base.Path) + version + "/"}), nil
}

// relativePath strips the version root and a leading ucd/ folder from an
// upstream path. Paths outside the version root yield "".
func relativePath(entryPath, rootPrefix, version string) string {
	rel, ok := strings.CutPrefix(entryPath, rootPrefix)
	if !ok {
		marker := "/" + version + "/"
		i := strings.Index("/"+strings.TrimLeft(entryPath, "/"), marker)
		if i < 0 {
			return ""
		}
		rel = ("/" + strings.TrimLeft(entryPath, "/"))[i+len(marker):]
	}
	rel = strings.TrimLeft(rel, "/")
	rel = strings.TrimPrefix(rel, ucdFolder)
	return rel
}

func ensureSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
