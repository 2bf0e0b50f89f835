// Package cache invalidates version-scoped entries of the downstream HTTP
// caches after a version's files change.
//
// Invalidation is best effort: failures are logged and reported, never
// returned as errors.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/ucdsync/iox"
)

// Purger removes one entry from a named cache.
type Purger interface {
	Purge(ctx context.Context, cache, url string) error
}

// DefaultPurgeMethod is the HTTP method used by HTTPPurger.
const DefaultPurgeMethod = "PURGE"

// DefaultCacheHeader carries the cache name on purge requests.
const DefaultCacheHeader = "X-Cache-Name"

// DefaultTimeout bounds one purge request.
const DefaultTimeout = 10 * time.Second

// HTTPConfig configures HTTPPurger.
type HTTPConfig struct {
	// Method is the purge method (default PURGE).
	Method string
	// Headers are added to every purge request (e.g. an API token).
	Headers map[string]string
	// CacheHeader names the header carrying the cache name (default X-Cache-Name).
	CacheHeader string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
}

// StatusError is returned for purge responses other than 2xx and 404.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// HTTPPurger purges entries by sending a purge request to the cached URL.
type HTTPPurger struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPPurger creates an HTTP purger, filling in defaults.
func NewHTTPPurger(cfg HTTPConfig) *HTTPPurger {
	if cfg.Method == "" {
		cfg.Method = DefaultPurgeMethod
	}
	if cfg.CacheHeader == "" {
		cfg.CacheHeader = DefaultCacheHeader
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &HTTPPurger{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Purge implements Purger. A 404 means the entry is already gone.
func (p *HTTPPurger) Purge(ctx context.Context, cache, url string) error {
	req, err := http.NewRequestWithContext(ctx, p.config.Method, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(p.config.CacheHeader, cache)
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// DefaultRedisPrefix namespaces cache keys in Redis.
const DefaultRedisPrefix = "ucd:cache:"

// RedisPurger purges entries of a Redis-backed response cache stored at
// {prefix}{cache}:{url}.
type RedisPurger struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisPurger creates a Redis purger. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisPurger(client goredis.UniversalClient, prefix string) *RedisPurger {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisPurger{client: client, prefix: prefix}
}

// NewRedisPurgerFromURL parses a redis:// URL and creates a purger.
func NewRedisPurgerFromURL(url, prefix string) (*RedisPurger, error) {
	if url == "" {
		return nil, errors.New("redis purger requires a URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis purger: invalid URL: %w", err)
	}
	return NewRedisPurger(goredis.NewClient(opts), prefix), nil
}

// Key returns the Redis key of a cache entry.
func (p *RedisPurger) Key(cache, url string) string {
	return p.prefix + cache + ":" + url
}

// Purge implements Purger. Deleting an absent key succeeds.
func (p *RedisPurger) Purge(ctx context.Context, cache, url string) error {
	if err := p.client.Del(ctx, p.Key(cache, url)).Err(); err != nil {
		return fmt.Errorf("redis: del: %w", err)
	}
	return nil
}

// Close releases the Redis client.
func (p *RedisPurger) Close() error {
	return p.client.Close()
}

// Verify purgers implement Purger.
var (
	_ Purger = (*HTTPPurger)(nil)
	_ Purger = (*RedisPurger)(nil)
)
