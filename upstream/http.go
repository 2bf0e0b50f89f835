package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/pithecene-io/ucdsync/iox"
	"github.com/pithecene-io/ucdsync/types"
)

// DefaultUserAgent identifies listing requests to the upstream host.
const DefaultUserAgent = "ucdsync/" + types.Version

// MaxListingBytes bounds one directory listing page.
const MaxListingBytes = 8 << 20

// HTTPConfig configures the HTTP lister.
type HTTPConfig struct {
	// Timeout bounds each HTTP request (default 30s).
	Timeout time.Duration
	// RetryMax is the number of retries on 5xx, 429 and connection errors
	// (default 3; negative disables retries).
	RetryMax int
	// RetryWaitMin and RetryWaitMax bound the backoff between retries
	// (defaults 1s and 30s).
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// UserAgent overrides DefaultUserAgent.
	UserAgent string
}

// HTTPLister fetches Apache-style directory listings with retries.
type HTTPLister struct {
	client    *retryablehttp.Client
	userAgent string
}

// NewHTTPLister creates a lister from cfg, filling in defaults.
func NewHTTPLister(cfg HTTPConfig) *HTTPLister {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 1 * time.Second
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	return &HTTPLister{
		client: &retryablehttp.Client{
			HTTPClient: &http.Client{
				Timeout:   cfg.Timeout,
				Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
			},
			RetryWaitMin: cfg.RetryWaitMin,
			RetryWaitMax: cfg.RetryWaitMax,
			RetryMax:     cfg.RetryMax,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Backoff:      retryablehttp.DefaultBackoff,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		},
		userAgent: cfg.UserAgent,
	}
}

// List implements Lister.
func (l *HTTPLister) List(ctx context.Context, url string) ([]types.DirectoryEntry, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html")

	// Exhausted retries return the last response together with an error.
	resp, err := l.client.Do(req)
	if resp != nil {
		defer iox.DiscardClose(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("upstream: GET %s: %w", url, err)
	}

	body, err := iox.ReadAllLimit(resp.Body, MaxListingBytes)
	if err != nil {
		return nil, fmt.Errorf("upstream: read %s: %w", url, err)
	}
	return ParseListing(bytes.NewReader(body), url)
}

// Verify HTTPLister implements Lister.
var _ Lister = (*HTTPLister)(nil)
