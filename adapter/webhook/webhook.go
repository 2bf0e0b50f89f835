// Package webhook delivers upload completion events over HTTP POST.
//
// Every delivery carries the workflow ID as its Idempotency-Key and a
// delivery ID that stays fixed across retries of one Publish call. When a
// secret is configured the body is signed with HMAC-SHA256.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/pithecene-io/ucdsync/adapter"
	"github.com/pithecene-io/ucdsync/iox"
)

// Defaults.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultRetries   = 3
	DefaultRetryWait = 500 * time.Millisecond
	maxRetryWait     = 10 * time.Second
)

// Headers set on every delivery.
const (
	EventHeader       = "X-Ucdsync-Event"
	DeliveryHeader    = "X-Ucdsync-Delivery"
	SignatureHeader   = "X-Ucdsync-Signature"
	IdempotencyHeader = "Idempotency-Key"
)

const userAgent = "ucdsync-webhook"

// Config configures the webhook adapter.
type Config struct {
	// URL receives the POSTs (required).
	URL string
	// Headers are added to each request.
	Headers map[string]string
	// Secret, when set, signs each body into SignatureHeader.
	Secret string
	// Timeout bounds a single request (default 10s).
	Timeout time.Duration
	// Retries after the first attempt (default 3 via the CLI).
	Retries int
	// RetryWait is the first backoff delay (default 500ms).
	RetryWait time.Duration
}

// Adapter publishes upload completion events to a webhook endpoint.
type Adapter struct {
	config Config
	client *retryablehttp.Client
}

// New validates cfg and builds the adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = DefaultRetryWait
	}

	return &Adapter{
		config: cfg,
		client: &retryablehttp.Client{
			HTTPClient:   &http.Client{Timeout: cfg.Timeout},
			RetryWaitMin: cfg.RetryWait,
			RetryWaitMax: max(cfg.RetryWait, maxRetryWait),
			RetryMax:     cfg.Retries,
			// 5xx, 429 and network failures retry; other 4xx do not.
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Backoff:      retryablehttp.DefaultBackoff,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		},
	}, nil
}

// StatusError is a non-2xx response to the final attempt.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Publish POSTs event as JSON.
func (a *Adapter) Publish(ctx context.Context, event *adapter.UploadCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, body)
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(EventHeader, event.EventType)
	req.Header.Set(IdempotencyHeader, event.WorkflowID)
	req.Header.Set(DeliveryHeader, uuid.NewString())
	if a.config.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(a.config.Secret, body))
	}

	// The final response comes back alongside the retry error once retries
	// run out.
	resp, err := a.client.Do(req)
	if resp != nil {
		defer iox.DiscardClose(resp.Body)
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook: deliver %s for %s: %w", event.EventType, event.WorkflowID, &StatusError{Code: resp.StatusCode})
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("webhook: context canceled: %w", ctx.Err())
		}
		return fmt.Errorf("webhook: deliver %s for %s: %w", event.EventType, event.WorkflowID, err)
	}
	return nil
}

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.HTTPClient.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
