// Package origin fetches resource archives from the upstream content host.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openscripture/helpserver/internal/metrics"
	"github.com/openscripture/helpserver/internal/resource"
)

// Client issues zipball GETs against the origin resource host. The host
// publishes one ZIP per (organization, language, resource, version) under
// {base}/{org}/{lang}_{resource}/archive/{version}.zip.
type Client struct {
	baseURL string
	http    *http.Client
	retry   *RetryPolicy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds a Client for the given base URL with no rate limit.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		retry:   NewRetryPolicy(),
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  logger,
	}
}

// SetRateLimit caps request throughput against the origin with a token
// bucket. rps <= 0 removes the cap.
func (c *Client) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// ArchiveURL returns the zipball URL for a ref.
func (c *Client) ArchiveURL(ref resource.Ref) string {
	return fmt.Sprintf("%s/%s/%s_%s/archive/%s.zip",
		c.baseURL, ref.Organization, ref.Language, ref.Resource, ref.Version)
}

// Download fetches the archive bytes for ref. Transient failures (timeouts,
// 5xx, 429) are retried with backoff; any terminal non-2xx response yields
// an UpstreamError.
func (c *Client) Download(ctx context.Context, ref resource.Ref) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		data, err := c.fetch(ctx, ref)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !c.retry.ShouldRetry(err, attempt) {
			break
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Warn("origin fetch retrying",
			zap.String("ref", ref.String()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, &resource.UpstreamError{Ref: ref, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}

	var transient *transientStatusError
	if errors.As(lastErr, &transient) {
		return nil, &resource.UpstreamError{Status: transient.status, Ref: ref}
	}
	var upstream *resource.UpstreamError
	if errors.As(lastErr, &upstream) {
		return nil, upstream
	}
	return nil, &resource.UpstreamError{Ref: ref, Err: lastErr}
}

func (c *Client) fetch(ctx context.Context, ref resource.Ref) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ArchiveURL(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/zip")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveOriginRequest("error", time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()
	metrics.ObserveOriginRequest(strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &transientStatusError{status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &resource.UpstreamError{Status: resp.StatusCode, Ref: ref}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
