package origin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/resource"
)

func testRef() resource.Ref {
	return resource.Ref{Organization: "unfoldingWord", Language: "en", Resource: "tn", Version: "v84"}
}

// TestArchiveURL pins the upstream zipball layout.
func TestArchiveURL(t *testing.T) {
	t.Parallel()

	c := NewClient("https://git.door43.org/", time.Second, zap.NewNop())
	require.Equal(t,
		"https://git.door43.org/unfoldingWord/en_tn/archive/v84.zip",
		c.ArchiveURL(testRef()),
	)
}

// TestDownloadSuccess returns the body bytes on a 200.
func TestDownloadSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/unfoldingWord/en_tn/archive/v84.zip", r.URL.Path)
		require.Equal(t, "application/zip", r.Header.Get("Accept"))
		_, _ = w.Write([]byte("zipbytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	data, err := c.Download(context.Background(), testRef())
	require.NoError(t, err)
	require.Equal(t, []byte("zipbytes"), data)
}

// TestDownloadRetriesTransientStatus recovers from an initial 500.
func TestDownloadRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("zipbytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	data, err := c.Download(context.Background(), testRef())
	require.NoError(t, err)
	require.Equal(t, []byte("zipbytes"), data)
	require.Equal(t, int32(2), calls.Load())
}

// TestDownloadTerminalStatusIsNotRetried surfaces a 404 immediately with
// the status attached.
func TestDownloadTerminalStatusIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	_, err := c.Download(context.Background(), testRef())

	var upstream *resource.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusNotFound, upstream.Status)
	require.Equal(t, int32(1), calls.Load())
}

// TestDownloadExhaustedRetriesReportUpstreamError converts the final
// transient failure to an UpstreamError with the last status.
func TestDownloadExhaustedRetriesReportUpstreamError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	_, err := c.Download(context.Background(), testRef())

	var upstream *resource.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusServiceUnavailable, upstream.Status)
	require.Equal(t, int32(4), calls.Load()) // initial try plus three retries
}

// TestDownloadRejectsIncompleteRef validates before any network call.
func TestDownloadRejectsIncompleteRef(t *testing.T) {
	t.Parallel()

	c := NewClient("http://origin.invalid", time.Second, zap.NewNop())
	_, err := c.Download(context.Background(), resource.Ref{Organization: "org"})
	require.Error(t, err)
}

// TestShouldRetryClassification pins the retry decision table.
func TestShouldRetryClassification(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy()
	require.False(t, p.ShouldRetry(nil, 0))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
	require.False(t, p.ShouldRetry(errors.New("parse failure"), 0))
	require.True(t, p.ShouldRetry(&transientStatusError{status: 500}, 0))
	require.False(t, p.ShouldRetry(&transientStatusError{status: 500}, 3))
}

// TestBackoffBounded keeps delays inside [base/2, max].
func TestBackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy()
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, p.baseDelay/2)
		require.LessOrEqual(t, d, p.maxDelay)
	}
}

// TestRateLimitWaitHonorsContext cancels a caller stuck behind the limiter.
func TestRateLimitWaitHonorsContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("zipbytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	c.SetRateLimit(0.001, 1)

	// First request consumes the lone token.
	_, err := c.Download(context.Background(), testRef())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Download(ctx, testRef())
	require.Error(t, err)
}
