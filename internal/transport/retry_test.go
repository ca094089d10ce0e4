package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/models"
)

func newRetryClient(maxRetries int, delay time.Duration) *HTTPClient {
	var buf bytes.Buffer
	return &HTTPClient{
		maxRetries: maxRetries,
		retryDelay: delay,
		logger:     events.NewTestLogger(events.DebugLevel, "json", &buf),
	}
}

func TestRetryWithBackoff(t *testing.T) {
	attempts := 0
	startTime := time.Now()
	client := newRetryClient(3, 100*time.Millisecond)

	err := client.retry(context.Background(), http.MethodGet, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	duration := time.Since(startTime)

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	// Should have delays: 0ms, 100ms, 200ms = 300ms total
	assert.GreaterOrEqual(t, duration, 300*time.Millisecond)
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	attempts := 0
	client := newRetryClient(5, 100*time.Millisecond)

	err := client.retry(ctx, http.MethodGet, func() error {
		attempts++
		return errors.New("error")
	})

	assert.Error(t, err)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.LessOrEqual(t, attempts, 3)
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	client := newRetryClient(2, 10*time.Millisecond)

	err := client.retry(context.Background(), http.MethodGet, func() error {
		attempts++
		return errors.New("persistent error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, attempts) // maxRetries + 1
}

func TestRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	client := newRetryClient(3, 10*time.Millisecond)

	err := client.retry(ctx, http.MethodGet, func() error {
		attempts++
		return errors.New("some error")
	})

	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryPermanentError(t *testing.T) {
	attempts := 0
	client := newRetryClient(3, 10*time.Millisecond)
	apiErr := &models.APIError{StatusCode: 404, Message: "not found"}

	err := client.retry(context.Background(), http.MethodGet, func() error {
		attempts++
		return permanent(apiErr)
	})

	assert.Equal(t, 1, attempts)
	assert.Same(t, apiErr, err)
}

func TestRetryPostOnlyOnRateLimit(t *testing.T) {
	client := newRetryClient(2, time.Millisecond)

	t.Run("network error is not repeated", func(t *testing.T) {
		attempts := 0
		err := client.retry(context.Background(), http.MethodPost, func() error {
			attempts++
			return errors.New("connection reset")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("server error is not repeated", func(t *testing.T) {
		attempts := 0
		err := client.retry(context.Background(), http.MethodPost, func() error {
			attempts++
			return &retryableStatus{err: &models.APIError{StatusCode: 502}}
		})
		var apiErr *models.APIError
		assert.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 1, attempts)
	})

	t.Run("rate limit is repeated", func(t *testing.T) {
		attempts := 0
		err := client.retry(context.Background(), http.MethodPost, func() error {
			attempts++
			if attempts == 1 {
				return &retryableStatus{err: &models.APIError{StatusCode: 429}}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})
}

func TestRetrySuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	client := newRetryClient(3, 100*time.Millisecond)

	err := client.retry(context.Background(), http.MethodGet, func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryableStatusCode(t *testing.T) {
	client := newRetryClient(0, 0)

	tests := []struct {
		status   int
		expected bool
	}{
		{200, false}, // OK
		{400, false}, // Bad Request
		{401, false}, // Unauthorized
		{404, false}, // Not Found
		{422, false}, // Validation
		{429, true},  // Too Many Requests
		{500, true},  // Internal Server Error
		{502, true},  // Bad Gateway
		{503, true},  // Service Unavailable
		{504, true},  // Gateway Timeout
		{599, true},  // Other 5xx
		{600, false}, // Not in 5xx range
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, client.isRetryable(tt.status))
		})
	}
}

func TestRetryExponentialBackoff(t *testing.T) {
	attempts := 0
	delays := []time.Duration{}
	startTime := time.Now()
	client := newRetryClient(4, 50*time.Millisecond)

	err := client.retry(context.Background(), http.MethodGet, func() error {
		if attempts > 0 {
			delays = append(delays, time.Since(startTime))
		}
		startTime = time.Now()
		attempts++
		if attempts < 4 {
			return errors.New("error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 4, attempts)
	assert.Len(t, delays, 3)

	// Verify exponential backoff: 50ms, 100ms, 200ms
	assert.GreaterOrEqual(t, delays[0], 50*time.Millisecond)
	assert.GreaterOrEqual(t, delays[1], 100*time.Millisecond)
	assert.GreaterOrEqual(t, delays[2], 200*time.Millisecond)
}

func TestParseAPIError(t *testing.T) {
	err := parseAPIError(403, []byte(`{"error":{"code":403,"message":"No permission"}}`))
	assert.Equal(t, "403", err.Code)
	assert.Equal(t, "No permission", err.Message)
	assert.Equal(t, 403, err.StatusCode)

	err = parseAPIError(502, []byte("<html>Bad Gateway</html>"))
	assert.Equal(t, "502", err.Code)
	assert.Equal(t, "<html>Bad Gateway</html>", err.Message)

	err = parseAPIError(500, nil)
	assert.Equal(t, "Internal Server Error", err.Message)
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, time.Duration(0), retryAfter(h))

	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, retryAfter(h))

	h.Set("Retry-After", "3600")
	assert.Equal(t, time.Minute, retryAfter(h))

	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Equal(t, time.Duration(0), retryAfter(h))
}
