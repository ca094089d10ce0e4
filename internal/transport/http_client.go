package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/TheMichaelB/wikisync/internal/config"
	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/models"
)

// maxRetryAfter caps how long a Retry-After header may hold a request.
const maxRetryAfter = time.Minute

// HTTPClient handles HTTP communication with the BookStack API.
type HTTPClient struct {
	client    *http.Client
	userAgent string
	logger    *events.Logger

	mu          sync.RWMutex
	baseURL     string
	tokenID     string
	tokenSecret string

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos:         []string{"h2", "http/1.1"},
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetCredentials sets the API token used on every request.
func (c *HTTPClient) SetCredentials(tokenID, tokenSecret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenID = tokenID
	c.tokenSecret = tokenSecret
}

// SetBaseURL points the client at another wiki.
func (c *HTTPClient) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// BaseURL returns the wiki base URL.
func (c *HTTPClient) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// GetJSON sends a GET request and decodes the JSON response into out.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// GetText sends a GET request and returns the raw response body.
func (c *HTTPClient) GetText(ctx context.Context, path string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PostJSON sends a JSON POST request.
func (c *HTTPClient) PostJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// PutJSON sends a JSON PUT request.
func (c *HTTPClient) PutJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := c.do(ctx, http.MethodPut, path, nil, payload)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// Delete sends a DELETE request.
func (c *HTTPClient) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// do executes one API call with retry and returns the response body of a
// 2xx answer.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	c.mu.RLock()
	baseURL, tokenID, tokenSecret := c.baseURL, c.tokenID, c.tokenSecret
	c.mu.RUnlock()

	if baseURL == "" {
		return nil, fmt.Errorf("%w: no wiki URL configured", models.ErrInvalidConfig)
	}

	target := baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	log := c.logger.WithFields(map[string]interface{}{
		"method": method,
		"path":   path,
	})
	log.WithField("size", len(body)).Debug("Sending request")

	var respBody []byte
	err := c.retry(ctx, method, func() error {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return permanent(fmt.Errorf("create request: %w", err))
		}

		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if tokenID != "" || tokenSecret != "" {
			req.Header.Set("Authorization", "Token "+tokenID+":"+tokenSecret)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			respBody = data
			return nil
		}

		apiErr := parseAPIError(resp.StatusCode, data)
		if c.isRetryable(resp.StatusCode) {
			return &retryableStatus{err: apiErr, after: retryAfter(resp.Header)}
		}
		return permanent(apiErr)
	})
	if err != nil {
		return nil, err
	}

	log.WithField("size", len(respBody)).Debug("Received response")
	return respBody, nil
}

// retry executes a function with exponential backoff. POST requests are
// only repeated when the server signalled that it did not process them.
func (c *HTTPClient) retry(ctx context.Context, method string, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := delay
			var rs *retryableStatus
			if errors.As(lastErr, &rs) && rs.after > 0 {
				wait = rs.after
			}

			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   wait.String(),
			}).Debug("Retrying request")

			select {
			case <-time.After(wait):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.isRetryableError(method, err) {
			return unwrapPermanent(err)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", unwrapPermanent(lastErr))
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// isRetryableError checks if an error from one attempt is worth repeating.
func (c *HTTPClient) isRetryableError(method string, err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}

	if method != http.MethodPost {
		return true
	}

	var rs *retryableStatus
	if errors.As(err, &rs) {
		var apiErr *models.APIError
		return errors.As(rs.err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

func unwrapPermanent(err error) error {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	var rs *retryableStatus
	if errors.As(err, &rs) {
		return rs.err
	}
	return err
}

type retryableStatus struct {
	err   error
	after time.Duration
}

func (e *retryableStatus) Error() string { return e.err.Error() }
func (e *retryableStatus) Unwrap() error { return e.err }

// parseAPIError decodes a BookStack error body: {"error":{"code":..,"message":..}}.
func parseAPIError(status int, body []byte) *models.APIError {
	apiErr := &models.APIError{
		Code:       strconv.Itoa(status),
		StatusCode: status,
	}

	var envelope struct {
		Error struct {
			Code    interface{} `json:"code"`
			Message string      `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		if envelope.Error.Code != nil {
			apiErr.Code = fmt.Sprint(envelope.Error.Code)
		}
		return apiErr
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	apiErr.Message = msg
	return apiErr
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func decode(body []byte, out interface{}) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
