package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/wikisync/internal/config"
	"github.com/TheMichaelB/wikisync/internal/events"
	"github.com/TheMichaelB/wikisync/internal/models"
	"github.com/TheMichaelB/wikisync/internal/transport"
)

func newClient(t *testing.T, serverURL string) *transport.HTTPClient {
	t.Helper()
	cfg := &config.APIConfig{
		BaseURL:    serverURL,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		UserAgent:  "test",
	}

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := transport.NewHTTPClient(cfg, logger)
	client.SetCredentials("id", "secret")
	return client
}

func TestHTTPClientRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"total": 0, "data": []}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)

	var resp struct {
		Total int `json:"total"`
	}
	err := client.GetJSON(context.Background(), "/api/pages", nil, &resp)

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestHTTPClientHeadersAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pages", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("count"))
		assert.Equal(t, "200", r.URL.Query().Get("offset"))
		assert.Equal(t, "Token id:secret", r.Header.Get("Authorization"))
		assert.Equal(t, "test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"total": 7}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL + "/")

	var resp struct {
		Total int `json:"total"`
	}
	query := url.Values{"count": {"100"}, "offset": {"200"}}
	require.NoError(t, client.GetJSON(context.Background(), "/api/pages", query, &resp))
	assert.Equal(t, 7, resp.Total)
	assert.Equal(t, server.URL, client.BaseURL())
}

func TestHTTPClientPutJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/pages/5", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["markdown"])

		_, _ = w.Write([]byte(`{"id": 5, "updated_at": "2024-02-02T00:00:00.000000Z"}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)

	var detail models.PageDetail
	err := client.PutJSON(context.Background(), "/api/pages/5", map[string]string{"markdown": "hello"}, &detail)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-02T00:00:00.000000Z", detail.UpdatedAt)
}

func TestHTTPClientGetText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pages/5/export/markdown", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("# Title\r\n\r\nBody"))
	}))
	defer server.Close()

	text, err := newClient(t, server.URL).GetText(context.Background(), "/api/pages/5/export/markdown")
	require.NoError(t, err)
	assert.Equal(t, "# Title\r\n\r\nBody", text)
}

func TestHTTPClientAPIError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":422,"message":"The given data was invalid."}}`))
	}))
	defer server.Close()

	err := newClient(t, server.URL).Delete(context.Background(), "/api/pages/5")

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 422, apiErr.StatusCode)
	assert.Equal(t, "The given data was invalid.", apiErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestHTTPClientExhaustedRetriesKeepsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"boom"}}`))
	}))
	defer server.Close()

	err := newClient(t, server.URL).GetJSON(context.Background(), "/api/books", nil, nil)

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Temporary())
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestHTTPClientNoBaseURL(t *testing.T) {
	client := newClient(t, "")
	err := client.GetJSON(context.Background(), "/api/pages", nil, nil)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestMockTransport(t *testing.T) {
	m := transport.NewMockTransport()
	m.Responses["GET /api/books"] = map[string]interface{}{"total": 1}
	m.Texts["GET /api/pages/1/export/markdown"] = "text"
	m.Errors["DELETE /api/pages/2"] = errors.New("denied")

	var resp struct {
		Total int `json:"total"`
	}
	require.NoError(t, m.GetJSON(context.Background(), "/api/books", nil, &resp))
	assert.Equal(t, 1, resp.Total)

	text, err := m.GetText(context.Background(), "/api/pages/1/export/markdown")
	require.NoError(t, err)
	assert.Equal(t, "text", text)

	assert.EqualError(t, m.Delete(context.Background(), "/api/pages/2"), "denied")
	assert.Len(t, m.Calls("DELETE", "/api/pages/2"), 1)

	var _ transport.Transport = m
}
