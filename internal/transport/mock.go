package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
)

// MockTransport provides a mock implementation for testing. Responses and
// errors are keyed by "METHOD path", e.g. "GET /api/pages".
type MockTransport struct {
	mu sync.Mutex

	// Response configuration
	Responses map[string]interface{}
	Texts     map[string]string

	// Error injection
	Errors map[string]error

	// Request tracking
	Requests []Request

	// Credentials
	TokenID     string
	TokenSecret string

	baseURL string
	closed  bool
}

// Request tracks one call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Payload interface{}
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Responses: make(map[string]interface{}),
		Texts:     make(map[string]string),
		Errors:    make(map[string]error),
		baseURL:   "https://wiki.example.com",
	}
}

func (m *MockTransport) record(method, path string, query url.Values, payload interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, Request{Method: method, Path: path, Query: query, Payload: payload})

	key := method + " " + path
	if err := m.Errors[key]; err != nil {
		return key, err
	}
	return key, nil
}

func (m *MockTransport) respond(key string, out interface{}) error {
	m.mu.Lock()
	resp, ok := m.Responses[key]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no mock response for %s", key)
	}
	if out == nil {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// GetJSON mocks a GET returning JSON.
func (m *MockTransport) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	key, err := m.record("GET", path, query, nil)
	if err != nil {
		return err
	}
	return m.respond(key, out)
}

// GetText mocks a GET returning text.
func (m *MockTransport) GetText(ctx context.Context, path string) (string, error) {
	key, err := m.record("GET", path, nil, nil)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.Texts[key]
	if !ok {
		return "", fmt.Errorf("no mock text for %s", key)
	}
	return text, nil
}

// PostJSON mocks a POST.
func (m *MockTransport) PostJSON(ctx context.Context, path string, payload, out interface{}) error {
	key, err := m.record("POST", path, nil, payload)
	if err != nil {
		return err
	}
	return m.respond(key, out)
}

// PutJSON mocks a PUT.
func (m *MockTransport) PutJSON(ctx context.Context, path string, payload, out interface{}) error {
	key, err := m.record("PUT", path, nil, payload)
	if err != nil {
		return err
	}
	return m.respond(key, out)
}

// Delete mocks a DELETE.
func (m *MockTransport) Delete(ctx context.Context, path string) error {
	_, err := m.record("DELETE", path, nil, nil)
	return err
}

// SetCredentials records the token.
func (m *MockTransport) SetCredentials(tokenID, tokenSecret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokenID = tokenID
	m.TokenSecret = tokenSecret
}

// SetBaseURL records the base URL.
func (m *MockTransport) SetBaseURL(baseURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseURL = baseURL
}

// BaseURL returns the recorded base URL.
func (m *MockTransport) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseURL
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns the tracked requests with the given method and path.
func (m *MockTransport) Calls(method, path string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Request
	for _, r := range m.Requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}
