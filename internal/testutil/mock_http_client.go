package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/flexprice/dealpay/internal/httpclient"
)

// MockHTTPClient implements httpclient.Client with canned responses
type MockHTTPClient struct {
	mu       sync.RWMutex
	routes   map[string]MockResponse
	requests []*httpclient.Request
}

// MockResponse represents a mock HTTP response
type MockResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// NewMockHTTPClient creates a new mock HTTP client
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		routes: make(map[string]MockResponse),
	}
}

func routeKey(method, url string) string {
	return method + " " + url
}

// RegisterResponse registers a mock response for requests whose URL ends with url
func (m *MockHTTPClient) RegisterResponse(method, url string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[routeKey(method, url)] = resp
}

// RegisterJSONResponse is a helper to register a JSON encoded response body
func (m *MockHTTPClient) RegisterJSONResponse(method, url string, status int, body interface{}) {
	raw, _ := json.Marshal(body)
	m.RegisterResponse(method, url, MockResponse{
		StatusCode: status,
		Body:       raw,
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
}

// Requests returns every request sent so far
func (m *MockHTTPClient) Requests() []*httpclient.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*httpclient.Request(nil), m.requests...)
}

// Send implements the httpclient.Client interface. Unmatched requests and
// registered error statuses are returned as *httpclient.Error like the real client.
func (m *MockHTTPClient) Send(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched MockResponse
	var found bool
	best := 0
	for route, resp := range m.routes {
		method, url, _ := strings.Cut(route, " ")
		if method != req.Method {
			continue
		}
		path, _, _ := strings.Cut(req.URL, "?")
		if strings.HasSuffix(path, url) && len(url) > best {
			matched = resp
			found = true
			best = len(url)
		}
	}

	if !found {
		return nil, httpclient.NewError(http.StatusNotFound, []byte("Not Found"))
	}
	if matched.StatusCode >= http.StatusBadRequest {
		return nil, httpclient.NewError(matched.StatusCode, matched.Body)
	}

	return &httpclient.Response{
		StatusCode: matched.StatusCode,
		Body:       matched.Body,
		Headers:    matched.Headers,
	}, nil
}

// Clear removes all registered responses and recorded requests
func (m *MockHTTPClient) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = make(map[string]MockResponse)
	m.requests = nil
}
