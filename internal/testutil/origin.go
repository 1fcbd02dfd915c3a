// Package testutil provides testing utilities for the fetch cache.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// OriginResponse defines the behavior of one mock origin endpoint.
type OriginResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// Origin is a configurable mock origin server for testing cache-aware
// fetching. It counts every request that actually reaches it, which is how
// tests verify that cache hits skip the network.
type Origin struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responses map[string]OriginResponse

	// Tracking
	RequestCount int
	LastBody     []byte
}

// NewOrigin creates a mock origin server.
func NewOrigin() *Origin {
	origin := &Origin{
		responses: make(map[string]OriginResponse),
	}

	origin.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin.mu.Lock()
		origin.RequestCount++
		if r.Body != nil {
			origin.LastBody, _ = io.ReadAll(r.Body)
		}
		resp, exists := origin.responses[r.URL.Path]
		origin.mu.Unlock()

		if !exists {
			resp = OriginResponse{
				StatusCode: http.StatusOK,
				Body:       "default response",
				Headers:    map[string]string{"Content-Type": "text/plain"},
			}
		}

		for name, value := range resp.Headers {
			w.Header().Set(name, value)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.WriteString(w, resp.Body)
	}))

	return origin
}

// URL returns the mock server URL.
func (o *Origin) URL() string {
	return o.server.URL
}

// Close shuts down the mock server.
func (o *Origin) Close() {
	o.server.Close()
}

// SetResponse configures the response served for a path.
func (o *Origin) SetResponse(path string, resp OriginResponse) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses[path] = resp
}

// Requests returns how many requests reached the origin.
func (o *Origin) Requests() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.RequestCount
}
