// Package transport integrates the cache into an HTTP client. It is the
// boundary a fetch pipeline plugs into: a cache hit synthesizes the response
// without touching the network, a miss or expired entry falls through to the
// real transport and the fetched response is committed to the cache.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crawlkit/fetchcache/pkg/fingerprint"
	"github.com/crawlkit/fetchcache/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HitHeader is set on synthesized responses so callers can tell a cached
// response from a fetched one.
const HitHeader = "X-Fetchcache"

// Transport is an http.RoundTripper that serves responses from the cache
// when it can. It depends only on the storage abstraction, never on a
// concrete backing store.
type Transport struct {
	cache  storage.Storage
	base   http.RoundTripper
	logger zerolog.Logger
}

// New wraps base with caching. A nil base uses http.DefaultTransport.
func New(cache storage.Storage, base http.RoundTripper) *Transport {
	if cache == nil {
		panic("cache storage cannot be nil")
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		cache:  cache,
		base:   base,
		logger: log.With().Str("component", "cache-transport").Logger(),
	}
}

// RoundTrip implements http.RoundTripper.
//
// A backing-store outage is logged and degrades to a plain fetch rather
// than failing the request: the cache saves work, it must never add a
// failure mode to the pipeline.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	d, err := fingerprint.FromRequest(req)
	if err != nil {
		return nil, fmt.Errorf("transport: read request body: %w", err)
	}

	entry, err := t.cache.Retrieve(ctx, d)
	switch {
	case err == nil:
		t.logger.Debug().Str("url", d.URL).Msg("Serving response from cache")
		RequestsTotal.WithLabelValues("cache").Inc()
		return synthesize(entry, req), nil
	case errors.Is(err, storage.ErrMiss), errors.Is(err, storage.ErrExpired):
		// Fall through to the real fetch.
	default:
		t.logger.Warn().Err(err).Str("url", d.URL).Msg("Cache lookup failed, fetching from origin")
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	FetchDuration.Observe(time.Since(start).Seconds())
	RequestsTotal.WithLabelValues("origin").Inc()

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("transport: read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	headers := storage.HeadersFromHTTP(resp.Header)
	if err := t.cache.Store(ctx, d, resp.StatusCode, headers, body); err != nil {
		t.logger.Warn().Err(err).Str("url", d.URL).Msg("Failed to cache response")
	}
	return resp, nil
}

// synthesize rebuilds an *http.Response from a cache entry.
func synthesize(entry *storage.Entry, req *http.Request) *http.Response {
	header := entry.HTTPHeader()
	header.Set(HitHeader, "HIT")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}
