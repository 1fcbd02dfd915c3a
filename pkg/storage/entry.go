package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// ErrMalformedEntry indicates a metadata document that cannot be decoded
// into a valid Entry. Missing required fields are never papered over with
// defaults.
var ErrMalformedEntry = errors.New("storage: malformed entry")

// Header is one (name, value) pair. Entries keep headers as an ordered
// sequence because HTTP permits repeated names and the cache must hand back
// exactly what was stored.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RequestMeta is the minimal description of the originating request, kept
// for diagnostics only.
type RequestMeta struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// Entry is one stored response.
type Entry struct {
	// Key is the fingerprint the entry is stored under.
	Key string

	// StatusCode is the HTTP status code of the cached response.
	StatusCode int

	// Headers is the response header sequence, order and duplicates
	// preserved.
	Headers []Header

	// Body is the response payload.
	Body []byte

	// StoredAt is when the entry was written.
	StoredAt time.Time

	// Request describes the originating request.
	Request RequestMeta
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.StoredAt)
}

// Expired reports whether the entry is older than maxAge. A maxAge <= 0
// means entries never expire.
func (e *Entry) Expired(maxAge time.Duration) bool {
	return maxAge > 0 && e.Age() > maxAge
}

// HTTPHeader converts the stored header sequence to an http.Header,
// preserving duplicate values.
func (e *Entry) HTTPHeader() http.Header {
	h := make(http.Header, len(e.Headers))
	for _, field := range e.Headers {
		h.Add(field.Name, field.Value)
	}
	return h
}

// HeadersFromHTTP flattens an http.Header into an ordered sequence. Names
// are emitted in sorted order so the result is deterministic; values keep
// their original order within each name.
func HeadersFromHTTP(h http.Header) []Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Header
	for _, name := range names {
		for _, value := range h[name] {
			out = append(out, Header{Name: name, Value: value})
		}
	}
	return out
}

// metaDocument is the wire form of an Entry's metadata. The body travels
// separately through the blob store. The timestamp is serialized as
// nanoseconds since the epoch so the codec round-trips it exactly.
type metaDocument struct {
	StatusCode *int         `json:"status_code"`
	Headers    []Header     `json:"headers"`
	StoredAt   *int64       `json:"stored_at_ns"`
	Request    *RequestMeta `json:"request,omitempty"`
}

// EncodeMeta serializes the entry's metadata (everything but the body).
func EncodeMeta(e *Entry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("storage: cannot encode nil entry")
	}
	status := e.StatusCode
	storedAt := e.StoredAt.UnixNano()
	headers := e.Headers
	if headers == nil {
		headers = []Header{}
	}
	doc := metaDocument{
		StatusCode: &status,
		Headers:    headers,
		StoredAt:   &storedAt,
		Request:    &e.Request,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("storage: encode metadata: %w", err)
	}
	return data, nil
}

// DecodeMeta deserializes a metadata document. A document that is not valid
// JSON or is missing status code, headers or timestamp yields
// ErrMalformedEntry.
func DecodeMeta(data []byte) (*Entry, error) {
	var doc metaDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if doc.StatusCode == nil {
		return nil, fmt.Errorf("%w: missing status_code", ErrMalformedEntry)
	}
	if doc.Headers == nil {
		return nil, fmt.Errorf("%w: missing headers", ErrMalformedEntry)
	}
	if doc.StoredAt == nil {
		return nil, fmt.Errorf("%w: missing stored_at_ns", ErrMalformedEntry)
	}

	entry := &Entry{
		StatusCode: *doc.StatusCode,
		Headers:    doc.Headers,
		StoredAt:   time.Unix(0, *doc.StoredAt).UTC(),
	}
	if doc.Request != nil {
		entry.Request = *doc.Request
	}
	return entry, nil
}
