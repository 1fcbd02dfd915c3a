package storage

import (
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"
)

func TestEncodeDecodeMeta_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{
			name: "simple entry",
			entry: Entry{
				StatusCode: 200,
				Headers:    []Header{{Name: "Content-Type", Value: "text/html"}},
				StoredAt:   time.Date(2026, 8, 23, 10, 0, 0, 123456789, time.UTC),
				Request:    RequestMeta{Method: "GET", URL: "http://example.com/"},
			},
		},
		{
			name: "duplicate header names keep order",
			entry: Entry{
				StatusCode: 200,
				Headers: []Header{
					{Name: "Set-Cookie", Value: "a=1"},
					{Name: "Content-Type", Value: "text/plain"},
					{Name: "Set-Cookie", Value: "b=2"},
				},
				StoredAt: time.Unix(1700000000, 42).UTC(),
				Request:  RequestMeta{Method: "GET", URL: "http://example.com/cookies"},
			},
		},
		{
			name: "no headers",
			entry: Entry{
				StatusCode: 304,
				Headers:    []Header{},
				StoredAt:   time.Unix(0, 1).UTC(),
			},
		},
		{
			name: "redirect status",
			entry: Entry{
				StatusCode: 301,
				Headers:    []Header{{Name: "Location", Value: "http://example.com/new"}},
				StoredAt:   time.Now().UTC().Truncate(0),
				Request:    RequestMeta{Method: "HEAD", URL: "http://example.com/old"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeMeta(&tt.entry)
			if err != nil {
				t.Fatalf("EncodeMeta failed: %v", err)
			}

			got, err := DecodeMeta(data)
			if err != nil {
				t.Fatalf("DecodeMeta failed: %v", err)
			}

			if got.StatusCode != tt.entry.StatusCode {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, tt.entry.StatusCode)
			}
			if !reflect.DeepEqual(got.Headers, tt.entry.Headers) {
				t.Errorf("Headers = %v, want %v", got.Headers, tt.entry.Headers)
			}
			if !got.StoredAt.Equal(tt.entry.StoredAt) {
				t.Errorf("StoredAt = %v, want %v", got.StoredAt, tt.entry.StoredAt)
			}
			if got.Request != tt.entry.Request {
				t.Errorf("Request = %+v, want %+v", got.Request, tt.entry.Request)
			}
		})
	}
}

func TestDecodeMeta_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not JSON", data: "not json at all"},
		{name: "empty object", data: "{}"},
		{name: "missing status", data: `{"headers":[],"stored_at_ns":1}`},
		{name: "missing headers", data: `{"status_code":200,"stored_at_ns":1}`},
		{name: "missing timestamp", data: `{"status_code":200,"headers":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMeta([]byte(tt.data))
			if !errors.Is(err, ErrMalformedEntry) {
				t.Errorf("DecodeMeta error = %v, want ErrMalformedEntry", err)
			}
		})
	}
}

func TestEntry_Expired(t *testing.T) {
	tests := []struct {
		name   string
		age    time.Duration
		maxAge time.Duration
		want   bool
	}{
		{name: "younger than window", age: time.Hour - time.Second, maxAge: time.Hour, want: false},
		{name: "older than window", age: time.Hour + time.Second, maxAge: time.Hour, want: true},
		{name: "zero max age never expires", age: 1000 * time.Hour, maxAge: 0, want: false},
		{name: "negative max age never expires", age: time.Hour, maxAge: -1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Entry{StoredAt: time.Now().Add(-tt.age)}
			if got := e.Expired(tt.maxAge); got != tt.want {
				t.Errorf("Expired(%v) with age %v = %v, want %v", tt.maxAge, tt.age, got, tt.want)
			}
		})
	}
}

func TestHeadersFromHTTP(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	h.Add("Content-Type", "text/html")

	got := HeadersFromHTTP(h)
	want := []Header{
		{Name: "Content-Type", Value: "text/html"},
		{Name: "Set-Cookie", Value: "a=1"},
		{Name: "Set-Cookie", Value: "b=2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("HeadersFromHTTP = %v, want %v", got, want)
	}
}

func TestEntry_HTTPHeader(t *testing.T) {
	e := Entry{Headers: []Header{
		{Name: "Set-Cookie", Value: "a=1"},
		{Name: "Set-Cookie", Value: "b=2"},
		{Name: "Content-Type", Value: "text/html"},
	}}

	h := e.HTTPHeader()
	if got := h.Get("Content-Type"); got != "text/html" {
		t.Errorf("Content-Type = %q, want text/html", got)
	}
	cookies := h.Values("Set-Cookie")
	if len(cookies) != 2 || cookies[0] != "a=1" || cookies[1] != "b=2" {
		t.Errorf("Set-Cookie values = %v, want [a=1 b=2]", cookies)
	}
}
