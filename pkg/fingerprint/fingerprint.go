// Package fingerprint derives deterministic cache keys from HTTP request
// descriptions.
//
// Two requests that are canonically equivalent (same method ignoring case,
// same URL after query ordering and percent-encoding normalization, same
// allow-listed headers, same body) always produce the same fingerprint,
// across processes and restarts. The fingerprint is a hex-encoded SHA-1
// digest, collision-resistant relative to any realistic cache population.
package fingerprint

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
)

// Descriptor describes one outbound HTTP request. It is the input to
// fingerprinting and is never mutated by this package.
type Descriptor struct {
	// Method is the HTTP method (e.g., "GET"). Compared case-insensitively.
	Method string

	// URL is the absolute request URL.
	URL string

	// Header holds the request headers. Only headers named in the Hasher's
	// allowlist participate in the fingerprint.
	Header http.Header

	// Body is the optional request body.
	Body []byte
}

// FromRequest builds a Descriptor from an *http.Request. If the request has
// a body it is read fully and restored so the request remains usable.
func FromRequest(r *http.Request) (Descriptor, error) {
	d := Descriptor{
		Method: r.Method,
		URL:    r.URL.String(),
		Header: r.Header,
	}
	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return Descriptor{}, err
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		d.Body = body
	}
	return d, nil
}

// Hasher computes fingerprints. The zero value includes no headers in the
// fingerprint, which is the right default for most crawl pipelines.
type Hasher struct {
	include []string // canonical header names, sorted
}

// NewHasher returns a Hasher that additionally includes the named headers
// in the fingerprint. Names are canonicalized, so "accept-language" and
// "Accept-Language" select the same header.
func NewHasher(includeHeaders ...string) Hasher {
	include := make([]string, 0, len(includeHeaders))
	for _, name := range includeHeaders {
		include = append(include, textproto.CanonicalMIMEHeaderKey(name))
	}
	sort.Strings(include)
	return Hasher{include: include}
}

// IncludedHeaders returns the canonical names of headers that participate
// in fingerprinting.
func (h Hasher) IncludedHeaders() []string {
	out := make([]string, len(h.include))
	copy(out, h.include)
	return out
}

// Fingerprint maps the Descriptor to its cache key. It is pure and never
// fails for a well-formed Descriptor; an empty method or URL is a caller
// contract violation and simply hashes as the empty string.
func (h Hasher) Fingerprint(d Descriptor) string {
	sum := sha1.New()

	io.WriteString(sum, strings.ToUpper(d.Method))
	sum.Write([]byte{'\n'})
	io.WriteString(sum, CanonicalURL(d.URL))
	sum.Write([]byte{'\n'})

	for _, name := range h.include {
		for _, value := range d.Header.Values(name) {
			io.WriteString(sum, name)
			sum.Write([]byte{':'})
			io.WriteString(sum, value)
			sum.Write([]byte{'\n'})
		}
	}

	// Blank line closes the header section. Header lines always end in a
	// newline and never start with one, so a body shaped like a header line
	// cannot collide with an actual header.
	sum.Write([]byte{'\n'})
	if len(d.Body) > 0 {
		sum.Write(d.Body)
	}

	return hex.EncodeToString(sum.Sum(nil))
}

// CanonicalURL normalizes a URL for fingerprinting: the scheme and host are
// lower-cased, the fragment is dropped, query parameters are sorted by key
// and then by value, and percent-escapes in the path are rewritten into one
// canonical form. Escaped path delimiters are never decoded, so "/a%2Fb"
// and "/a/b" stay distinct paths. An unparseable URL is returned as-is so
// that fingerprinting stays total.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if q, err := url.ParseQuery(u.RawQuery); err == nil {
		for _, values := range q {
			sort.Strings(values)
		}
		// Encode sorts keys; values were sorted above.
		u.RawQuery = q.Encode()
	}

	u.RawPath = canonicalPath(u.EscapedPath())
	return u.String()
}

const upperhex = "0123456789ABCDEF"

// canonicalPath rewrites the percent-escapes of an escaped path: escapes of
// bytes that may appear literally in a path segment are decoded, everything
// else is re-escaped with uppercase hex digits. Escaped delimiters ("%2F",
// "%3F", "%25") are not path-safe and therefore stay escaped instead of
// merging with their literal counterparts.
func canonicalPath(escaped string) string {
	var b strings.Builder
	b.Grow(len(escaped))
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c != '%' || i+2 >= len(escaped) || !isHex(escaped[i+1]) || !isHex(escaped[i+2]) {
			b.WriteByte(c)
			continue
		}
		v := unhex(escaped[i+1])<<4 | unhex(escaped[i+2])
		if pathSafe(v) {
			b.WriteByte(v)
		} else {
			b.WriteByte('%')
			b.WriteByte(upperhex[v>>4])
			b.WriteByte(upperhex[v&0x0f])
		}
		i += 2
	}
	return b.String()
}

// pathSafe reports whether a decoded byte may appear unescaped in a path
// segment (RFC 3986 pchar). '/', '?' and '%' are excluded: an escape of a
// delimiter must survive canonicalization.
func pathSafe(v byte) bool {
	switch {
	case 'a' <= v && v <= 'z', 'A' <= v && v <= 'Z', '0' <= v && v <= '9':
		return true
	}
	return strings.IndexByte("-._~!$&'()*+,;=:@", v) >= 0
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
