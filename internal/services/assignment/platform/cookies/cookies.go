// Package cookies centralizes the visitor cookie protocol.
//
// Two cookies carry session state across turns: the identity cookie holds
// the bare visitor id (a UUID string, not JSON-wrapped), and the correlation
// cookie holds a URL-escaped JSON object whose distinct_id key must track
// the current visitor identity. Both are written with the same attribute
// policy: Secure mirrors the request transport, HttpOnly stays false so
// client-side script can read the values, the domain is the wildcard
// registrable domain of the request host, and expiry is one calendar year
// from the write instant.
package cookies

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/louisbranch/divergence.space/internal/platform/cookiedomain"
)

const (
	// IdentityName is the visitor identity cookie name.
	IdentityName = "dv_visitor_id"
	// CorrelationName is the analytics correlation cookie name.
	CorrelationName = "dv_analytics"
	// DistinctIDKey is the correlation key that must track the visitor id.
	DistinctIDKey = "distinct_id"
)

// Jar is the cookie read/write capability scoped to one request turn.
type Jar interface {
	Get(name string) (string, bool)
	Set(cookie *http.Cookie)
}

// Policy carries the request facts that shape cookie attributes.
type Policy struct {
	// Host is the inbound request host, port allowed.
	Host string
	// Secure reports whether the inbound request was transport-encrypted.
	Secure bool
	// Now supplies the write instant; defaults to time.Now.
	Now func() time.Time
}

type httpJar struct {
	w http.ResponseWriter
	r *http.Request
}

// NewHTTPJar adapts a request/response pair into a Jar.
func NewHTTPJar(w http.ResponseWriter, r *http.Request) Jar {
	return &httpJar{w: w, r: r}
}

func (j *httpJar) Get(name string) (string, bool) {
	if j == nil || j.r == nil {
		return "", false
	}
	cookie, err := j.r.Cookie(name)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

func (j *httpJar) Set(cookie *http.Cookie) {
	if j == nil || j.w == nil || cookie == nil {
		return
	}
	http.SetCookie(j.w, cookie)
}

// ReadIdentity returns the raw identity cookie value when present.
func ReadIdentity(jar Jar) (string, bool) {
	if jar == nil {
		return "", false
	}
	return jar.Get(IdentityName)
}

// WriteIdentity persists the visitor id under the attribute policy.
func WriteIdentity(jar Jar, policy Policy, visitorID string) {
	if jar == nil {
		return
	}
	jar.Set(newCookie(IdentityName, strings.TrimSpace(visitorID), policy))
}

// ReadCorrelation parses the correlation cookie into a JSON object.
//
// When the cookie is absent the correlation is nil with no error. When the
// stored value cannot be unescaped or parsed as a JSON object, the raw
// offending payload is returned alongside the error so callers can log a
// diagnostic and proceed as if no correlation data existed.
func ReadCorrelation(jar Jar) (correlation map[string]any, raw string, err error) {
	if jar == nil {
		return nil, "", nil
	}
	value, ok := jar.Get(CorrelationName)
	if !ok {
		return nil, "", nil
	}
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return nil, value, fmt.Errorf("unescape correlation cookie: %w", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(decoded), &parsed); err != nil {
		return nil, decoded, fmt.Errorf("parse correlation cookie: %w", err)
	}
	return parsed, decoded, nil
}

// WriteCorrelation persists the correlation object as URL-escaped JSON.
func WriteCorrelation(jar Jar, policy Policy, correlation map[string]any) error {
	if jar == nil {
		return nil
	}
	if correlation == nil {
		correlation = map[string]any{}
	}
	payload, err := json.Marshal(correlation)
	if err != nil {
		return fmt.Errorf("marshal correlation cookie: %w", err)
	}
	jar.Set(newCookie(CorrelationName, url.QueryEscape(string(payload)), policy))
	return nil
}

func newCookie(name, value string, policy Policy) *http.Cookie {
	now := policy.Now
	if now == nil {
		now = time.Now
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   cookiedomain.Wildcard(policy.Host),
		Expires:  now().AddDate(1, 0, 0),
		Secure:   policy.Secure,
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	}
}
