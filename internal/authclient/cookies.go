package authclient

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// JarReader provides read access to a cookie jar scoped to a single origin.
// It never performs network calls; the jar itself is written by the HTTP
// client when the server sends Set-Cookie.
type JarReader struct {
	jar    http.CookieJar
	origin *url.URL
}

// NewJarReader wraps jar for lookups against origin (scheme://host[:port]).
func NewJarReader(jar http.CookieJar, origin string) (*JarReader, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, err
	}
	return &JarReader{jar: jar, origin: u}, nil
}

// Read returns the decoded value of the named cookie, if present.
func (r *JarReader) Read(name string) (string, bool) {
	if r == nil || r.jar == nil {
		return "", false
	}
	for _, c := range r.jar.Cookies(r.origin) {
		if c.Name == name {
			return decodeCookieValue(c.Value), true
		}
	}
	return "", false
}

// Clear overwrites the named cookies with expired values. The server is
// expected to have cleared them already; this is the client-side half of
// logout cleanup.
func (r *JarReader) Clear(names ...string) {
	if r == nil || r.jar == nil {
		return
	}
	expired := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		expired = append(expired, &http.Cookie{
			Name:    name,
			Value:   "",
			MaxAge:  -1,
			Expires: time.Unix(0, 0).UTC(),
		})
	}
	if len(expired) > 0 {
		r.jar.SetCookies(r.origin, expired)
	}
}

// ReadCookieHeader extracts the named cookie from a raw Cookie header value.
// Pairs are split on ';', matched by exact key and URL-decoded.
func ReadCookieHeader(header, name string) (string, bool) {
	if header == "" || name == "" {
		return "", false
	}
	for _, pair := range strings.Split(header, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found || key != name {
			continue
		}
		return decodeCookieValue(value), true
	}
	return "", false
}

func decodeCookieValue(raw string) string {
	if decoded, err := url.QueryUnescape(raw); err == nil {
		return decoded
	}
	return raw
}
