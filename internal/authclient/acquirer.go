package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultTokenPath       = "/v1/auth/csrf"
	defaultCSRFCookieName  = "dp_csrftoken"
	defaultFreshness       = 5 * time.Minute
	defaultBackoffBase     = 25 * time.Millisecond
	defaultBackoffAttempts = 4
)

// Acquirer owns the CSRF token cache and the single in-flight acquisition.
// All other components obtain tokens exclusively through its methods; nothing
// else reads the token cookie or mutates the cache.
type Acquirer struct {
	client          *http.Client
	cookies         *JarReader
	tokenURL        string
	cookieName      string
	freshness       time.Duration
	backoffBase     time.Duration
	backoffAttempts int
	now             func() time.Time

	mu         sync.Mutex
	cur        *flight
	token      string
	acquiredAt time.Time
	gen        uint64 // bumped by Invalidate/ForceRefresh; stale flights must not re-cache
}

// flight is the shared handle for one in-progress acquisition. Every caller
// that arrives while it is pending waits on done and receives the same result.
type flight struct {
	done  chan struct{}
	token string
	err   error
}

// AcquirerOption configures an Acquirer.
type AcquirerOption func(*Acquirer)

// WithCSRFCookieName overrides the cookie the server stores the token in.
func WithCSRFCookieName(name string) AcquirerOption {
	return func(a *Acquirer) {
		if name != "" {
			a.cookieName = name
		}
	}
}

// WithTokenFreshness overrides how long an acquired token is served from
// cache without a network call.
func WithTokenFreshness(d time.Duration) AcquirerOption {
	return func(a *Acquirer) {
		if d > 0 {
			a.freshness = d
		}
	}
}

// WithCookieBackoff tunes the bounded poll for the token cookie after the
// acquisition response has been read.
func WithCookieBackoff(base time.Duration, attempts int) AcquirerOption {
	return func(a *Acquirer) {
		if base > 0 {
			a.backoffBase = base
		}
		if attempts > 0 {
			a.backoffAttempts = attempts
		}
	}
}

// WithAcquirerClock overrides the time source (useful for tests).
func WithAcquirerClock(fn func() time.Time) AcquirerOption {
	return func(a *Acquirer) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAcquirer builds an Acquirer for the token endpoint at baseURL. The
// client's jar, when present, is where acquired cookies land; a nil jar means
// cookies are not observable (cross-origin) and the body token is the only
// source.
func NewAcquirer(client *http.Client, baseURL string, opts ...AcquirerOption) (*Acquirer, error) {
	if client == nil {
		client = http.DefaultClient
	}
	base := strings.TrimSuffix(baseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("authclient: base URL is required")
	}
	a := &Acquirer{
		client:          client,
		tokenURL:        base + defaultTokenPath,
		cookieName:      defaultCSRFCookieName,
		freshness:       defaultFreshness,
		backoffBase:     defaultBackoffBase,
		backoffAttempts: defaultBackoffAttempts,
		now:             time.Now,
	}
	if client.Jar != nil {
		reader, err := NewJarReader(client.Jar, base)
		if err != nil {
			return nil, err
		}
		a.cookies = reader
	}
	for _, opt := range opts {
		opt(a)
	}
	registerClientMetrics()
	return a, nil
}

// Cookies exposes the origin-scoped jar reader, nil when the jar is not
// observable.
func (a *Acquirer) Cookies() *JarReader { return a.cookies }

// CookieName reports the cookie the token endpoint writes.
func (a *Acquirer) CookieName() string { return a.cookieName }

// CachedToken returns the token currently readable without a network call:
// the in-memory cache when fresh, otherwise the cookie store.
func (a *Acquirer) CachedToken() (string, bool) {
	a.mu.Lock()
	if tok, ok := a.freshLocked(); ok {
		a.mu.Unlock()
		return tok, true
	}
	a.mu.Unlock()
	if a.cookies != nil {
		if v, ok := a.cookies.Read(a.cookieName); ok {
			return v, true
		}
	}
	return "", false
}

// EnsureToken returns a valid token: the fresh cached value when available,
// the result of the in-flight acquisition when one is pending, or the result
// of a new acquisition otherwise. Concurrent callers cause at most one
// network round trip.
func (a *Acquirer) EnsureToken(ctx context.Context) (string, error) {
	return a.ensure(ctx, false)
}

// ForceRefresh invalidates the cached token and the cookie-backed value, then
// acquires a new token. An acquisition that was already in flight when the
// refresh began is waited out and its result discarded, so the returned token
// is never from a pre-invalidation fetch.
func (a *Acquirer) ForceRefresh(ctx context.Context) (string, error) {
	a.mu.Lock()
	cur := a.cur
	a.token = ""
	a.acquiredAt = time.Time{}
	a.gen++
	a.mu.Unlock()
	if a.cookies != nil {
		a.cookies.Clear(a.cookieName)
	}
	if cur != nil {
		select {
		case <-cur.done:
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrTokenUnavailable, ctx.Err())
		}
	}
	return a.ensure(ctx, true)
}

// Invalidate drops the cached token and the cookie-backed value without
// starting a new acquisition. Used at the logout boundary.
func (a *Acquirer) Invalidate() {
	a.mu.Lock()
	a.token = ""
	a.acquiredAt = time.Time{}
	a.gen++
	a.mu.Unlock()
	if a.cookies != nil {
		a.cookies.Clear(a.cookieName)
	}
}

func (a *Acquirer) ensure(ctx context.Context, bypassCache bool) (string, error) {
	a.mu.Lock()
	if !bypassCache {
		if tok, ok := a.freshLocked(); ok {
			a.mu.Unlock()
			return tok, nil
		}
	}
	h := a.cur
	if h == nil {
		h = &flight{done: make(chan struct{})}
		a.cur = h
		// The fetch is shared by every caller that arrives while it is
		// pending, so it must not inherit the initiator's cancellation.
		// It runs to completion or failure; callers that stop caring
		// bail on their own contexts below.
		go a.settle(context.WithoutCancel(ctx), h, a.gen)
	}
	a.mu.Unlock()

	select {
	case <-h.done:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrTokenUnavailable, ctx.Err())
	}
	return h.token, h.err
}

// settle runs one acquisition and publishes its result. The cache write is
// skipped when an Invalidate or ForceRefresh landed after the flight started:
// its token predates the invalidation and must stay discarded.
func (a *Acquirer) settle(ctx context.Context, h *flight, gen uint64) {
	token, source, err := a.acquire(ctx)
	tokenAcquisitions.WithLabelValues(source, outcomeLabel(err)).Inc()

	a.mu.Lock()
	if a.cur == h {
		a.cur = nil
	}
	if err == nil && gen == a.gen {
		a.token = token
		a.acquiredAt = a.now()
	}
	a.mu.Unlock()

	h.token, h.err = token, err
	close(h.done)
}

// freshLocked reports the cached token while it is inside the freshness
// window. Caller holds mu.
func (a *Acquirer) freshLocked() (string, bool) {
	if a.token == "" {
		return "", false
	}
	if a.now().Sub(a.acquiredAt) >= a.freshness {
		return "", false
	}
	return a.token, true
}

func (a *Acquirer) acquire(ctx context.Context) (token, source string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.tokenURL, nil)
	if err != nil {
		return "", "none", fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", "none", fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", "none", fmt.Errorf("%w: token endpoint returned %d", ErrTokenUnavailable, resp.StatusCode)
	}

	// The body may carry the token directly; tolerate an empty body.
	var payload struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload)

	// Cookie write-back is not always synchronous with the response being
	// read; poll with bounded exponential backoff before falling back to the
	// body token. The bound keeps blocked-cookie environments from hanging.
	if a.cookies != nil {
		for attempt := 0; attempt < a.backoffAttempts; attempt++ {
			if v, ok := a.cookies.Read(a.cookieName); ok {
				return v, "cookie", nil
			}
			delay := a.backoffBase << attempt
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", "none", fmt.Errorf("%w: %v", ErrTokenUnavailable, ctx.Err())
			case <-timer.C:
			}
		}
	}
	if payload.Token != "" {
		return payload.Token, "body", nil
	}
	return "", "none", ErrTokenUnavailable
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
