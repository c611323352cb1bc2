package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"daypack.app/internal/obs"
)

const (
	defaultLoginPath  = "/v1/auth/login"
	defaultMePath     = "/v1/auth/me"
	defaultLogoutPath = "/v1/auth/logout"

	defaultSessionCookieName = "dp_session"
	defaultRevalidateEvery   = 15 * time.Minute
)

// State is the controller's view of the server session.
type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Identity is the authenticated user's profile as reported by the backend.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Staff    bool   `json:"staff"`
}

type userEnvelope struct {
	User Identity `json:"user"`
}

// Controller owns the session identity and its freshness timestamp. It drives
// login/logout transitions, resets the token acquirer at those boundaries
// through its public operations only, and re-validates the session on a timer
// while authenticated.
type Controller struct {
	sender        *Sender
	tokens        *Acquirer
	loginURL      string
	meURL         string
	logoutURL     string
	sessionCookie string
	revalidate    time.Duration
	now           func() time.Time

	mu        sync.Mutex
	state     State
	identity  Identity
	checkedAt time.Time
	stop      chan struct{}
	subs      map[int]chan State
	nextSub   int
	closed    bool
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithRevalidateEvery overrides the session re-validation interval.
func WithRevalidateEvery(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.revalidate = d
		}
	}
}

// WithSessionCookieName overrides the session cookie cleared on logout.
func WithSessionCookieName(name string) ControllerOption {
	return func(c *Controller) {
		if name != "" {
			c.sessionCookie = name
		}
	}
}

// WithControllerClock overrides the time source (useful for tests).
func WithControllerClock(fn func() time.Time) ControllerOption {
	return func(c *Controller) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewController wires the controller over the sender and acquirer for the
// backend at baseURL. Initial state is Unknown until the first probe.
func NewController(sender *Sender, tokens *Acquirer, baseURL string, opts ...ControllerOption) (*Controller, error) {
	base := strings.TrimSuffix(baseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("authclient: base URL is required")
	}
	if sender == nil || tokens == nil {
		return nil, fmt.Errorf("authclient: sender and acquirer are required")
	}
	c := &Controller{
		sender:        sender,
		tokens:        tokens,
		loginURL:      base + defaultLoginPath,
		meURL:         base + defaultMePath,
		logoutURL:     base + defaultLogoutPath,
		sessionCookie: defaultSessionCookieName,
		revalidate:    defaultRevalidateEvery,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the current session state and identity snapshot.
func (c *Controller) State() (State, Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.identity
}

// Subscribe registers a listener for state transitions. Slow listeners drop
// notifications rather than block the controller. The returned cancel func
// must be called when the listener goes away.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan State, 4)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	if c.subs == nil {
		c.subs = make(map[int]chan State)
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Probe asks the backend who the session belongs to. Unless forced, a probe
// inside the revalidation window is skipped and the known state returned.
// Transient failures leave the state unchanged: a network blip must not log
// the user out.
func (c *Controller) Probe(ctx context.Context, force bool) (State, error) {
	c.mu.Lock()
	if !force && c.state != StateUnknown && c.now().Sub(c.checkedAt) < c.revalidate {
		state := c.state
		c.mu.Unlock()
		probesTotal.WithLabelValues("skipped").Inc()
		return state, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.meURL, nil)
	if err != nil {
		return c.snapshot(), fmt.Errorf("%w: %v", ErrSessionProbeFailed, err)
	}
	resp, err := c.sender.Do(req)
	if err != nil {
		probesTotal.WithLabelValues("error").Inc()
		return c.snapshot(), fmt.Errorf("%w: %v", ErrSessionProbeFailed, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		var envelope userEnvelope
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
			probesTotal.WithLabelValues("error").Inc()
			return c.snapshot(), fmt.Errorf("%w: decode identity: %v", ErrSessionProbeFailed, err)
		}
		c.setAuthenticated(envelope.User)
		probesTotal.WithLabelValues("authenticated").Inc()
		return StateAuthenticated, nil
	case http.StatusUnauthorized:
		c.setAnonymous()
		probesTotal.WithLabelValues("anonymous").Inc()
		return StateAnonymous, nil
	default:
		probesTotal.WithLabelValues("error").Inc()
		return c.snapshot(), fmt.Errorf("%w: unexpected status %d", ErrSessionProbeFailed, resp.StatusCode)
	}
}

// Login authenticates and transitions to Authenticated on success. The server
// rotates the CSRF token at the privilege boundary, so a successful login is
// followed by a best-effort forced refresh; if that fails the login still
// succeeds and a warning is logged, because the next mutating call self-heals
// through the sender's retry.
func (c *Controller) Login(ctx context.Context, username, password string) (Identity, error) {
	payload, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL, bytes.NewReader(payload))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.sender.Do(req)
	if err != nil {
		if isPipelineError(err) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)
		return Identity{}, &LoginError{
			Status:  resp.StatusCode,
			Message: firstNonEmpty(body.Detail, body.Error),
		}
	}

	var envelope userEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return Identity{}, fmt.Errorf("%w: decode identity: %v", ErrLoginFailed, err)
	}
	c.setAuthenticated(envelope.User)

	if _, err := c.tokens.ForceRefresh(ctx); err != nil {
		obs.Warn("post-login token refresh failed; next mutating call will self-heal", map[string]any{
			"error": err.Error(),
		})
	}
	return envelope.User, nil
}

// Logout transitions to Anonymous immediately, then best-effort revokes the
// server session and clears all local token state. It never fails.
func (c *Controller) Logout(ctx context.Context) {
	c.setAnonymous()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.logoutURL, nil)
	if err == nil {
		if resp, err := c.sender.Do(req); err != nil {
			obs.Warn("logout request failed", map[string]any{"error": err.Error()})
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}

	c.tokens.Invalidate()
	if cookies := c.tokens.Cookies(); cookies != nil {
		cookies.Clear(c.sessionCookie)
	}
}

// Close tears down the revalidation timer and all subscriber channels.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRevalidateLocked()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.closed = true
}

func (c *Controller) snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setAuthenticated(identity Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.state != StateAuthenticated || c.identity != identity
	c.state = StateAuthenticated
	c.identity = identity
	c.checkedAt = c.now()
	c.startRevalidateLocked()
	if changed {
		c.publishLocked(StateAuthenticated)
	}
}

func (c *Controller) setAnonymous() {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.state != StateAnonymous
	c.state = StateAnonymous
	c.identity = Identity{}
	c.checkedAt = c.now()
	c.stopRevalidateLocked()
	if changed {
		c.publishLocked(StateAnonymous)
	}
}

// publishLocked fans the transition out to subscribers, dropping on full
// buffers. Caller holds mu.
func (c *Controller) publishLocked(state State) {
	for _, ch := range c.subs {
		select {
		case ch <- state:
		default:
		}
	}
}

func (c *Controller) startRevalidateLocked() {
	if c.stop != nil || c.closed || c.revalidate <= 0 {
		return
	}
	stop := make(chan struct{})
	c.stop = stop
	go c.revalidateLoop(stop)
}

func (c *Controller) stopRevalidateLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *Controller) revalidateLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.revalidate)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := c.Probe(context.Background(), false); err != nil {
				obs.Warn("session revalidation failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// isPipelineError reports whether err already carries one of the package's
// error kinds and should not be re-wrapped.
func isPipelineError(err error) bool {
	for _, kind := range []error{ErrTokenUnavailable, ErrAuthRejected, ErrSessionProbeFailed, ErrLoginFailed} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
