package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const testSecret = "unit-test-secret-unit-test-secret"

type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMovableClock() *movableClock {
	return &movableClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, clock *movableClock, opts ...ServiceOption) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	err = store.Create(context.Background(), &User{
		Username:     "demo",
		Email:        "demo@daypack.app",
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	svc, err := NewService(store, testSecret, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t, nil)

	user, err := svc.Authenticate(context.Background(), "demo", "secret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Username != "demo" {
		t.Fatalf("user %+v", user)
	}

	for _, tc := range []struct{ username, password string }{
		{"demo", "wrong"},
		{"nosuch", "secret"},
		{"", "secret"},
		{"demo", ""},
	} {
		if _, err := svc.Authenticate(context.Background(), tc.username, tc.password); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("Authenticate(%q, %q): expected ErrUnauthorized, got %v", tc.username, tc.password, err)
		}
	}
}

func TestAuthenticateRejectsInactiveUser(t *testing.T) {
	svc, store := newTestService(t, nil)
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	err = store.Create(context.Background(), &User{
		Username:     "benched",
		Email:        "benched@daypack.app",
		PasswordHash: hash,
		Status:       "disabled",
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	if _, err := svc.Authenticate(context.Background(), "benched", "secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for disabled user, got %v", err)
	}
}

func TestSessionMintAndVerify(t *testing.T) {
	clock := newMovableClock()
	svc, _ := newTestService(t, clock)
	user, err := svc.Authenticate(context.Background(), "demo", "secret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	token, expiresAt, err := svc.MintSession(user)
	if err != nil {
		t.Fatalf("MintSession: %v", err)
	}
	if !expiresAt.Equal(clock.Now().Add(12 * time.Hour)) {
		t.Fatalf("expiresAt %v", expiresAt)
	}

	claims, err := svc.VerifySession(token)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	if claims.UserID != user.ID {
		t.Fatalf("claims %+v", claims)
	}
	if claims.SessionID == "" {
		t.Fatal("missing session id")
	}
}

func TestSessionExpires(t *testing.T) {
	clock := newMovableClock()
	svc, _ := newTestService(t, clock, WithSessionTTL(time.Hour))
	user, _ := svc.Authenticate(context.Background(), "demo", "secret")

	token, _, err := svc.MintSession(user)
	if err != nil {
		t.Fatalf("MintSession: %v", err)
	}
	clock.Advance(2 * time.Hour)
	if _, err := svc.VerifySession(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestSessionRejectsTamperedToken(t *testing.T) {
	svc, _ := newTestService(t, nil)
	user, _ := svc.Authenticate(context.Background(), "demo", "secret")
	token, _, err := svc.MintSession(user)
	if err != nil {
		t.Fatalf("MintSession: %v", err)
	}

	other, err := NewService(svc.store, "another-secret-another-secret!!")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := other.VerifySession(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := svc.VerifySession(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for mangled token, got %v", err)
	}
}

func TestMintSessionRotatesSessionID(t *testing.T) {
	svc, _ := newTestService(t, nil)
	user, _ := svc.Authenticate(context.Background(), "demo", "secret")

	first, _, err := svc.MintSession(user)
	if err != nil {
		t.Fatalf("MintSession: %v", err)
	}
	second, _, err := svc.MintSession(user)
	if err != nil {
		t.Fatalf("MintSession: %v", err)
	}
	a, _ := svc.VerifySession(first)
	b, _ := svc.VerifySession(second)
	if a.SessionID == b.SessionID {
		t.Fatal("session id reused across mints")
	}
}

func TestCSRFIssueAndVerify(t *testing.T) {
	svc, _ := newTestService(t, nil)

	token, err := svc.IssueCSRF("sess-1")
	if err != nil {
		t.Fatalf("IssueCSRF: %v", err)
	}
	if err := svc.VerifyCSRF("sess-1", token, token); err != nil {
		t.Fatalf("VerifyCSRF: %v", err)
	}
	if err := svc.VerifyCSRF("sess-1", token, "other"); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("expected rejection for mismatched pair, got %v", err)
	}
	if err := svc.VerifyCSRF("sess-1", "", token); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("expected rejection for missing cookie, got %v", err)
	}
}

func TestCSRFBoundToSession(t *testing.T) {
	svc, _ := newTestService(t, nil)

	anon, err := svc.IssueCSRF("")
	if err != nil {
		t.Fatalf("IssueCSRF: %v", err)
	}
	if err := svc.VerifyCSRF("", anon, anon); err != nil {
		t.Fatalf("anonymous token must verify for anonymous session: %v", err)
	}
	// The same token presented under a real session is what a client that
	// skipped the post-login rotation would send.
	if err := svc.VerifyCSRF("sess-1", anon, anon); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("expected rejection across sessions, got %v", err)
	}
}

func TestCSRFIssueReplacesPreviousToken(t *testing.T) {
	svc, _ := newTestService(t, nil)

	old, _ := svc.IssueCSRF("sess-1")
	newer, _ := svc.IssueCSRF("sess-1")
	if err := svc.VerifyCSRF("sess-1", old, old); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("replaced token still verifies: %v", err)
	}
	if err := svc.VerifyCSRF("sess-1", newer, newer); err != nil {
		t.Fatalf("current token rejected: %v", err)
	}
}

func TestCSRFExpires(t *testing.T) {
	clock := newMovableClock()
	svc, _ := newTestService(t, clock, WithCSRFTTL(time.Minute))

	token, _ := svc.IssueCSRF("sess-1")
	clock.Advance(2 * time.Minute)
	if err := svc.VerifyCSRF("sess-1", token, token); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("expected rejection after expiry, got %v", err)
	}
}

func TestRevokeSessionDropsItsTokens(t *testing.T) {
	svc, _ := newTestService(t, nil)

	token, _ := svc.IssueCSRF("sess-1")
	svc.RevokeSession("sess-1")
	if err := svc.VerifyCSRF("sess-1", token, token); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("token survived session revocation: %v", err)
	}
}
