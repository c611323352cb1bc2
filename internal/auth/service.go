package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"daypack.app/internal/ids"
)

const (
	defaultSessionTTL = 12 * time.Hour
	defaultCSRFTTL    = 24 * time.Hour
	defaultIssuer     = "daypack"

	csrfTokenBytes = 32
)

// Service issues and verifies session cookies and the CSRF tokens bound to
// them. Sessions are short-lived HS256 JWTs; CSRF tokens are opaque random
// values tracked server-side so rotation at the login boundary invalidates
// everything minted for the anonymous session.
type Service struct {
	store      UserStore
	secret     []byte
	issuer     string
	sessionTTL time.Duration
	csrfTTL    time.Duration
	now        func() time.Time

	csrf *csrfRegistry
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSessionTTL configures session cookie lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithCSRFTTL configures how long an issued CSRF token stays acceptable.
func WithCSRFTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.csrfTTL = ttl
		}
		return nil
	}
}

// WithIssuer overrides the session token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the auth service. The secret signs session cookies
// and must be non-empty.
func NewService(store UserStore, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: session secret is required")
	}
	svc := &Service{
		store:      store,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		sessionTTL: defaultSessionTTL,
		csrfTTL:    defaultCSRFTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	svc.csrf = newCSRFRegistry(svc.now)
	return svc, nil
}

// Authenticate verifies credentials and returns the account. Every failure
// mode collapses into ErrUnauthorized so responses do not leak which part was
// wrong.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return User{}, ErrUnauthorized
	}
	user, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return User{}, ErrUnauthorized
	}
	if user.Status != "active" {
		return User{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, ErrUnauthorized
	}
	return *user, nil
}

type sessionJWTClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Staff     bool   `json:"staff"`
}

// MintSession issues a fresh session token for the user. Each mint gets a new
// session id, so logging in always rotates the session.
func (s *Service) MintSession(user User) (token string, expiresAt time.Time, err error) {
	now := s.now()
	expiresAt = now.Add(s.sessionTTL)
	claims := sessionJWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: ids.New(),
		Staff:     user.Staff,
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// VerifySession validates a session token and returns its claims.
func (s *Service) VerifySession(token string) (SessionClaims, error) {
	var claims sessionJWTClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return SessionClaims{}, ErrInvalidToken
	}
	out := SessionClaims{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		Staff:     claims.Staff,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// User loads the account behind verified session claims.
func (s *Service) User(ctx context.Context, claims SessionClaims) (User, error) {
	user, err := s.store.Find(ctx, claims.UserID)
	if err != nil {
		return User{}, ErrUnauthorized
	}
	if user.Status != "active" {
		return User{}, ErrUnauthorized
	}
	return *user, nil
}

// IssueCSRF mints an opaque token bound to the given session id ("" for the
// anonymous session). Issuing replaces any previous token for that session:
// at most one value is current at a time.
func (s *Service) IssueCSRF(sessionID string) (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	s.csrf.put(token, sessionID, s.now().Add(s.csrfTTL))
	return token, nil
}

// VerifyCSRF checks the double-submit pair against the registry. The header
// must match the cookie byte for byte, the token must be known and unexpired,
// and it must have been minted for this session id. Tokens minted for the
// anonymous session stop verifying the moment the session id changes — that
// is what forces the post-login rotation the client performs.
func (s *Service) VerifyCSRF(sessionID, cookieValue, headerValue string) error {
	if cookieValue == "" || headerValue == "" {
		return ErrCSRFRejected
	}
	if !secureStringEqual(cookieValue, headerValue) {
		return ErrCSRFRejected
	}
	if !s.csrf.valid(headerValue, sessionID) {
		return ErrCSRFRejected
	}
	return nil
}

// InvalidateCSRF drops a single token, used when the login handler consumes
// the anonymous token.
func (s *Service) InvalidateCSRF(token string) {
	s.csrf.drop(token)
}

// RevokeSession drops every CSRF token bound to the session, used at logout.
func (s *Service) RevokeSession(sessionID string) {
	s.csrf.dropSession(sessionID)
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
