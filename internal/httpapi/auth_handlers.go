package httpapi

import (
	"net/http"
	"strings"
	"time"

	"daypack.app/internal/audit"
	"daypack.app/internal/auth"
)

const csrfHeader = "X-CSRF-Token"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func userPayload(u auth.User) map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":       u.ID,
			"username": u.Username,
			"email":    u.Email,
			"name":     u.Name,
			"staff":    u.Staff,
		},
	}
}

// handleCSRF mints a token bound to the caller's session (anonymous when no
// valid session cookie rides along) and hands it out twice: as a readable
// cookie and in the body, for clients that cannot observe cookies.
func (a *API) handleCSRF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sessionID := ""
	if claims, err := a.sessionClaims(r); err == nil {
		sessionID = claims.SessionID
	}
	token, err := a.auth.IssueCSRF(sessionID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	a.setCSRFCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))

	// Login is itself a protected mutating call; the pre-login token is
	// bound to the anonymous session.
	presented := strings.TrimSpace(r.Header.Get(csrfHeader))
	if err := a.auth.VerifyCSRF("", a.csrfCookieValue(r), presented); err != nil {
		_ = audit.LogEvent(ctx, "auth.csrf.rejected", map[string]any{"path": r.URL.Path})
		writeCSRFRejected(w, r)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.auth.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{"username": req.Username})
		writeError(w, r, http.StatusUnauthorized, "invalid username or password")
		return
	}

	// The anonymous token is consumed: privilege changed, everything minted
	// before this moment stops verifying.
	a.auth.InvalidateCSRF(presented)

	sessionToken, expiresAt, err := a.auth.MintSession(user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session creation failed")
		return
	}
	claims, err := a.auth.VerifySession(sessionToken)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session creation failed")
		return
	}
	rotated, err := a.auth.IssueCSRF(claims.SessionID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	a.setSessionCookie(w, sessionToken, expiresAt)
	a.setCSRFCookie(w, rotated)

	ctx = auth.ContextWithUser(ctx, user)
	ctx = auth.ContextWithSessionID(ctx, claims.SessionID)
	_ = audit.LogEvent(ctx, "auth.login.succeeded", map[string]any{"username": user.Username})

	writeJSON(w, http.StatusOK, userPayload(user))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))

	// Logout is deliberately tolerant: an expired session or missing token
	// must never keep a user logged in.
	if claims, err := a.sessionClaims(r); err == nil {
		a.auth.RevokeSession(claims.SessionID)
		if user, err := a.auth.User(ctx, claims); err == nil {
			ctx = auth.ContextWithUser(ctx, user)
		}
		ctx = auth.ContextWithSessionID(ctx, claims.SessionID)
		_ = audit.LogEvent(ctx, "auth.logout", nil)
	}

	a.expireCookie(w, a.cookies.SessionName, true)
	a.expireCookie(w, a.cookies.CSRFName, false)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, _, err := a.requireSession(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, userPayload(user))
}

// --- session / csrf plumbing ---

func (a *API) sessionClaims(r *http.Request) (auth.SessionClaims, error) {
	c, err := r.Cookie(a.cookies.SessionName)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return auth.SessionClaims{}, auth.ErrUnauthorized
	}
	return a.auth.VerifySession(c.Value)
}

func (a *API) requireSession(r *http.Request) (auth.User, auth.SessionClaims, error) {
	claims, err := a.sessionClaims(r)
	if err != nil {
		return auth.User{}, auth.SessionClaims{}, err
	}
	user, err := a.auth.User(r.Context(), claims)
	if err != nil {
		return auth.User{}, auth.SessionClaims{}, err
	}
	return user, claims, nil
}

// requireCSRF enforces the double-submit check for a mutating request. It
// writes the rejection response itself and reports whether the caller may
// proceed.
func (a *API) requireCSRF(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	presented := strings.TrimSpace(r.Header.Get(csrfHeader))
	if err := a.auth.VerifyCSRF(sessionID, a.csrfCookieValue(r), presented); err != nil {
		ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
		_ = audit.LogEvent(ctx, "auth.csrf.rejected", map[string]any{"path": r.URL.Path})
		writeCSRFRejected(w, r)
		return false
	}
	return true
}

func (a *API) csrfCookieValue(r *http.Request) string {
	c, err := r.Cookie(a.cookies.CSRFName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func (a *API) setSessionCookie(w http.ResponseWriter, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookies.SessionName,
		Value:    value,
		Path:     a.cookies.Path,
		Domain:   a.cookies.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.cookies.Secure,
		SameSite: a.cookies.SameSite,
	})
}

func (a *API) setCSRFCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookies.CSRFName,
		Value:    value,
		Path:     a.cookies.Path,
		Domain:   a.cookies.Domain,
		HttpOnly: false,
		Secure:   a.cookies.Secure,
		SameSite: a.cookies.SameSite,
	})
}

func (a *API) expireCookie(w http.ResponseWriter, name string, httpOnly bool) {
	if name == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     a.cookies.Path,
		Domain:   a.cookies.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   a.cookies.Secure,
		SameSite: a.cookies.SameSite,
	})
}
