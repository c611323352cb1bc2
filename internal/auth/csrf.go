package auth

import (
	"sync"
	"time"
)

// csrfRegistry tracks issued CSRF tokens and their session binding. Expired
// entries are pruned lazily on access.
type csrfRegistry struct {
	now func() time.Time

	mu      sync.Mutex
	byToken map[string]csrfRecord
}

type csrfRecord struct {
	sessionID string
	expiresAt time.Time
}

func newCSRFRegistry(now func() time.Time) *csrfRegistry {
	return &csrfRegistry{now: now, byToken: make(map[string]csrfRecord)}
}

func (r *csrfRegistry) put(token, sessionID string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	// One current token per session: a new issue replaces the old one.
	for t, rec := range r.byToken {
		if rec.sessionID == sessionID {
			delete(r.byToken, t)
		}
	}
	r.byToken[token] = csrfRecord{sessionID: sessionID, expiresAt: expiresAt}
}

func (r *csrfRegistry) valid(token, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byToken[token]
	if !ok {
		return false
	}
	if r.now().After(rec.expiresAt) {
		delete(r.byToken, token)
		return false
	}
	return rec.sessionID == sessionID
}

func (r *csrfRegistry) drop(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byToken, token)
}

func (r *csrfRegistry) dropSession(sessionID string) {
	if sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, rec := range r.byToken {
		if rec.sessionID == sessionID {
			delete(r.byToken, t)
		}
	}
}

func (r *csrfRegistry) pruneLocked() {
	now := r.now()
	for t, rec := range r.byToken {
		if now.After(rec.expiresAt) {
			delete(r.byToken, t)
		}
	}
}
