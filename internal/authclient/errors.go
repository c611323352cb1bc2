package authclient

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenUnavailable is returned when token acquisition exhausted its
	// bounded retries without finding a token in either the cookie store or
	// the response body (cookies blocked, backend misconfigured, network down).
	ErrTokenUnavailable = errors.New("authclient: csrf token unavailable")

	// ErrAuthRejected is returned when a mutating request was rejected for a
	// stale token even after the one-shot refresh-and-retry.
	ErrAuthRejected = errors.New("authclient: request rejected after token refresh")

	// ErrSessionProbeFailed is returned for transient failures of the session
	// probe. The session state is left unchanged.
	ErrSessionProbeFailed = errors.New("authclient: session probe failed")

	// ErrLoginFailed is returned when the server rejected the credentials.
	ErrLoginFailed = errors.New("authclient: login failed")
)

// LoginError carries the server-reported failure message verbatim.
type LoginError struct {
	Status  int
	Message string
}

func (e *LoginError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", ErrLoginFailed.Error(), e.Status)
	}
	return fmt.Sprintf("%s: %s", ErrLoginFailed.Error(), e.Message)
}

func (e *LoginError) Unwrap() error { return ErrLoginFailed }

// AuthRejectedError reports the final rejection after the single forced
// refresh-and-retry, distinguished from domain validation errors so callers
// can prompt for re-login.
type AuthRejectedError struct {
	Status  int
	Message string
}

func (e *AuthRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", ErrAuthRejected.Error(), e.Status)
	}
	return fmt.Sprintf("%s: %s", ErrAuthRejected.Error(), e.Message)
}

func (e *AuthRejectedError) Unwrap() error { return ErrAuthRejected }
