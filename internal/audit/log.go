// Package audit records auth-sensitive transitions (login, logout, token
// rotation, CSRF rejections) as structured events.
package audit

import (
	"context"
	"errors"
	"strings"

	"daypack.app/internal/auth"
	"daypack.app/internal/obs"
)

type requestIDKey struct{}

// WithRequestID attaches the request identifier for subsequent audit events.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// LogEvent emits one audit entry, enriched with whatever request, user and
// session context is available.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	entry := map[string]any{
		"type":  "audit",
		"event": event,
	}
	if rid, ok := ctx.Value(requestIDKey{}).(string); ok && rid != "" {
		entry["request_id"] = rid
	}
	if user, ok := auth.UserFromContext(ctx); ok {
		entry["user_id"] = user.ID
	}
	if sid, ok := auth.SessionIDFromContext(ctx); ok {
		entry["session_id"] = sid
	}
	payload := make(map[string]any, len(fields))
	for k, v := range fields {
		payload[k] = v
	}
	entry["fields"] = payload
	obs.LogEvent(entry)
	return nil
}
