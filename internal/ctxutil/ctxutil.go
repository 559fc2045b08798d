// Package ctxutil provides shared context key accessors.
//
// The MCP adapter and embedding callers both need to attach session identity
// to a context the executor can read; both import ctxutil instead of each
// other.
package ctxutil

import "context"

type contextKey string

const (
	keySessionID contextKey = "session_id"
	keyStepID    contextKey = "step_id"
)

// WithSession returns a new context carrying the session and step identity.
func WithSession(ctx context.Context, sessionID, stepID string) context.Context {
	ctx = context.WithValue(ctx, keySessionID, sessionID)
	ctx = context.WithValue(ctx, keyStepID, stepID)
	return ctx
}

// SessionID extracts the session id from the context ("" if absent).
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(keySessionID).(string); ok {
		return v
	}
	return ""
}

// StepID extracts the step id from the context ("" if absent).
func StepID(ctx context.Context) string {
	if v, ok := ctx.Value(keyStepID).(string); ok {
		return v
	}
	return ""
}
