package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/termai/schema"
)

type contextKey int

const (
	sessionKey contextKey = iota
	runKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with the session id if present.
func WithSession(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session", sessionID)
	}
	return log
}

// WithSessionRun annotates the logger with session and run identifiers.
func WithSessionRun(ctx context.Context, sessionID schema.SessionID, runID schema.RunID) pslog.Logger {
	log := WithSession(ctx, sessionID)
	if runID != "" {
		if current, ok := ctx.Value(runKey).(schema.RunID); ok && current == runID {
			return log
		}
		log = log.With("run", runID)
	}
	return log
}

// WithModel annotates the logger with model metadata when available.
func WithModel(log pslog.Logger, model schema.ModelID, provider schema.ProviderID) pslog.Logger {
	if model != "" {
		log = log.With("model", model)
	}
	if provider != "" {
		log = log.With("provider", provider)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithRun stores the run marker on the context for log de-duplication.
func ContextWithRun(ctx context.Context, runID schema.RunID) context.Context {
	if ctx == nil || runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey, runID)
}

// ContextWithSessionRun stores session/run markers on the context for log de-duplication.
func ContextWithSessionRun(ctx context.Context, sessionID schema.SessionID, runID schema.RunID) context.Context {
	return ContextWithRun(ContextWithSession(ctx, sessionID), runID)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, sessionID)
}
