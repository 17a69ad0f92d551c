// Package requestcontext provides transport-independent accessors for values
// scoped to one inbound event or admin request.
//
// Usage in handlers (set values):
//
//	ctx = requestcontext.WithParticipantID(ctx, ev.ParticipantID)
//	ctx = requestcontext.WithRequestID(ctx, uuid.NewString())
//
// Usage in services (read values):
//
//	pid := requestcontext.ParticipantID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "zodiac/pkg/domain"
)

type (
	participantIDKey struct{}
	requestIDKey     struct{}
	requestTimeKey   struct{}
)

var (
	ContextKeyParticipantID = participantIDKey{}
	ContextKeyRequestID     = requestIDKey{}
	ContextKeyRequestTime   = requestTimeKey{}
)

// ParticipantID returns the participant the current event belongs to, or zero.
func ParticipantID(ctx context.Context) id.ParticipantID {
	if pid, ok := ctx.Value(ContextKeyParticipantID).(id.ParticipantID); ok {
		return pid
	}
	return 0
}

func WithParticipantID(ctx context.Context, pid id.ParticipantID) context.Context {
	return context.WithValue(ctx, ContextKeyParticipantID, pid)
}

// RequestID returns the correlation id of the current event or request.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the event-scoped time from context.
// Falls back to time.Now() when not set (watchers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins "now" for everything downstream of ctx.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
