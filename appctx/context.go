package appctx

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> workflow <-> api).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyCorrelationId = ContextKey("CorrelationId")
	// ContextKeyMessageId carries the Pub/Sub message id of a pushed event.
	ContextKeyMessageId = ContextKey("MessageId")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

// CorrelationId returns the request's correlation id, or "" when none was set.
func CorrelationId(ctx context.Context) string {
	v, _ := GetString(ctx, ContextKeyCorrelationId)
	return v
}

// WithCorrelationId stores id, generating a new one when id is empty.
func WithCorrelationId(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return Set(ctx, ContextKeyCorrelationId, id)
}

// MessageId returns the Pub/Sub message id of a pushed event, or "".
func MessageId(ctx context.Context) string {
	v, _ := GetString(ctx, ContextKeyMessageId)
	return v
}
