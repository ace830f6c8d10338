package logger

import "context"

type contextKey string

const (
	loggerKey      contextKey = "authpersist.logger"
	operationIDKey contextKey = "authpersist.operation_id"
	messageIDKey   contextKey = "authpersist.message_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context, falling back to Default.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithOperationID tags the context with the ID of a queued manager
// operation.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey, id)
}

// OperationIDFromContext returns the operation ID, or "".
func OperationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(operationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithMessageID tags the context with the ID of a messaging request.
func WithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, messageIDKey, id)
}

// MessageIDFromContext returns the message ID, or "".
func MessageIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(messageIDKey).(string); ok {
		return id
	}
	return ""
}

// L returns the context logger enriched with the IDs found in ctx.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)
	if id := OperationIDFromContext(ctx); id != "" {
		l = l.With("operation_id", id)
	}
	if id := MessageIDFromContext(ctx); id != "" {
		l = l.With("message_id", id)
	}
	return l
}
