package toolexecutor

import "context"

type actorKey struct{}

// WithActor attaches the user a tool runs on behalf of
func WithActor(ctx context.Context, user string) context.Context {
	if user == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, user)
}

// ActorFromContext returns the acting user, or ""
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}
