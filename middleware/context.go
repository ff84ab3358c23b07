package middleware

import "context"

// Context key type to avoid collisions
type contextKey string

const (
	// UsernameKey is the context key for the authenticated local username
	UsernameKey contextKey = "username"

	// SubjectKey is the context key for the provider subject, when known
	SubjectKey contextKey = "subject"
)

// WithUsername adds the authenticated username to the context
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, UsernameKey, username)
}

// UsernameFromContext retrieves the authenticated username, or ""
func UsernameFromContext(ctx context.Context) string {
	if username, ok := ctx.Value(UsernameKey).(string); ok {
		return username
	}
	return ""
}

// WithSubject adds the provider subject to the context
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

// SubjectFromContext retrieves the provider subject. Requests authenticated
// by a server-side session carry no subject.
func SubjectFromContext(ctx context.Context) string {
	if subject, ok := ctx.Value(SubjectKey).(string); ok {
		return subject
	}
	return ""
}
