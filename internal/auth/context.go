package auth

import "context"

type contextKey int

const subjectKey contextKey = iota

// WithSubject attaches the authenticated identity to ctx. "anonymous" when
// the binding has authentication disabled.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext returns the identity authenticated earlier in the
// request pipeline, or "" if none was set.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}
