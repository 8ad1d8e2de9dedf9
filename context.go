package reqprof

import "context"

type sessionKey struct{}

// WithContext attaches the session and its request-scoped logger to ctx.
// Request-scoped state travels in the context rather than any ambient
// global, so concurrent requests cannot observe each other.
func (s *Session) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, sessionKey{}, s)
	logger := s.Logger()
	return logger.WithContext(ctx)
}

// SessionFromContext returns the session profiling the current request, or
// nil when the request is not being profiled.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
