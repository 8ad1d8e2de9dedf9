package reqprof

import "context"

type (
	// Streamer is a lazily produced, finite, one-pass sequence of response
	// chunks. Next returns the next chunk, or ok=false when the stream is
	// exhausted.
	Streamer interface {
		Next() (chunk []byte, ok bool)
	}

	profiledStream struct {
		session *Session
		inner   Streamer
	}
)

// WrapStream returns a streamer whose every pull runs under the session's
// profiling strategy, so coverage extends across the handler's suspension
// points instead of stopping at the first produced chunk.
func (s *Session) WrapStream(inner Streamer) Streamer {
	return &profiledStream{session: s, inner: inner}
}

func (p *profiledStream) Next() ([]byte, bool) {
	var (
		chunk []byte
		ok    bool
	)
	_ = p.session.Profile(context.Background(), func() error {
		chunk, ok = p.inner.Next()
		return nil
	})
	return chunk, ok
}
