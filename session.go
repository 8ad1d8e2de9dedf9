// Package reqprof profiles individual web requests in process. A session
// wraps one request's execution, drives the profiling strategy chosen by
// the request's profile mode, and persists the resulting bundle in a
// chunked, compressed result cache keyed by request id for a later viewer
// to pick up.
package reqprof

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/reqprof/reqprof/internal/linestats"
	"github.com/reqprof/reqprof/internal/logcapture"
	"github.com/reqprof/reqprof/internal/mode"
	"github.com/reqprof/reqprof/internal/resultcache"
	"github.com/reqprof/reqprof/internal/rpcstats"
)

type (
	// Options configures sessions created by a middleware or by hand.
	Options struct {
		// Cache stores finished bundles. Without it results are only
		// returned, never persisted.
		Cache *resultcache.Cache

		// RPC is the host-specific interception peer, active for
		// rpc-enabled modes.
		RPC       rpcstats.Interceptor
		RPCConfig rpcstats.Config

		// LineBackend and LineRegistry feed the line-by-line strategy.
		LineBackend  linestats.Backend
		LineRegistry *linestats.Registry

		// LogOutput receives the request's log stream alongside the
		// capture; defaults to stderr.
		LogOutput io.Writer

		// ShouldProfile decides per request; nil profiles everything.
		ShouldProfile func(r *http.Request) bool
	}

	// Bundle is the terminal artifact of one profiled request. It is
	// created once at request end, serialized into the result cache and
	// immutable afterwards, except for the single-shot Disabled flag
	// flipped by the viewer for redirect-chained results.
	Bundle struct {
		RequestID         string            `json:"request_id"`
		URL               string            `json:"url"`
		Mode              mode.Mode         `json:"mode"`
		TemporaryRedirect bool              `json:"temporary_redirect"`
		Disabled          bool              `json:"disabled"`
		Logs              []logcapture.Line `json:"logs"`
		CPU               CPUResults        `json:"profiler_results"`
		RPC               rpcstats.Result   `json:"rpc_results"`
	}

	// Session owns one request's profiling lifecycle. It is exclusively
	// owned by that request; nothing is shared across requests.
	Session struct {
		RequestID string
		Mode      mode.Mode
		URL       string

		// TemporaryRedirect marks bundles reached through a 302 so the
		// viewer shows them at most once automatically.
		TemporaryRedirect bool

		opts    Options
		cpu     CPUProfiler
		capture *logcapture.Capture
		logger  zerolog.Logger

		start      time.Time
		rpcStarted bool
		rpcResult  rpcstats.Result
	}
)

// NewSession builds a session for one request, selecting the CPU strategy
// from the mode exactly once.
func NewSession(requestID string, m mode.Mode, url string, opts Options) *Session {
	s := &Session{
		RequestID: requestID,
		Mode:      m,
		URL:       url,
		opts:      opts,
		rpcResult: rpcstats.Empty(),
	}

	switch {
	case m.SamplingEnabled():
		s.cpu = newSamplingProfiler(m.MemorySamplingEnabled())
	case m.InstrumentedEnabled():
		s.cpu = &instrumentedProfiler{}
	case m.LineByLineEnabled():
		registry := opts.LineRegistry
		if registry == nil {
			registry = &linestats.Registry{}
		}
		s.cpu = &lineByLineProfiler{registry: registry, backend: opts.LineBackend}
	default:
		s.cpu = simpleProfiler{}
	}

	if m != mode.Simple {
		out := opts.LogOutput
		if out == nil {
			out = os.Stderr
		}
		s.capture = logcapture.New()
		s.logger = s.capture.Logger(out)
	}
	return s
}

// Logger returns the request-scoped logger whose records end up in the
// bundle. In simple mode there is no capture and the logger is a no-op.
func (s *Session) Logger() zerolog.Logger {
	if s.capture == nil {
		return zerolog.Nop()
	}
	return s.logger
}

// Profile runs the request body under the chosen strategy. Simple mode
// passes straight through with only overall timing. Profiling failures
// never propagate: the handler's own error is the only error returned.
func (s *Session) Profile(ctx context.Context, fn func() error) error {
	if s.start.IsZero() {
		s.start = time.Now()
	}
	if s.Mode == mode.Simple {
		return fn()
	}
	if s.Mode.RPCEnabled() && s.opts.RPC != nil && !s.rpcStarted {
		s.opts.RPC.Start(ctx)
		s.rpcStarted = true
	}
	return s.cpu.Run(fn)
}

// Finish closes the session, assembles the bundle and stores it. Storage
// failures are logged and swallowed; profiling must stay side-effect
// transparent to the request.
func (s *Session) Finish(ctx context.Context) *Bundle {
	elapsed := time.Since(s.start)
	if s.rpcStarted {
		s.rpcResult = s.opts.RPC.Stop()
	}

	b := &Bundle{
		RequestID:         s.RequestID,
		URL:               s.URL,
		Mode:              s.Mode,
		TemporaryRedirect: s.TemporaryRedirect,
		Logs:              []logcapture.Line{},
		CPU:               s.cpu.Results(),
		RPC:               s.rpcResult,
	}
	b.CPU.TotalTimeMS = float64(elapsed.Microseconds()) / 1000
	if s.capture != nil {
		b.Logs = s.capture.Lines()
	}

	if s.opts.Cache != nil {
		if err := s.opts.Cache.StoreJSON(ctx, s.RequestID, b); err != nil {
			logger := s.Logger()
			logger.Warn().Err(err).Str("request_id", s.RequestID).
				Msg("could not store profiling results")
		}
	}
	return b
}
