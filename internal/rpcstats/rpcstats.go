// Package rpcstats defines the contract between the profiler and the
// host-specific RPC interception peer, and the result shape the bundle
// aggregation accommodates.
package rpcstats

import "context"

type (
	// Call is one intercepted RPC.
	Call struct {
		Service    string  `json:"service"`
		Method     string  `json:"method"`
		StartMS    float64 `json:"start_ms"`
		DurationMS float64 `json:"duration_ms"`
		Request    string  `json:"request,omitempty"`
		Response   string  `json:"response,omitempty"`
	}

	// Result is the RPC profiler's contribution to a result bundle. An
	// empty result, not an absent one, represents "RPC profiling off".
	Result struct {
		Calls       []Call  `json:"calls"`
		TotalTimeMS float64 `json:"total_time"`
	}

	// Config tunes the interceptor. DisableSharedRateLimitLock asks the
	// interceptor to skip any cross-process lock it would normally take to
	// rate-limit concurrent recording, so a profiled request is never
	// starved by recording happening elsewhere.
	Config struct {
		DisableSharedRateLimitLock bool
	}

	// Interceptor is implemented by the host platform. Start attaches the
	// interception for the current request; Stop detaches it and returns
	// what was recorded.
	Interceptor interface {
		Start(ctx context.Context)
		Stop() Result
	}
)

// Empty is the result reported when RPC profiling is disabled.
func Empty() Result {
	return Result{Calls: []Call{}}
}
