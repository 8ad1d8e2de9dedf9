// Package mode decides which combination of profiling strategies is active
// for a request.
package mode

import "net/http"

// Mode is the profiling mode requested for one request. It is derived once
// from request signals and never changes for the request's lifetime.
type Mode string

const (
	// Simple records start/end timing for the request as a whole.
	Simple Mode = "simple"
	// CPUInstrumented profiles with the runtime's CPU profiler.
	CPUInstrumented Mode = "instrumented"
	// CPUSampling samples call stacks.
	CPUSampling Mode = "sampling"
	// CPUMemorySampling samples call stacks and memory.
	CPUMemorySampling Mode = "memory_sampling"
	// CPULineByLine records per-line stats for marked functions.
	CPULineByLine Mode = "linebyline"
	// RPCOnly profiles RPC calls only.
	RPCOnly Mode = "rpc"

	RPCAndCPUInstrumented   Mode = "rpc_instrumented"
	RPCAndCPUSampling       Mode = "rpc_sampling"
	RPCAndCPUMemorySampling Mode = "rpc_memory_sampling"
	RPCAndCPULineByLine     Mode = "rpc_linebyline"
)

const (
	// Header carries the requested mode; it wins over the cookie.
	Header = "X-Reqprof-Mode"
	// CookieName is consulted when the header is absent.
	CookieName = "reqprof-mode"
)

var valid = map[Mode]struct{}{
	Simple:                  {},
	CPUInstrumented:         {},
	CPUSampling:             {},
	CPUMemorySampling:       {},
	CPULineByLine:           {},
	RPCOnly:                 {},
	RPCAndCPUInstrumented:   {},
	RPCAndCPUSampling:       {},
	RPCAndCPUMemorySampling: {},
	RPCAndCPULineByLine:     {},
}

// FromRequest reads the requested mode from the request header, then the
// cookie. Anything unrecognized falls back to RPCOnly.
func FromRequest(r *http.Request) Mode {
	value := r.Header.Get(Header)
	if value == "" {
		if c, err := r.Cookie(CookieName); err == nil {
			value = c.Value
		}
	}
	m := Mode(value)
	if _, ok := valid[m]; !ok {
		return RPCOnly
	}
	return m
}

// RPCEnabled reports whether RPC profiling is on. It is orthogonal to the
// CPU strategy.
func (m Mode) RPCEnabled() bool {
	switch m {
	case RPCOnly, RPCAndCPUInstrumented, RPCAndCPUSampling, RPCAndCPUMemorySampling, RPCAndCPULineByLine:
		return true
	}
	return false
}

// SamplingEnabled reports whether the sampling CPU strategy is active.
func (m Mode) SamplingEnabled() bool {
	switch m {
	case CPUSampling, CPUMemorySampling, RPCAndCPUSampling, RPCAndCPUMemorySampling:
		return true
	}
	return false
}

// MemorySamplingEnabled reports whether samples also record memory.
func (m Mode) MemorySamplingEnabled() bool {
	return m == CPUMemorySampling || m == RPCAndCPUMemorySampling
}

// InstrumentedEnabled reports whether the instrumented strategy is active.
func (m Mode) InstrumentedEnabled() bool {
	return m == CPUInstrumented || m == RPCAndCPUInstrumented
}

// LineByLineEnabled reports whether the line-level strategy is active.
func (m Mode) LineByLineEnabled() bool {
	return m == CPULineByLine || m == RPCAndCPULineByLine
}
