package reqprof

import (
	"bytes"
	"runtime/pprof"

	"github.com/reqprof/reqprof/internal/calltree"
	"github.com/reqprof/reqprof/internal/linestats"
	"github.com/reqprof/reqprof/internal/sampler"
)

type (
	// CPUResults is the CPU profiler's part of a result bundle. Exactly
	// one strategy's fields are populated; Message explains degraded runs.
	CPUResults struct {
		TotalTimeMS float64 `json:"total_time_ms"`
		Message     string  `json:"message,omitempty"`

		Sampling *calltree.Aggregation `json:"sampling,omitempty"`
		// Cpuprofile is UTF-8 JSON in the flamechart interchange format.
		Cpuprofile string `json:"cpuprofile,omitempty"`
		// RawStats is an opaque binary profile (pprof wire format).
		RawStats []byte `json:"raw_stats,omitempty"`

		LineStats *linestats.Result `json:"linestats,omitempty"`
	}

	// CPUProfiler is one profiling strategy. A strategy is selected once
	// per request from the profile mode and constructed explicitly; Run
	// wraps each unit of the request's execution and Results is read once
	// at the end.
	CPUProfiler interface {
		Run(fn func() error) error
		Results() CPUResults
	}
)

// simpleProfiler times nothing itself; overall elapsed time is recorded by
// the session.
type simpleProfiler struct{}

func (simpleProfiler) Run(fn func() error) error { return fn() }
func (simpleProfiler) Results() CPUResults       { return CPUResults{} }

// samplingProfiler runs the stack sampler around each wrapped call.
// Samples accumulate across calls, so streamed responses keep their
// coverage across suspension points.
type samplingProfiler struct {
	prof *sampler.Profile
}

func newSamplingProfiler(memory bool) *samplingProfiler {
	if memory {
		return &samplingProfiler{prof: sampler.NewWithMemory(sampler.MemorySamplesPerSecond)}
	}
	return &samplingProfiler{prof: sampler.New()}
}

func (p *samplingProfiler) Run(fn func() error) error {
	return p.prof.Run(fn)
}

func (p *samplingProfiler) Results() CPUResults {
	agg := calltree.Aggregate(p.prof)
	res := CPUResults{Sampling: agg}
	if cpuprofile, err := agg.Cpuprofile(); err == nil {
		res.Cpuprofile = string(cpuprofile)
	}
	if raw, err := agg.PprofBytes(); err == nil {
		res.RawStats = raw
	}
	return res
}

// instrumentedProfiler uses the runtime's CPU profiler. The runtime
// profiler is process-wide and refuses to start twice, so a request racing
// another instrumented request degrades to an unprofiled run with a
// message.
type instrumentedProfiler struct {
	buf     bytes.Buffer
	message string
	active  bool
}

func (p *instrumentedProfiler) Run(fn func() error) error {
	// A nested call, such as a profiled stream pull, runs under the
	// already active profile.
	if p.active {
		return fn()
	}
	if err := pprof.StartCPUProfile(&p.buf); err != nil {
		p.message = "CPU profiler already active in this process, ran unprofiled"
		return fn()
	}
	p.active = true
	defer func() {
		pprof.StopCPUProfile()
		p.active = false
	}()
	return fn()
}

func (p *instrumentedProfiler) Results() CPUResults {
	return CPUResults{
		Message:  p.message,
		RawStats: p.buf.Bytes(),
	}
}

// lineByLineProfiler defers to the external line-instrumentation backend.
type lineByLineProfiler struct {
	registry *linestats.Registry
	backend  linestats.Backend
}

func (p *lineByLineProfiler) Run(fn func() error) error {
	if runner, ok := p.backend.(linestats.Runner); ok {
		return runner.Run(fn)
	}
	return fn()
}

func (p *lineByLineProfiler) Results() CPUResults {
	res := linestats.Aggregate(p.registry, p.backend)
	return CPUResults{LineStats: &res}
}
