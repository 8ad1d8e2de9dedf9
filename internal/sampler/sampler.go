// Package sampler implements a sampling CPU profiler for a single request.
//
// A background goroutine periodically captures the stack of every live
// goroutine in the process and keeps the one belonging to the goroutine
// under profile. Sampling has a much lower overhead than instrumenting
// every call and avoids the bias instrumentation adds to frequently called
// functions, at the cost of only being able to answer "where is the time
// going" statistically.
package sampler

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reqprof/reqprof/internal/frame"
)

const (
	// SamplesPerSecond is how often the profiled goroutine's stack is
	// captured. Trades overhead against resolution.
	SamplesPerSecond = 100

	// MemorySamplesPerSecond is the target rate of memory readings when
	// memory sampling is on.
	MemorySamplesPerSecond = 25

	// NominalIntervalMS is the scheduled time between two samples.
	NominalIntervalMS = 1000.0 / SamplesPerSecond

	initialDumpBytes = 1 << 17
	maxDumpBytes     = 1 << 24
)

type (
	// Sample is one capture of the profiled goroutine's stack, frames
	// innermost first, timestamped in milliseconds since the profile
	// started. Immutable once recorded.
	Sample struct {
		TimestampMS float64
		Frames      []frame.Frame
	}

	// Profile accumulates samples across one or more Run calls. It is
	// owned by a single request and must not be shared between requests.
	Profile struct {
		samples       []Sample
		memorySamples map[float64]float64 // MB, keyed by sample timestamp
		memoryEvery   int
		sampleIndex   int

		goroutineID uint64
		start       time.Time

		// depth counts Run nesting on the owning goroutine; only the
		// outermost Run starts and stops the loop.
		depth int

		stopc chan struct{}
		wg    sync.WaitGroup
	}
)

// New returns a profile without memory sampling.
func New() *Profile {
	return NewWithMemory(0)
}

// NewWithMemory returns a profile that also records memory usage about
// memoryRate times per second. A rate of 0 disables memory sampling.
func NewWithMemory(memoryRate int) *Profile {
	p := &Profile{
		memorySamples: make(map[float64]float64),
		start:         time.Now(),
	}
	if memoryRate > 0 {
		p.memoryEvery = SamplesPerSecond / memoryRate
		if p.memoryEvery < 1 {
			p.memoryEvery = 1
		}
	}
	return p
}

// Run executes fn with the sampler attached to the calling goroutine.
// Run is reentrant: a nested call, such as a profiled stream pulled from
// inside an already profiled handler, runs under the outer call's loop.
// The outermost Run stops sampling and fully joins the sampling goroutine
// before returning. If the current goroutine cannot be identified the
// function runs unsampled; profiling never fails the request.
func (p *Profile) Run(fn func() error) error {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > 1 {
		return fn()
	}

	if err := p.Start(); err != nil {
		log.Warn().Err(err).Msg("stack sampling unavailable, running unsampled")
		return fn()
	}
	defer p.Stop()
	return fn()
}

// Start records the calling goroutine as the profiled one and launches the
// sampling loop.
func (p *Profile) Start() error {
	id, err := currentGoroutineID()
	if err != nil {
		return err
	}
	p.goroutineID = id
	p.stopc = make(chan struct{})
	p.wg.Add(1)
	go p.loop()
	return nil
}

// Stop signals the sampling loop to end and blocks until it has exited.
// No sample is recorded after Stop returns.
func (p *Profile) Stop() {
	close(p.stopc)
	p.wg.Wait()
}

// Samples returns the accumulated samples in capture order. Only valid
// after Stop (or Run) has returned.
func (p *Profile) Samples() []Sample {
	return p.samples
}

// MemorySamples returns memory readings in MB keyed by sample timestamp.
func (p *Profile) MemorySamples() map[float64]float64 {
	if p.memoryEvery == 0 {
		return nil
	}
	return p.memorySamples
}

// MemorySamplingEnabled reports whether this profile records memory.
func (p *Profile) MemorySamplingEnabled() bool {
	return p.memoryEvery > 0
}

// StartTime is the instant timestamps are relative to.
func (p *Profile) StartTime() time.Time {
	return p.start
}

// loop captures samples on schedule until stopped. The target time advances
// by a fixed interval per iteration and a slow iteration is never
// compensated with a negative sleep, so after a stall the loop samples
// back-to-back until it has caught up.
func (p *Profile) loop() {
	defer p.wg.Done()

	interval := time.Second / SamplesPerSecond
	next := time.Now()
	for {
		select {
		case <-p.stopc:
			if p.memoryEvery > 0 {
				// Guarantee an end-of-request memory reading.
				p.takeSample(true)
			}
			return
		default:
		}

		p.takeSample(false)

		next = next.Add(interval)
		if d := time.Until(next); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-p.stopc:
				t.Stop()
				// Loop once more for the final forced memory sample.
			case <-t.C:
			}
		}
	}
}

// takeSample captures the stacks of all live goroutines and keeps the one
// for the profiled goroutine. The dump is an instantaneous best-effort
// snapshot: a stack mutated mid-walk yields a plausible but slightly stale
// sample, which is accepted as sampling noise.
func (p *Profile) takeSample(forceMemory bool) {
	timestampMS := float64(time.Since(p.start).Microseconds()) / 1000

	for _, r := range frame.ParseDump(captureAll()) {
		if r.ID != p.goroutineID || len(r.Frames) == 0 {
			continue
		}
		p.samples = append(p.samples, Sample{
			TimestampMS: timestampMS,
			Frames:      r.Frames,
		})
		break
	}

	if p.memoryEvery > 0 && (forceMemory || p.sampleIndex%p.memoryEvery == 0) {
		p.memorySamples[timestampMS] = memoryMB()
	}
	p.sampleIndex++
}

func captureAll() []byte {
	buf := make([]byte, initialDumpBytes)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= maxDumpBytes {
			return buf[:n]
		}
		buf = make([]byte, len(buf)*2)
	}
}

func currentGoroutineID() (uint64, error) {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	id, ok := frame.ParseHeader(buf[:n])
	if !ok {
		return 0, errUnknownGoroutine
	}
	return id, nil
}

func memoryMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (1 << 20)
}
