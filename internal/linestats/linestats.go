// Package linestats aggregates per-line hit and timing counters produced by
// an external line-instrumentation backend into padded per-function tables.
// Only functions explicitly marked in a Registry are covered.
package linestats

import (
	"fmt"
	"sort"
	"sync"
)

type (
	// FuncKey identifies one profiled function.
	FuncKey struct {
		File      string
		StartLine int
		Name      string
	}

	// LineSample is one line's raw counters in the backend's time unit.
	LineSample struct {
		Line int
		Hits int64
		Time int64
	}

	// Stats is the raw output of a backend after the profiled call
	// completed. Unit is the backend's time unit in seconds per tick.
	Stats struct {
		Unit    float64
		Timings map[FuncKey][]LineSample
	}

	// Backend produces line statistics for the registered functions. The
	// instrumentation mechanism is host specific and supplied externally;
	// a nil backend is a supported, degraded condition.
	Backend interface {
		Stats() (*Stats, error)
	}

	// Runner is implemented by backends that need to wrap the profiled
	// call to install their instrumentation.
	Runner interface {
		Run(fn func() error) error
	}

	// Registry holds the set of functions marked for line profiling.
	Registry struct {
		mu    sync.Mutex
		funcs []FuncKey
	}
)

// Register marks a function for line profiling. Registering the same
// function twice is a no-op.
func (r *Registry) Register(file string, startLine int, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := FuncKey{File: file, StartLine: startLine, Name: name}
	for _, f := range r.funcs {
		if f == key {
			return
		}
	}
	r.funcs = append(r.funcs, key)
}

// Functions returns the marked functions in registration order.
func (r *Registry) Functions() []FuncKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FuncKey, len(r.funcs))
	copy(out, r.funcs)
	return out
}

type (
	// LineTiming is one row of a function's padded table.
	LineTiming struct {
		Line int `json:"lineno"`
		// Source is the line's source text when the file is readable.
		Source string `json:"line,omitempty"`
		// Hits is NeverExecuted for lines the backend never saw.
		Hits        int64   `json:"numhits"`
		TimeMS      float64 `json:"time_ms"`
		PercentTime float64 `json:"perc_time"`
	}

	// FunctionTiming covers every line of one function's source block,
	// [StartLine, EndLine), with no gaps.
	FunctionTiming struct {
		File        string       `json:"filename"`
		StartLine   int          `json:"start_lineno"`
		EndLine     int          `json:"end_lineno"`
		Name        string       `json:"func_name"`
		TotalTimeMS float64      `json:"total_time_ms"`
		Timings     []LineTiming `json:"timings"`
	}

	// Result is the line profiler's contribution to a result bundle.
	Result struct {
		Message         string           `json:"message,omitempty"`
		FunctionsMarked int              `json:"num_functions_marked"`
		Calls           []FunctionTiming `json:"calls"`
	}
)

// NeverExecuted marks a line with no recorded hits.
const NeverExecuted int64 = -1

// Aggregate turns raw backend stats into padded per-function tables. A nil
// or failing backend degrades to an explanatory message; the request is
// never failed.
func Aggregate(reg *Registry, backend Backend) Result {
	res := Result{
		FunctionsMarked: len(reg.Functions()),
		Calls:           []FunctionTiming{},
	}
	if backend == nil {
		res.Message = "line profiling is not available in this environment"
		return res
	}
	if res.FunctionsMarked == 0 {
		res.Message = "no functions are marked for line profiling"
		return res
	}

	stats, err := backend.Stats()
	if err != nil {
		res.Message = fmt.Sprintf("line profiling backend failed: %v", err)
		return res
	}

	keys := make([]FuncKey, 0, len(stats.Timings))
	for key := range stats.Timings {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.Name < b.Name
	})

	for _, key := range keys {
		samples := stats.Timings[key]
		if len(samples) == 0 {
			continue
		}
		res.Calls = append(res.Calls, functionTable(key, samples, stats.Unit))
	}
	return res
}

// functionTable pads one function's samples out to its full source block.
// The backend reports time in an arbitrary fixed unit; the conversion
// factor to milliseconds is unit/1e-3.
func functionTable(key FuncKey, samples []LineSample, unit float64) FunctionTiming {
	byLine := make(map[int]LineSample, len(samples))
	maxLine := key.StartLine
	for _, s := range samples {
		byLine[s.Line] = s
		if s.Line >= maxLine {
			maxLine = s.Line + 1
		}
	}

	endLine, source := blockEnd(key.File, key.StartLine)
	if endLine <= key.StartLine {
		// Source block not locatable: span the sampled lines so the
		// table stays contiguous.
		endLine = maxLine
	}

	multiplier := unit / 1e-3
	ft := FunctionTiming{
		File:      key.File,
		StartLine: key.StartLine,
		EndLine:   endLine,
		Name:      key.Name,
	}
	for line := key.StartLine; line < endLine; line++ {
		row := LineTiming{Line: line, Hits: NeverExecuted}
		if s, ok := byLine[line]; ok {
			row.Hits = s.Hits
			row.TimeMS = float64(s.Time) * multiplier
		}
		if line-1 < len(source) && line >= 1 {
			row.Source = source[line-1]
		}
		ft.TotalTimeMS += row.TimeMS
		ft.Timings = append(ft.Timings, row)
	}
	if ft.TotalTimeMS > 0 {
		for i := range ft.Timings {
			ft.Timings[i].PercentTime = 100 * ft.Timings[i].TimeMS / ft.TotalTimeMS
		}
	}
	return ft
}
