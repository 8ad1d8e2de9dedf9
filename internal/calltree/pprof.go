package calltree

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"

	"github.com/reqprof/reqprof/internal/sampler"
)

// Pprof converts the aggregation into a pprof profile with one sample per
// distinct stack, valued in sample count and accumulated milliseconds.
func (a *Aggregation) Pprof() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "time", Unit: "milliseconds"},
		},
		TimeNanos:     a.startTime.UnixNano(),
		DurationNanos: int64(a.durationMS * 1e6),
		PeriodType:    &profile.ValueType{Type: "time", Unit: "milliseconds"},
		Period:        int64(sampler.NominalIntervalMS),
	}

	functions := make(map[string]*profile.Function)
	locations := make(map[int]*profile.Location)
	for i, f := range a.Frames {
		fn, ok := functions[f.TreeKey()]
		if !ok {
			fn = &profile.Function{
				ID:       uint64(len(functions) + 1),
				Name:     f.Function,
				Filename: f.File,
			}
			functions[f.TreeKey()] = fn
			p.Function = append(p.Function, fn)
		}
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn, Line: int64(f.Line)}},
		}
		locations[i] = loc
		p.Location = append(p.Location, loc)
	}

	type stackValue struct {
		indices []int
		count   int64
		timeMS  float64
	}
	byStack := make(map[string]*stackValue)
	var order []string

	prevTS := 0.0
	for i, s := range a.Samples {
		delta := s.TimestampMS - prevTS
		if i == 0 {
			delta = float64(p.Period)
		}
		prevTS = s.TimestampMS

		key := stackKey(s.StackFrames)
		sv, ok := byStack[key]
		if !ok {
			sv = &stackValue{indices: s.StackFrames}
			byStack[key] = sv
			order = append(order, key)
		}
		sv.count++
		sv.timeMS += delta
	}

	for _, key := range order {
		sv := byStack[key]
		locs := make([]*profile.Location, 0, len(sv.indices))
		for _, idx := range sv.indices {
			locs = append(locs, locations[idx])
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: locs,
			Value:    []int64{sv.count, int64(sv.timeMS)},
		})
	}
	return p
}

// PprofBytes serializes the pprof form to its binary wire format.
func (a *Aggregation) PprofBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := a.Pprof().Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func stackKey(indices []int) string {
	var b strings.Builder
	for _, i := range indices {
		b.WriteString(strconv.Itoa(i))
		b.WriteByte(',')
	}
	return b.String()
}
