package calltree

import (
	"math"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/reqprof/reqprof/internal/frame"
	"github.com/reqprof/reqprof/internal/sampler"
	"github.com/reqprof/reqprof/internal/testutil"
)

type fakeSource struct {
	samples []sampler.Sample
	memory  map[float64]float64
}

func (s fakeSource) Samples() []sampler.Sample          { return s.samples }
func (s fakeSource) MemorySamples() map[float64]float64 { return s.memory }
func (s fakeSource) MemorySamplingEnabled() bool        { return s.memory != nil }
func (s fakeSource) StartTime() time.Time               { return time.Unix(1700000000, 0) }

var (
	frameMain  = frame.Frame{File: "/srv/app/main.go", Function: "main.main", Line: 10}
	frameFoo   = frame.Frame{File: "/srv/app/foo.go", Function: "app.foo", Line: 20}
	frameFoo22 = frame.Frame{File: "/srv/app/foo.go", Function: "app.foo", Line: 22}
	frameBar   = frame.Frame{File: "/srv/app/bar.go", Function: "app.bar", Line: 30}
)

// stacks below are innermost first, matching capture order.
func threeSampleSource() fakeSource {
	return fakeSource{
		samples: []sampler.Sample{
			{TimestampMS: 10, Frames: []frame.Frame{frameFoo, frameMain}},
			{TimestampMS: 20, Frames: []frame.Frame{frameFoo22, frameMain}},
			{TimestampMS: 30, Frames: []frame.Frame{frameBar, frameFoo, frameMain}},
		},
	}
}

func TestAggregateFrameTable(t *testing.T) {
	a := Aggregate(threeSampleSource())

	// Frame table dedups on exact line: foo at line 20 and 22 stay
	// distinct entries.
	wantNames := []string{
		"foo.go:20 (app.foo)",
		"main.go:10 (main.main)",
		"foo.go:22 (app.foo)",
		"bar.go:30 (app.bar)",
	}
	if diff := testutil.Diff(a.FrameNames, wantNames); diff != "" {
		t.Fatalf("frame names mismatch: %s", diff)
	}

	wantStacks := [][]int{{0, 1}, {2, 1}, {3, 0, 1}}
	for i, s := range a.Samples {
		if diff := testutil.Diff(s.StackFrames, wantStacks[i]); diff != "" {
			t.Fatalf("sample %d stack mismatch: %s", i, diff)
		}
	}
	if a.TotalSamples != 3 {
		t.Fatalf("total samples: got %d want 3", a.TotalSamples)
	}
}

func TestAggregateTreeShape(t *testing.T) {
	a := Aggregate(threeSampleSource())

	root := a.Root
	if root.Name != "(root)" || len(root.Children) != 1 {
		t.Fatalf("unexpected root: %+v", root)
	}
	main := root.Children[0]
	if main.Name != "main.main" || len(main.Children) != 1 {
		t.Fatalf("unexpected main node: %+v", main)
	}

	// The tree collapses on (file, function): both foo lines share a node.
	foo := main.Children[0]
	if foo.Name != "app.foo" {
		t.Fatalf("unexpected foo node: %+v", foo)
	}
	if foo.Line != 20 {
		t.Fatalf("foo node line: got %d want first-seen 20", foo.Line)
	}
	if len(foo.Children) != 1 || foo.Children[0].Name != "app.bar" {
		t.Fatalf("unexpected foo children: %+v", foo.Children)
	}

	// First sample gets a synthetic nominal-interval delta; the others get
	// timestamp differences. foo absorbs samples 1 and 2, bar sample 3.
	wantFooSelf := sampler.NominalIntervalMS + 10
	if math.Abs(foo.SelfTimeMS-wantFooSelf) > 1e-9 {
		t.Fatalf("foo self time: got %f want %f", foo.SelfTimeMS, wantFooSelf)
	}
	if math.Abs(foo.Children[0].SelfTimeMS-10) > 1e-9 {
		t.Fatalf("bar self time: got %f want 10", foo.Children[0].SelfTimeMS)
	}
}

func TestAggregateTimeConservation(t *testing.T) {
	a := Aggregate(threeSampleSource())

	// Root total equals the sum of all deltas: nominal + 10 + 10.
	want := sampler.NominalIntervalMS + 20
	if math.Abs(a.Root.TotalTimeMS-want) > 1e-9 {
		t.Fatalf("root total: got %f want %f", a.Root.TotalTimeMS, want)
	}

	var selfSum float64
	a.Root.Walk(func(n *Node) { selfSum += n.SelfTimeMS })
	if math.Abs(selfSum-a.Root.TotalTimeMS) > 1e-9 {
		t.Fatalf("self-time sum %f != root total %f", selfSum, a.Root.TotalTimeMS)
	}
}

func TestAggregateNodeIDsUniqueAndStable(t *testing.T) {
	src := threeSampleSource()
	a := Aggregate(src)
	b := Aggregate(src)

	collect := func(root *Node) map[int]string {
		ids := make(map[int]string)
		root.Walk(func(n *Node) {
			if _, dup := ids[n.ID]; dup {
				t.Fatalf("duplicate node id %d", n.ID)
			}
			ids[n.ID] = n.Name
		})
		return ids
	}

	if diff := testutil.Diff(collect(a.Root), collect(b.Root)); diff != "" {
		t.Fatalf("ids not stable across identical runs: %s", diff)
	}
}

func TestAggregateEmptyRun(t *testing.T) {
	a := Aggregate(fakeSource{})
	if a.TotalSamples != 0 || len(a.Samples) != 0 || len(a.FrameNames) != 0 {
		t.Fatalf("unexpected aggregation for empty run: %+v", a)
	}
	if a.Root == nil || len(a.Root.Children) != 0 {
		t.Fatalf("expected bare root, got %+v", a.Root)
	}
	if a.Root.TotalTimeMS != 0 {
		t.Fatalf("empty run root total: %f", a.Root.TotalTimeMS)
	}
}

func TestAggregateMemory(t *testing.T) {
	src := threeSampleSource()
	src.memory = map[float64]float64{10: 100.5, 30: 120.25}

	a := Aggregate(src)

	if a.Samples[0].MemoryMB == nil || *a.Samples[0].MemoryMB != 100.5 {
		t.Fatalf("sample 0 memory: %+v", a.Samples[0].MemoryMB)
	}
	if a.Samples[1].MemoryMB != nil {
		t.Fatal("sample 1 should have no memory reading")
	}

	wantPrev := []int{0, 0, 0}
	for i, s := range a.Samples {
		if s.PrevMemorySampleIndex == nil || *s.PrevMemorySampleIndex != wantPrev[i] {
			t.Fatalf("sample %d prev memory index: %+v", i, s.PrevMemorySampleIndex)
		}
	}

	want := &MemoryStats{StartMB: 100.5, MaxMB: 120.25, EndMB: 120.25}
	if diff := testutil.Diff(a.Memory, want); diff != "" {
		t.Fatalf("memory stats mismatch: %s", diff)
	}
}

func TestCpuprofile(t *testing.T) {
	a := Aggregate(threeSampleSource())

	raw, err := a.Cpuprofile()
	if err != nil {
		t.Fatal(err)
	}

	var out struct {
		Head struct {
			FunctionName string `json:"functionName"`
			ID           int    `json:"id"`
			Children     []struct {
				FunctionName string `json:"functionName"`
				HitCount     int    `json:"hitCount"`
			} `json:"children"`
		} `json:"head"`
		Samples    []int   `json:"samples"`
		Timestamps []int64 `json:"timestamps"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("cpuprofile is not valid JSON: %v", err)
	}

	if out.Head.FunctionName != "(root)" {
		t.Fatalf("head function: %q", out.Head.FunctionName)
	}
	if len(out.Samples) != 3 || len(out.Timestamps) != 3 {
		t.Fatalf("samples/timestamps length: %d/%d", len(out.Samples), len(out.Timestamps))
	}
	if out.Timestamps[0] != 10000 {
		t.Fatalf("first timestamp in us: %d", out.Timestamps[0])
	}
}

func TestPprofExport(t *testing.T) {
	a := Aggregate(threeSampleSource())

	p := a.Pprof()
	if err := p.CheckValid(); err != nil {
		t.Fatalf("invalid pprof profile: %v", err)
	}

	// Distinct stacks: (foo,main) at two lines merge per-location, not
	// per-stack, so three samples produce three distinct stacks here.
	if len(p.Sample) != 3 {
		t.Fatalf("pprof samples: got %d want 3", len(p.Sample))
	}
	var count int64
	for _, s := range p.Sample {
		count += s.Value[0]
	}
	if count != 3 {
		t.Fatalf("total sample count: got %d want 3", count)
	}

	raw, err := a.PprofBytes()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 {
		t.Fatal("empty pprof serialization")
	}
}
