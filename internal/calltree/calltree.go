// Package calltree turns an ordered run of stack samples into a
// deduplicated frame table, an indexed sample list and a call tree with
// per-node accumulated time, ready for flamechart-style viewers.
package calltree

import (
	"time"

	"github.com/reqprof/reqprof/internal/frame"
	"github.com/reqprof/reqprof/internal/sampler"
)

type (
	// Node is one call-tree node. Children are keyed by (file, function),
	// not by line, so every sample inside the same function lands in the
	// same subtree node regardless of which line was executing.
	Node struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
		File string `json:"file,omitempty"`
		// Line is the first line observed for this (file, function); the
		// exact per-sample lines live in the frame table instead.
		Line int `json:"line,omitempty"`
		// SelfTimeMS is the time attributed directly to this node: the sum
		// of deltas of samples whose full stack ended here.
		SelfTimeMS float64 `json:"self_time_ms"`
		// TotalTimeMS is SelfTimeMS plus all descendants, filled in when
		// aggregation finishes.
		TotalTimeMS float64 `json:"total_time_ms"`
		Hits        int     `json:"hits"`
		Children    []*Node `json:"children,omitempty"`

		callUID    int
		childIndex map[string]*Node
	}

	// IndexedSample references stacks through the frame table by index,
	// innermost frame first.
	IndexedSample struct {
		TimestampMS           float64  `json:"timestamp_ms"`
		MemoryMB              *float64 `json:"memory_used"`
		StackFrames           []int    `json:"stack_frames"`
		PrevMemorySampleIndex *int     `json:"prev_memory_sample_index,omitempty"`
	}

	// MemoryStats summarizes memory readings over the run.
	MemoryStats struct {
		StartMB float64 `json:"start_mb"`
		MaxMB   float64 `json:"max_mb"`
		EndMB   float64 `json:"end_mb"`
	}

	// Aggregation is the result of one run. The frame table compresses the
	// sample list: stacks repeat heavily, so each sample stores indices
	// into Frames rather than the descriptions themselves.
	Aggregation struct {
		FrameNames   []string        `json:"frame_names"`
		Samples      []IndexedSample `json:"samples"`
		TotalSamples int             `json:"total_samples"`
		Root         *Node           `json:"call_tree"`
		Memory       *MemoryStats    `json:"memory,omitempty"`

		Frames []frame.Frame `json:"-"`

		startTime     time.Time
		durationMS    float64
		sampleNodeIDs []int
	}
)

// Source is the finished sampling run an aggregation reads from.
// *sampler.Profile satisfies it once Stop has returned.
type Source interface {
	Samples() []sampler.Sample
	MemorySamples() map[float64]float64
	MemorySamplingEnabled() bool
	StartTime() time.Time
}

// Aggregate builds the frame table, indexed samples and call tree from a
// finished sampling profile.
//
// Time attribution: each sample carries the delta to its predecessor; the
// first sample has none and is assigned one nominal sampling interval, a
// documented approximation. The delta accrues on the node reached after
// walking the sample's full stack, so a node's self time is the time the
// program was observed exactly there.
func Aggregate(prof Source) *Aggregation {
	samples := prof.Samples()
	memory := prof.MemorySamples()

	a := &Aggregation{
		FrameNames:   []string{},
		Samples:      make([]IndexedSample, 0, len(samples)),
		TotalSamples: len(samples),
		startTime:    prof.StartTime(),
	}

	root := &Node{ID: 1, Name: "(root)", childIndex: make(map[string]*Node)}
	a.Root = root
	nextID := 2
	callUIDs := map[string]int{root.Name: 1}

	frameIndexes := make(map[string]int)

	prevTS := 0.0
	for i, s := range samples {
		delta := s.TimestampMS - prevTS
		if i == 0 {
			delta = sampler.NominalIntervalMS
		}
		prevTS = s.TimestampMS

		// Frame table dedups on the exact sampled line.
		indices := make([]int, 0, len(s.Frames))
		for _, f := range s.Frames {
			desc := f.Description()
			idx, seen := frameIndexes[desc]
			if !seen {
				idx = len(a.Frames)
				frameIndexes[desc] = idx
				a.Frames = append(a.Frames, f)
				a.FrameNames = append(a.FrameNames, f.ShortName())
			}
			indices = append(indices, idx)
		}

		// The tree walks outward in, one level per frame.
		node := root
		for j := len(s.Frames) - 1; j >= 0; j-- {
			f := s.Frames[j]
			key := f.TreeKey()
			child, ok := node.childIndex[key]
			if !ok {
				uid, seen := callUIDs[key]
				if !seen {
					uid = len(callUIDs) + 1
					callUIDs[key] = uid
				}
				child = &Node{
					ID:         nextID,
					Name:       f.Function,
					File:       f.File,
					Line:       f.Line,
					callUID:    uid,
					childIndex: make(map[string]*Node),
				}
				nextID++
				node.childIndex[key] = child
				node.Children = append(node.Children, child)
			}
			node = child
		}
		node.SelfTimeMS += delta
		node.Hits++
		a.sampleNodeIDs = append(a.sampleNodeIDs, node.ID)

		is := IndexedSample{TimestampMS: s.TimestampMS, StackFrames: indices}
		if mb, ok := memory[s.TimestampMS]; ok {
			m := mb
			is.MemoryMB = &m
		}
		a.Samples = append(a.Samples, is)
		a.durationMS = s.TimestampMS
	}

	root.finalize()

	if prof.MemorySamplingEnabled() {
		a.indexMemorySamples()
		a.Memory = a.memoryStats()
	}
	return a
}

// finalize computes total times bottom-up. The root's total equals the sum
// of all sample deltas, which conserves the run duration approximation.
func (n *Node) finalize() float64 {
	total := n.SelfTimeMS
	for _, c := range n.Children {
		total += c.finalize()
	}
	n.TotalTimeMS = total
	return total
}

// FindFunction returns the first node for the given function name in
// depth-first order, or nil.
func (n *Node) FindFunction(name string) *Node {
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := c.FindFunction(name); found != nil {
			return found
		}
	}
	return nil
}

// Walk calls fn for every node in depth-first order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// indexMemorySamples annotates each sample with the index of the closest
// preceding memory reading, a convenience for viewers rendering a memory
// track next to the flamechart.
func (a *Aggregation) indexMemorySamples() {
	prev := 0
	for i := range a.Samples {
		p := prev
		a.Samples[i].PrevMemorySampleIndex = &p
		if a.Samples[i].MemoryMB != nil {
			prev = i
		}
	}
}

func (a *Aggregation) memoryStats() *MemoryStats {
	var stats *MemoryStats
	for _, s := range a.Samples {
		if s.MemoryMB == nil {
			continue
		}
		mb := *s.MemoryMB
		if stats == nil {
			stats = &MemoryStats{StartMB: mb, MaxMB: mb, EndMB: mb}
			continue
		}
		if mb > stats.MaxMB {
			stats.MaxMB = mb
		}
		stats.EndMB = mb
	}
	return stats
}
