package calltree

import (
	"github.com/goccy/go-json"
)

type (
	chromeNode struct {
		FunctionName string        `json:"functionName"`
		ScriptID     string        `json:"scriptId"`
		URL          string        `json:"url"`
		LineNumber   int           `json:"lineNumber"`
		ColumnNumber int           `json:"columnNumber"`
		HitCount     int           `json:"hitCount"`
		CallUID      int           `json:"callUID"`
		Children     []*chromeNode `json:"children"`
		ID           int           `json:"id"`
	}

	chromeProfile struct {
		Head       *chromeNode `json:"head"`
		StartTime  float64     `json:"startTime"`
		EndTime    float64     `json:"endTime"`
		Samples    []int       `json:"samples"`
		Timestamps []int64     `json:"timestamps"`
	}
)

// Cpuprofile renders the aggregation in the .cpuprofile interchange format
// understood by Chrome's flamechart viewer. Node ids are the tree's ids;
// they are stable within a run but carry no meaning across runs. Times are
// relative to the run start: startTime/endTime in seconds, per-sample
// timestamps in microseconds.
func (a *Aggregation) Cpuprofile() ([]byte, error) {
	timestamps := make([]int64, 0, len(a.Samples))
	for _, s := range a.Samples {
		timestamps = append(timestamps, int64(s.TimestampMS*1000))
	}
	p := chromeProfile{
		Head:       chromeNodeFrom(a.Root),
		StartTime:  0,
		EndTime:    a.durationMS / 1000,
		Samples:    a.sampleNodeIDs,
		Timestamps: timestamps,
	}
	return json.Marshal(p)
}

func chromeNodeFrom(n *Node) *chromeNode {
	cn := &chromeNode{
		FunctionName: n.Name,
		URL:          n.File,
		LineNumber:   n.Line,
		HitCount:     n.Hits,
		CallUID:      n.callUID,
		Children:     []*chromeNode{},
		ID:           n.ID,
	}
	for _, c := range n.Children {
		cn.Children = append(cn.Children, chromeNodeFrom(c))
	}
	return cn
}
