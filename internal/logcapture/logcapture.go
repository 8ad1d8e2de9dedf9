// Package logcapture collects the log records emitted while serving one
// request. Each session gets its own capture writer, so records from
// concurrent unrelated requests never interleave; the request-scoped logger
// travels in the request context rather than any process-global state.
package logcapture

import (
	"io"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type (
	// Line is one captured log record.
	Line struct {
		Level   string `json:"level"`
		Time    string `json:"time,omitempty"`
		Caller  string `json:"caller,omitempty"`
		Message string `json:"message"`
	}

	// Capture is an io.Writer that parses zerolog's JSON events as they
	// are written. Attach it to a session logger with Logger.
	Capture struct {
		mu    sync.Mutex
		lines []Line
	}
)

// New returns an empty capture.
func New() *Capture {
	return &Capture{}
}

// Logger returns a request-scoped logger that writes to out and records
// every event in the capture.
func (c *Capture) Logger(out io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.MultiLevelWriter(out, c)).With().Timestamp().Caller().Logger()
}

// Write parses one zerolog event. Unparseable writes are kept as raw
// messages rather than dropped.
func (c *Capture) Write(p []byte) (int, error) {
	var event struct {
		Level   string `json:"level"`
		Time    string `json:"time"`
		Caller  string `json:"caller"`
		Message string `json:"message"`
	}
	line := Line{}
	if err := json.Unmarshal(p, &event); err != nil {
		line.Message = string(p)
	} else {
		line = Line(event)
	}
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
	return len(p), nil
}

// Lines returns the records captured so far, in emission order.
func (c *Capture) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}
