package frame

import (
	"fmt"
	"strings"
)

type (
	// Frame describes one level of a captured call stack. Line is the line
	// being executed at capture time, not the first line of the function.
	Frame struct {
		File     string `json:"file"`
		Function string `json:"function"`
		Line     int    `json:"line"`
	}
)

// Description returns the frame's textual form, "file:line (function)".
// Two samples hitting the same file, line and function share a description,
// which makes it the deduplication key for the frame table.
func (f Frame) Description() string {
	return fmt.Sprintf("%s:%d (%s)", f.File, f.Line, f.Function)
}

// TreeKey identifies a frame for call-tree construction. It deliberately
// ignores the line number so that repeated samples inside the same function
// collapse into a single subtree node.
func (f Frame) TreeKey() string {
	return fmt.Sprintf("%s (%s)", f.File, f.Function)
}

// ShortName returns the frame description with the file shortened to its
// basename, used for display frame names. Only the file is shortened:
// function names carry their package path, which may itself contain
// slashes.
func (f Frame) ShortName() string {
	file := f.File
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s:%d (%s)", file, f.Line, f.Function)
}
