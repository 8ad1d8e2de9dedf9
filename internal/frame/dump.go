package frame

import (
	"strconv"
	"strings"
)

type (
	// GoroutineRecord is one goroutine's entry in a runtime.Stack dump, with
	// frames ordered innermost first.
	GoroutineRecord struct {
		ID     uint64
		State  string
		Frames []Frame
	}
)

// ParseDump parses the text produced by runtime.Stack(buf, true) into one
// record per goroutine. Records that cannot be parsed are skipped rather
// than reported: a torn or truncated dump only costs the affected samples.
func ParseDump(dump []byte) []GoroutineRecord {
	var records []GoroutineRecord
	for _, block := range strings.Split(string(dump), "\n\n") {
		if block == "" {
			continue
		}
		if r, ok := parseGoroutine(block); ok {
			records = append(records, r)
		}
	}
	return records
}

// ParseHeader extracts the goroutine id from the first line of a stack dump.
// It is how a goroutine learns its own identity before handing it to the
// sampler.
func ParseHeader(dump []byte) (uint64, bool) {
	id, _, ok := parseHeaderLine(firstLine(string(dump)))
	return id, ok
}

func parseGoroutine(block string) (GoroutineRecord, bool) {
	lines := strings.Split(strings.TrimRight(block, "\n"), "\n")
	if len(lines) == 0 {
		return GoroutineRecord{}, false
	}
	id, state, ok := parseHeaderLine(lines[0])
	if !ok {
		return GoroutineRecord{}, false
	}
	r := GoroutineRecord{ID: id, State: state}
	for i := 1; i+1 < len(lines); i += 2 {
		funcLine, fileLine := lines[i], lines[i+1]
		// "created by" marks the goroutine's origin, not a stack frame.
		if strings.HasPrefix(funcLine, "created by ") {
			break
		}
		f, ok := parseFrame(funcLine, fileLine)
		if !ok {
			continue
		}
		r.Frames = append(r.Frames, f)
	}
	return r, true
}

// parseHeaderLine parses "goroutine 42 [running]:".
func parseHeaderLine(line string) (uint64, string, bool) {
	rest, found := cutPrefix(line, "goroutine ")
	if !found {
		return 0, "", false
	}
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return 0, "", false
	}
	id, err := strconv.ParseUint(rest[:sp], 10, 64)
	if err != nil {
		return 0, "", false
	}
	state := strings.TrimSuffix(rest[sp+1:], ":")
	state = strings.TrimPrefix(state, "[")
	state = strings.TrimSuffix(state, "]")
	return id, state, true
}

// parseFrame parses a function line and its indented source line, e.g.
//
//	main.handleRequest(0xc000010250)
//		/srv/app/handler.go:87 +0x6e
func parseFrame(funcLine, fileLine string) (Frame, bool) {
	if !strings.HasPrefix(fileLine, "\t") {
		return Frame{}, false
	}
	name := funcLine
	if i := strings.LastIndexByte(name, '('); i > 0 {
		name = name[:i]
	}

	loc := strings.TrimPrefix(fileLine, "\t")
	if i := strings.IndexByte(loc, ' '); i >= 0 {
		loc = loc[:i]
	}
	i := strings.LastIndexByte(loc, ':')
	if i < 0 {
		return Frame{}, false
	}
	line, err := strconv.Atoi(loc[i+1:])
	if err != nil {
		return Frame{}, false
	}
	return Frame{File: loc[:i], Function: name, Line: line}, true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
