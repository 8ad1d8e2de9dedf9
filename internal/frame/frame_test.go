package frame

import (
	"testing"

	"github.com/reqprof/reqprof/internal/testutil"
)

func TestFrameKeys(t *testing.T) {
	f := Frame{File: "/srv/app/handler.go", Function: "app.handleRequest", Line: 87}

	if got, want := f.Description(), "/srv/app/handler.go:87 (app.handleRequest)"; got != want {
		t.Fatalf("description: got %q want %q", got, want)
	}
	if got, want := f.TreeKey(), "/srv/app/handler.go (app.handleRequest)"; got != want {
		t.Fatalf("tree key: got %q want %q", got, want)
	}
	if got, want := f.ShortName(), "handler.go:87 (app.handleRequest)"; got != want {
		t.Fatalf("short name: got %q want %q", got, want)
	}

	// Go function names carry their package path; only the file component
	// may be shortened.
	qualified := Frame{
		File:     "/srv/app/session.go",
		Function: "github.com/example/app/internal/web.Handle",
		Line:     20,
	}
	if got, want := qualified.ShortName(), "session.go:20 (github.com/example/app/internal/web.Handle)"; got != want {
		t.Fatalf("short name: got %q want %q", got, want)
	}

	// Same function, different lines: distinct descriptions, one tree key.
	g := f
	g.Line = 92
	if f.Description() == g.Description() {
		t.Fatal("descriptions with different lines should differ")
	}
	if f.TreeKey() != g.TreeKey() {
		t.Fatal("tree keys should ignore the line number")
	}
}

func TestParseDump(t *testing.T) {
	dump := []byte(`goroutine 1 [running]:
main.innermost(0xc000010250, 0x1)
	/srv/app/inner.go:12 +0x6e
main.outer()
	/srv/app/outer.go:40 +0x1f
created by net/http.(*Server).Serve
	/usr/local/go/src/net/http/server.go:3071 +0x4db

goroutine 18 [sleep]:
time.Sleep(0x3b9aca00)
	/usr/local/go/src/runtime/time.go:195 +0x135
`)

	want := []GoroutineRecord{
		{
			ID:    1,
			State: "running",
			Frames: []Frame{
				{File: "/srv/app/inner.go", Function: "main.innermost", Line: 12},
				{File: "/srv/app/outer.go", Function: "main.outer", Line: 40},
			},
		},
		{
			ID:    18,
			State: "sleep",
			Frames: []Frame{
				{File: "/usr/local/go/src/runtime/time.go", Function: "time.Sleep", Line: 195},
			},
		},
	}

	got := ParseDump(dump)
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("parsed dump mismatch: %s", diff)
	}
}

func TestParseDumpGarbage(t *testing.T) {
	tests := []struct {
		name string
		dump string
	}{
		{"empty", ""},
		{"no header", "main.f()\n\t/srv/f.go:1 +0x1\n"},
		{"truncated", "goroutine 7 [running]:\nmain.f(0xc0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, r := range ParseDump([]byte(tt.dump)) {
				if r.ID == 0 {
					t.Fatalf("record without goroutine id: %+v", r)
				}
			}
		})
	}
}

func TestParseHeader(t *testing.T) {
	id, ok := ParseHeader([]byte("goroutine 1234 [running]:\nmain.main()\n\t/srv/main.go:10 +0x1f\n"))
	if !ok || id != 1234 {
		t.Fatalf("got id=%d ok=%t, want 1234 true", id, ok)
	}
	if _, ok := ParseHeader([]byte("nonsense")); ok {
		t.Fatal("expected header parse to fail")
	}
}
