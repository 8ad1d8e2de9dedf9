package reqprof

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"

	"github.com/reqprof/reqprof/internal/logcapture"
	"github.com/reqprof/reqprof/internal/mode"
	"github.com/reqprof/reqprof/internal/resultcache"
)

func handlerFixture(t *testing.T, bundles ...Bundle) (*httprouter.Router, *resultcache.Cache) {
	t.Helper()
	cache, _ := newTestCache()
	for _, b := range bundles {
		if err := cache.StoreJSON(context.Background(), b.RequestID, b); err != nil {
			t.Fatal(err)
		}
	}
	router := httprouter.New()
	NewHandler(cache).RegisterRoutes(router)
	return router, cache
}

func getBundles(t *testing.T, router http.Handler, ids string) []Bundle {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		PathPrefix+"request?request_ids="+ids, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type: %q", ct)
	}
	var out []Bundle
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRequestStats(t *testing.T) {
	router, _ := handlerFixture(t,
		Bundle{RequestID: "a", URL: "/a", Mode: mode.Simple},
		Bundle{RequestID: "b", URL: "/b", Mode: mode.CPUSampling},
		Bundle{RequestID: "gone-disabled", URL: "/c", Disabled: true},
	)

	out := getBundles(t, router, "a,missing,gone-disabled,b,")
	if len(out) != 2 || out[0].RequestID != "a" || out[1].RequestID != "b" {
		t.Fatalf("bundles: %+v", out)
	}
}

func TestRequestStatsEmptyQuery(t *testing.T) {
	router, _ := handlerFixture(t)
	if out := getBundles(t, router, ""); len(out) != 0 {
		t.Fatalf("bundles: %+v", out)
	}
}

func TestRequestStatsRedirectBundleIsSingleShot(t *testing.T) {
	router, _ := handlerFixture(t,
		Bundle{RequestID: "hop", URL: "/hop", TemporaryRedirect: true},
	)

	if out := getBundles(t, router, "hop"); len(out) != 1 {
		t.Fatalf("first fetch: %+v", out)
	}
	// Redirect bundle ids end up in shareable URLs; the first retrieval
	// disables the entry.
	if out := getBundles(t, router, "hop"); len(out) != 0 {
		t.Fatalf("second fetch: %+v", out)
	}
}

func TestRequestLog(t *testing.T) {
	router, _ := handlerFixture(t,
		Bundle{
			RequestID: "logged",
			URL:       "/page",
			Mode:      mode.RPCOnly,
			Logs: []logcapture.Line{
				{Level: "info", Message: "inside handler"},
			},
		},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		PathPrefix+"log?request_id=logged", nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type: %q", ct)
	}
	var got struct {
		RequestID string            `json:"request_id"`
		URL       string            `json:"url"`
		Logs      []logcapture.Line `json:"logs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.RequestID != "logged" || got.URL != "/page" {
		t.Fatalf("request log: %+v", got)
	}
	if len(got.Logs) != 1 || got.Logs[0].Message != "inside handler" {
		t.Fatalf("logs: %+v", got.Logs)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		PathPrefix+"log?request_id=unknown", nil))
	if !strings.Contains(rec.Body.String(), "no longer exist") {
		t.Fatalf("body: %q", rec.Body.String())
	}
}

func TestCpuprofileDownload(t *testing.T) {
	profile := `{"head":{"functionName":"(root)"}}`
	router, _ := handlerFixture(t,
		Bundle{RequestID: "p", CPU: CPUResults{Cpuprofile: profile}},
		Bundle{RequestID: "noprof"},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		PathPrefix+"cpuprofile?request_id=p", nil))
	if rec.Body.String() != profile {
		t.Fatalf("body: %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "reqprof-p.cpuprofile") {
		t.Fatalf("content disposition: %q", cd)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		PathPrefix+"cpuprofile?request_id=noprof", nil))
	if !strings.Contains(rec.Body.String(), "No cpuprofile available") {
		t.Fatalf("body: %q", rec.Body.String())
	}
}

func TestRawStatsDownload(t *testing.T) {
	raw := []byte{0x1f, 0x8b, 0x00, 0x01}
	router, _ := handlerFixture(t,
		Bundle{RequestID: "p", CPU: CPUResults{RawStats: raw}},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		PathPrefix+"raw?request_id=p", nil))
	if !bytes.Equal(rec.Body.Bytes(), raw) {
		t.Fatalf("body: %v", rec.Body.Bytes())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		PathPrefix+"raw?request_id=unknown", nil))
	if !strings.Contains(rec.Body.String(), "no longer exist") {
		t.Fatalf("body: %q", rec.Body.String())
	}
}
