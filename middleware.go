package reqprof

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/reqprof/reqprof/internal/mode"
)

const (
	// HeaderRequestID exposes the profile id so in-page viewers and ajax
	// calls can fetch this request's results.
	HeaderRequestID = "X-Reqprof-Id"
	// HeaderQueryString carries the request's query string for the viewer.
	HeaderQueryString = "X-Reqprof-QS"

	// RedirectParam is the query parameter appended to 302 Locations so
	// the page finally rendered can show the profiles of the whole
	// redirect chain.
	RedirectParam = "rp-id"

	// PathPrefix is where the result handlers are mounted. Requests under
	// it are never profiled, which keeps the profiler from profiling
	// itself.
	PathPrefix = "/reqprof/"
)

// Middleware profiles requests served by next. Each profiled request gets
// a fresh id, a session carried in the request context, and its results
// stored under that id when the response is done.
func Middleware(next http.Handler, opts Options) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, PathPrefix) ||
			(opts.ShouldProfile != nil && !opts.ShouldProfile(r)) {
			next.ServeHTTP(w, r)
			return
		}

		s := NewSession(uuid.NewString(), mode.FromRequest(r), r.URL.RequestURI(), opts)
		ctx := s.WithContext(r.Context())

		pw := &profiledResponseWriter{
			ResponseWriter: w,
			session:        s,
			query:          r.URL.RawQuery,
		}
		_ = s.Profile(ctx, func() error {
			next.ServeHTTP(pw, r.WithContext(ctx))
			return nil
		})
		s.Finish(ctx)
	})
}

// profiledResponseWriter injects the profiler headers before the response
// is committed and rewrites temporary redirects to carry the redirect
// chain.
type profiledResponseWriter struct {
	http.ResponseWriter
	session     *Session
	query       string
	wroteHeader bool
}

func (pw *profiledResponseWriter) WriteHeader(status int) {
	if pw.wroteHeader {
		pw.ResponseWriter.WriteHeader(status)
		return
	}
	pw.wroteHeader = true

	h := pw.Header()
	if status == http.StatusFound {
		pw.session.TemporaryRedirect = true
		if loc := h.Get("Location"); loc != "" {
			h.Set("Location", redirectLocation(loc, pw.query, pw.session.RequestID))
		}
	}
	h.Set(HeaderRequestID, pw.session.RequestID)
	h.Set(HeaderQueryString, pw.query)
	pw.ResponseWriter.WriteHeader(status)
}

func (pw *profiledResponseWriter) Write(b []byte) (int, error) {
	if !pw.wroteHeader {
		pw.WriteHeader(http.StatusOK)
	}
	return pw.ResponseWriter.Write(b)
}

func (pw *profiledResponseWriter) Flush() {
	if f, ok := pw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// redirectLocation appends the current request id to the Location target's
// redirect-chain parameter. If the profiled request itself arrived through
// a redirect, the chain is extended so the final page can show every hop.
func redirectLocation(location, requestQuery, requestID string) string {
	chain := requestID
	if q, err := url.ParseQuery(requestQuery); err == nil {
		if prev := q.Get(RedirectParam); prev != "" {
			chain = prev + "," + requestID
		}
	}

	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	q := u.Query()
	q.Set(RedirectParam, chain)
	u.RawQuery = q.Encode()
	return u.String()
}
