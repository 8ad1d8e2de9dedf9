package reqprof

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/reqprof/reqprof/internal/logcapture"
	"github.com/reqprof/reqprof/internal/mode"
	"github.com/reqprof/reqprof/internal/resultcache"
)

// Handler serves stored profiling results to the viewer.
type Handler struct {
	cache *resultcache.Cache
}

// NewHandler returns a handler reading bundles from cache.
func NewHandler(cache *resultcache.Cache) *Handler {
	return &Handler{cache: cache}
}

// RegisterRoutes mounts the result endpoints under PathPrefix.
func (h *Handler) RegisterRoutes(router *httprouter.Router) {
	router.HandlerFunc(http.MethodGet, PathPrefix+"request", h.RequestStats)
	router.HandlerFunc(http.MethodGet, PathPrefix+"cpuprofile", h.Cpuprofile)
	router.HandlerFunc(http.MethodGet, PathPrefix+"raw", h.RawStats)
	router.HandlerFunc(http.MethodGet, PathPrefix+"log", h.RequestLog)
}

// RequestStats returns the bundles for a comma-separated list of request
// ids as a JSON array. Bundles that are gone, evicted or disabled are
// silently skipped: absence is a normal outcome of a best-effort cache.
// Redirect-chained bundles are disabled after their first retrieval, since
// their ids live in copyable URLs.
func (h *Handler) RequestStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bundles := []Bundle{}
	for _, id := range strings.Split(r.URL.Query().Get("request_ids"), ",") {
		if id == "" {
			continue
		}
		var b Bundle
		if err := h.cache.FetchJSON(ctx, id, &b); err != nil {
			if !errors.Is(err, resultcache.ErrNotFound) {
				log.Warn().Err(err).Str("request_id", id).Msg("fetching bundle")
			}
			continue
		}
		if b.Disabled {
			continue
		}
		bundles = append(bundles, b)

		if b.TemporaryRedirect {
			b.Disabled = true
			if err := h.cache.StoreJSON(ctx, id, b); err != nil {
				log.Warn().Err(err).Str("request_id", id).Msg("disabling redirect bundle")
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(bundles); err != nil {
		log.Warn().Err(err).Msg("encoding bundles")
	}
}

// Cpuprofile serves the flamechart interchange profile as a UTF-8 JSON
// download.
func (h *Handler) Cpuprofile(w http.ResponseWriter, r *http.Request) {
	b, id, ok := h.fetchBundle(w, r)
	if !ok {
		return
	}
	if b.CPU.Cpuprofile == "" {
		fmt.Fprintln(w, "No cpuprofile available for this profile.")
		return
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "reqprof-"+id+".cpuprofile"))
	// An agnostic content type: some browsers append a .json extension to
	// application/json downloads.
	w.Header().Set("Content-Type", "application/octet-stream; charset=utf-8")
	_, _ = w.Write([]byte(b.CPU.Cpuprofile))
}

type requestLog struct {
	RequestID string            `json:"request_id"`
	URL       string            `json:"url"`
	Mode      mode.Mode         `json:"mode"`
	Logs      []logcapture.Line `json:"logs"`
}

// RequestLog returns one request's captured log lines with the metadata
// needed to label them, without the rest of the bundle.
func (h *Handler) RequestLog(w http.ResponseWriter, r *http.Request) {
	b, _, ok := h.fetchBundle(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(requestLog{
		RequestID: b.RequestID,
		URL:       b.URL,
		Mode:      b.Mode,
		Logs:      b.Logs,
	})
	if err != nil {
		log.Warn().Err(err).Msg("encoding request log")
	}
}

// RawStats serves the opaque binary profile dump.
func (h *Handler) RawStats(w http.ResponseWriter, r *http.Request) {
	b, id, ok := h.fetchBundle(w, r)
	if !ok {
		return
	}
	if len(b.CPU.RawStats) == 0 {
		fmt.Fprintln(w, "No raw profile available for this profile.")
		return
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "reqprof-"+id+".profile"))
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(b.CPU.RawStats)
}

func (h *Handler) fetchBundle(w http.ResponseWriter, r *http.Request) (*Bundle, string, bool) {
	id := r.URL.Query().Get("request_id")
	var b Bundle
	if err := h.cache.FetchJSON(r.Context(), id, &b); err != nil {
		fmt.Fprintln(w, "Profiler results no longer exist for this request.")
		return nil, id, false
	}
	return &b, id, true
}
