package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/Manjussha/ctxmon/internal/compaction"
	"github.com/Manjussha/ctxmon/internal/language"
	"github.com/Manjussha/ctxmon/internal/monitor"
	"github.com/Manjussha/ctxmon/internal/store"
)

type messageRequest struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

type fileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type resetRequest struct {
	Source string `json:"source"`
}

// trackResult is returned by the ingestion endpoints. Warning is set when the
// event was applied in memory but could not be persisted.
type trackResult struct {
	Analysis *language.Analysis  `json:"analysis,omitempty"`
	File     *monitor.FileAccess `json:"file,omitempty"`
	Metrics  monitor.Metrics     `json:"metrics"`
	Warning  string              `json:"warning,omitempty"`
}

type sessionView struct {
	Stats      *store.SessionStats  `json:"stats"`
	Language   language.Summary     `json:"language"`
	Compaction compaction.Stats     `json:"compaction"`
	Resets     []monitor.ResetEvent `json:"resets"`
}

// TrackMessage handles POST /api/v1/messages.
func (h *Handler) TrackMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	an, err := h.mon.TrackMessage(r.Context(), req.Content, strings.TrimSpace(req.Role))
	res := trackResult{Analysis: &an, Metrics: h.mon.Snapshot()}
	if err != nil {
		log.Warn("message tracked but not persisted", "err", err)
		res.Warning = err.Error()
	}
	ok(w, res)
}

// TrackFile handles POST /api/v1/files.
func (h *Handler) TrackFile(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		fail(w, http.StatusBadRequest, "path is required")
		return
	}
	fa, err := h.mon.TrackFileAccess(r.Context(), req.Path, req.Content)
	res := trackResult{File: &fa, Metrics: h.mon.Snapshot()}
	if err != nil {
		log.Warn("file access tracked but not persisted", "path", req.Path, "err", err)
		res.Warning = err.Error()
	}
	ok(w, res)
}

// Reset handles POST /api/v1/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	src, err := monitor.ParseResetSource(req.Source)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	res := trackResult{}
	if err := h.mon.HandleReset(r.Context(), src); err != nil {
		log.Warn("reset applied but not persisted", "source", src, "err", err)
		res.Warning = err.Error()
	}
	res.Metrics = h.mon.Snapshot()
	ok(w, res)
}

// Metrics handles GET /api/v1/metrics.
// Query params: size (optional externally observed context size).
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 0 {
			fail(w, http.StatusBadRequest, "size must be a non-negative integer")
			return
		}
		ok(w, h.mon.MetricsAt(r.Context(), size))
		return
	}
	ok(w, h.mon.Metrics(r.Context()))
}

// Recommendations handles GET /api/v1/recommendations.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	recs := h.mon.Recommendations(r.Context())
	if recs == nil {
		recs = []language.Recommendation{}
	}
	ok(w, recs)
}

// Session handles GET /api/v1/session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	stats, err := h.mon.SessionStats(r.Context())
	if err != nil {
		fail(w, http.StatusInternalServerError, "session stats: "+err.Error())
		return
	}
	a := h.mon.Analyzer()
	ok(w, sessionView{
		Stats:      stats,
		Language:   a.LanguageSummary(),
		Compaction: a.CompactionStats(),
		Resets:     a.Resets(),
	})
}
