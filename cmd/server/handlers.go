package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/titlecheck"
	"github.com/brunobiangulo/titlecheck/advisor"
	"github.com/brunobiangulo/titlecheck/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type handler struct {
	engine    titlecheck.Engine
	corpusDir string
}

func newHandler(e titlecheck.Engine, corpusDir string) *handler {
	return &handler{engine: e, corpusDir: corpusDir}
}

// POST /assess
// Body: {"documents": [{"type": "EC", "id": "ec-1", "text": "..."}]}.
// ?format=xlsx returns the report as a workbook.
func (h *handler) handleAssess(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		Documents []titlecheck.Document `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for _, d := range req.Documents {
		if d.Path != "" {
			writeError(w, http.StatusBadRequest, "documents must carry text, not paths")
			return
		}
	}

	res, err := h.engine.Assess(ctx, req.Documents)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		slog.Error("assess error", "documents", len(req.Documents), "error", err)
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		writeWorkbook(w, res.Report)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /corpus/rebuild
// Body (optional): {"dir": "karnataka"}, a directory relative to the
// configured corpus directory. Defaults to the corpus directory itself.
func (h *handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		Dir string `json:"dir"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	dir := h.corpusDir
	if req.Dir != "" {
		if !filepath.IsLocal(req.Dir) {
			writeError(w, http.StatusBadRequest, "dir must be relative to the corpus directory")
			return
		}
		dir = filepath.Join(h.corpusDir, req.Dir)
	}

	st, err := h.engine.BuildCorpus(ctx, dir)
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError {
			msg = "corpus rebuild failed"
		}
		writeError(w, status, msg)
		slog.Error("corpus rebuild error", "dir", dir, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /corpus/stats
func (h *handler) handleCorpusStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.CorpusStats()
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	db, err := h.engine.Store().DBStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read store stats")
		slog.Error("store stats error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index": st,
		"store": db,
	})
}

// GET /corpus/search?q=...&k=5
func (h *handler) handleCorpusSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := queryInt(r, "k", 5, 50)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	hits, err := h.engine.SearchCorpus(ctx, q, k)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		slog.Error("corpus search error", "query", q, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

// GET /assessments?limit=20
func (h *handler) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	logs, err := h.engine.RecentAssessments(r.Context(), queryInt(r, "limit", 20, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list assessments")
		slog.Error("list assessments error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": logs})
}

// GET /assessments/{id}
// ?format=xlsx returns the stored report as a workbook.
func (h *handler) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := h.engine.Store().GetAssessment(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "assessment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load assessment")
		slog.Error("get assessment error", "report_id", id, "error", err)
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		var rep advisor.Report
		if err := json.Unmarshal(entry.Report, &rep); err != nil {
			writeError(w, http.StatusInternalServerError, "stored report is unreadable")
			slog.Error("decoding stored report", "report_id", id, "error", err)
			return
		}
		writeWorkbook(w, &rep)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if st, err := h.engine.CorpusStats(); err == nil {
		body["corpus_version"] = st.Version
		body["corpus_chunks"] = st.Chunks
	} else {
		body["corpus_version"] = nil
	}
	writeJSON(w, http.StatusOK, body)
}

// statusFor maps pipeline errors to HTTP statuses and client-safe messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, titlecheck.ErrMissingDocument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, titlecheck.ErrNoCorpus):
		return http.StatusServiceUnavailable, "legal corpus not loaded"
	case errors.Is(err, titlecheck.ErrEngineClosed):
		return http.StatusServiceUnavailable, "engine is shutting down"
	case errors.Is(err, titlecheck.ErrBackendUnavailable):
		return http.StatusBadGateway, "language model backend unavailable, retry later"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "assessment failed"
	}
}

func queryInt(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func writeWorkbook(w http.ResponseWriter, rep *advisor.Report) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "titlecheck-"+rep.ID+".xlsx"))
	if err := report.WriteXLSX(w, rep); err != nil {
		slog.Error("writing workbook", "report_id", rep.ID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
