package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/proctor/pkg/logger"
)

// QueryHandler serves read-only views over stored sessions.
type QueryHandler struct {
	deps   QueryDependencies
	logger logger.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(deps QueryDependencies, log logger.Logger) *QueryHandler {
	return &QueryHandler{deps: deps, logger: log}
}

// HandleTop handles GET /sessions/top?limit=N.
func (h *QueryHandler) HandleTop(w http.ResponseWriter, r *http.Request) {
	const op = "api.top"
	n, err := parseLimit(r)
	if err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	entries, err := h.deps.Top(r.Context(), n)
	if err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleRank handles GET /sessions/{id}/rank.
func (h *QueryHandler) HandleRank(w http.ResponseWriter, r *http.Request) {
	entry, err := h.deps.Rank(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(r.Context(), w, h.logger, "api.rank", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleListByMock handles GET /mocks/{mockId}/sessions, optionally narrowed
// with ?session_id=.
func (h *QueryHandler) HandleListByMock(w http.ResponseWriter, r *http.Request) {
	aggs, err := h.deps.ListByMock(r.Context(), chi.URLParam(r, "mockId"), r.URL.Query().Get("session_id"))
	if err != nil {
		fail(r.Context(), w, h.logger, "api.list_by_mock", err)
		return
	}
	writeJSON(w, http.StatusOK, aggs)
}

// HandleStatistics handles GET /statistics.
func (h *QueryHandler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Statistics(r.Context())
	if err != nil {
		fail(r.Context(), w, h.logger, "api.statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
