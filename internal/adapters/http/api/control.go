package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
)

type intervalRequest struct {
	IntervalMS int `json:"interval_ms" validate:"required,gte=50,lte=60000"`
}

type signalRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// ControlHandler adjusts running drivers.
type ControlHandler struct {
	deps   ControlDependencies
	logger logger.Logger
}

// NewControlHandler creates a new control handler.
func NewControlHandler(deps ControlDependencies, log logger.Logger) *ControlHandler {
	return &ControlHandler{deps: deps, logger: log}
}

// HandlePause handles POST /sessions/{id}/pause.
func (h *ControlHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Pause(chi.URLParam(r, "id")); err != nil {
		fail(r.Context(), w, h.logger, "api.pause", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "paused"})
}

// HandleResume handles POST /sessions/{id}/resume.
func (h *ControlHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Resume(chi.URLParam(r, "id")); err != nil {
		fail(r.Context(), w, h.logger, "api.resume", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "running"})
}

// HandleInterval handles PUT /sessions/{id}/interval.
func (h *ControlHandler) HandleInterval(w http.ResponseWriter, r *http.Request) {
	const op = "api.interval"
	var req intervalRequest
	if err := decode(w, r, &req); err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	interval := time.Duration(req.IntervalMS) * time.Millisecond
	if err := h.deps.SetInterval(chi.URLParam(r, "id"), interval); err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "updated"})
}

// HandleSignal handles PUT /sessions/{id}/signals/{signal}.
func (h *ControlHandler) HandleSignal(w http.ResponseWriter, r *http.Request) {
	const op = "api.signal"
	var req signalRequest
	if err := decode(w, r, &req); err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	sig := model.Signal(chi.URLParam(r, "signal"))
	if err := h.deps.SetSignalEnabled(chi.URLParam(r, "id"), sig, *req.Enabled); err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "updated"})
}
