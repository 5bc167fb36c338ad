package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/proctor/internal/adapters/mq/queue"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/types"
	"github.com/okian/proctor/pkg/logger"
)

type eventsRequest struct {
	Events []model.InputEvent `json:"events" validate:"required,min=1,max=500,dive"`
}

type eventsResponse struct {
	Status string `json:"status"`
	types.PushResult
}

// EventsHandler accepts collector input for live sessions.
type EventsHandler struct {
	deps   EventDependencies
	logger logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies, log logger.Logger) *EventsHandler {
	return &EventsHandler{deps: deps, logger: log}
}

// HandlePostEvents handles POST /sessions/{id}/events. Duplicates are
// acknowledged without being buffered again. A full buffer answers 429 with
// the counts of what was taken before it filled.
func (h *EventsHandler) HandlePostEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_events"
	var req eventsRequest
	if err := decode(w, r, &req); err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	res, err := h.deps.PushInput(r.Context(), chi.URLParam(r, "id"), req.Events)
	switch {
	case errors.Is(err, queue.ErrFull):
		writeJSON(w, http.StatusTooManyRequests, eventsResponse{Status: "backpressure", PushResult: res})
		return
	case err != nil:
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	status := "accepted"
	if res.Accepted == 0 {
		status = "duplicate"
	}
	writeJSON(w, http.StatusAccepted, eventsResponse{Status: status, PushResult: res})
}

// HandlePostObservation handles POST /sessions/{id}/observations.
func (h *EventsHandler) HandlePostObservation(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_observation"
	var obs types.Observation
	if err := decode(w, r, &obs); err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	if obs.Camera == nil && obs.Audio == nil {
		fail(r.Context(), w, h.logger, op, fmt.Errorf("%w: camera or audio is required", ErrBadRequest))
		return
	}
	if err := h.deps.Observe(r.Context(), chi.URLParam(r, "id"), obs); err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "accepted"})
}
