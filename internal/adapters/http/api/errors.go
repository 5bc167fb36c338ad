package api

import (
	"errors"
	"net/http"

	"github.com/okian/proctor/internal/adapters/mq/queue"
	"github.com/okian/proctor/internal/adapters/mq/worker"
	"github.com/okian/proctor/internal/adapters/repository"
	service "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/domain/alerting"
	"github.com/okian/proctor/internal/domain/detector"
	"github.com/okian/proctor/pkg/logger"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
)

// classify maps domain errors onto a status code and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidSession),
		errors.Is(err, repository.ErrInvalidLimit),
		errors.Is(err, worker.ErrInvalidConfig),
		errors.Is(err, detector.ErrUnknownSignal):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, alerting.ErrAlertNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrSessionNotActive):
		return http.StatusConflict, "not_active"
	case errors.Is(err, ErrBackpressure), errors.Is(err, queue.ErrFull):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// ErrorWriter returns a function replying to r with the status err maps to.
// It lets handlers outside this package answer failures consistently.
func ErrorWriter(log logger.Logger) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		fail(r.Context(), w, log, "api.stream", err)
	}
}
