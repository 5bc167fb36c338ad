// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/okian/proctor/internal/adapters/http/swagger"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/types"
	"github.com/okian/proctor/pkg/logger"
)

const (
	maxBodyBytes    = 8 << 20
	defaultTopLimit = 10
	maxTopLimit     = 100
)

var validate = validator.New()

// SessionDependencies drive the session lifecycle.
type SessionDependencies interface {
	Defaults() model.DetectionSettings
	StartSession(ctx context.Context, sess model.Session) (model.Aggregate, error)
	EndSession(ctx context.Context, sessionID string) (model.Aggregate, error)
	Get(ctx context.Context, sessionID string) (model.Aggregate, error)
	Risk(ctx context.Context, sessionID string) (model.LiveRisk, error)
	History(ctx context.Context, sessionID string) ([]model.RiskSnapshot, error)
	SubmitAnswer(ctx context.Context, sessionID, questionID string) (model.AnswerSnapshot, error)
	Answers(ctx context.Context, sessionID string) ([]model.AnswerSnapshot, error)
	Acknowledge(ctx context.Context, sessionID, alertID string) error
}

// EventDependencies accept collector input.
type EventDependencies interface {
	PushInput(ctx context.Context, sessionID string, events []model.InputEvent) (types.PushResult, error)
	Observe(ctx context.Context, sessionID string, obs types.Observation) error
}

// QueryDependencies expose stored sessions.
type QueryDependencies interface {
	Top(ctx context.Context, n int) ([]types.Entry, error)
	Rank(ctx context.Context, sessionID string) (types.Entry, error)
	ListByMock(ctx context.Context, mockID, sessionID string) ([]model.Aggregate, error)
	Statistics(ctx context.Context) (types.Statistics, error)
}

// ControlDependencies adjust a running driver.
type ControlDependencies interface {
	Pause(sessionID string) error
	Resume(sessionID string) error
	SetInterval(sessionID string, interval time.Duration) error
	SetSignalEnabled(sessionID string, sig model.Signal, enabled bool) error
}

// Dependencies required by HTTP handlers.
type Dependencies interface {
	SessionDependencies
	EventDependencies
	QueryDependencies
	ControlDependencies
	StatsProvider
}

// StreamHandler upgrades a request into a push stream for one session.
type StreamHandler interface {
	ServeSession(w http.ResponseWriter, r *http.Request, sessionID string)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	sessionsHandler  *SessionsHandler
	eventsHandler    *EventsHandler
	queryHandler     *QueryHandler
	controlHandler   *ControlHandler
	dashboardHandler *dashboardHandler

	stream     StreamHandler
	rateLimit  int
	rateWindow time.Duration
	logger     logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		rateLimit:  defaultRateLimit,
		rateWindow: defaultRateWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps)
	s.sessionsHandler = NewSessionsHandler(deps, s.logger)
	s.eventsHandler = NewEventsHandler(deps, s.logger)
	s.queryHandler = NewQueryHandler(deps, s.logger)
	s.controlHandler = NewControlHandler(deps, s.logger)
	s.dashboardHandler = newDashboardHandler()
	return s
}

// Routes builds the chi router serving every endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/metrics", s.healthHandler.HandleHealth)
	r.Get("/dashboard", s.dashboardHandler.HandleDashboard)
	swagger.Register(r)
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	r.Get("/statistics", MetricsMiddleware(s.queryHandler.HandleStatistics, "statistics"))
	r.Get("/mocks/{mockId}/sessions", MetricsMiddleware(s.queryHandler.HandleListByMock, "mock_sessions"))

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/top", MetricsMiddleware(s.queryHandler.HandleTop, "sessions_top"))

		r.Group(func(r chi.Router) {
			if s.rateLimit > 0 {
				r.Use(httprate.LimitByIP(s.rateLimit, s.rateWindow))
			}
			r.Post("/", MetricsMiddleware(s.sessionsHandler.HandleStart, "sessions_start"))
			r.Post("/{id}/end", MetricsMiddleware(s.sessionsHandler.HandleEnd, "sessions_end"))
			r.Post("/{id}/events", MetricsMiddleware(s.eventsHandler.HandlePostEvents, "events"))
			r.Post("/{id}/observations", MetricsMiddleware(s.eventsHandler.HandlePostObservation, "observations"))
			r.Post("/{id}/answers", MetricsMiddleware(s.sessionsHandler.HandleSubmitAnswer, "answers"))
			r.Post("/{id}/alerts/{alertId}/ack", MetricsMiddleware(s.sessionsHandler.HandleAcknowledge, "ack"))
			r.Post("/{id}/pause", MetricsMiddleware(s.controlHandler.HandlePause, "pause"))
			r.Post("/{id}/resume", MetricsMiddleware(s.controlHandler.HandleResume, "resume"))
			r.Put("/{id}/interval", MetricsMiddleware(s.controlHandler.HandleInterval, "interval"))
			r.Put("/{id}/signals/{signal}", MetricsMiddleware(s.controlHandler.HandleSignal, "signal"))
		})

		r.Get("/{id}", MetricsMiddleware(s.sessionsHandler.HandleGet, "sessions_get"))
		r.Get("/{id}/risk", MetricsMiddleware(s.sessionsHandler.HandleRisk, "risk"))
		r.Get("/{id}/history", MetricsMiddleware(s.sessionsHandler.HandleHistory, "history"))
		r.Get("/{id}/answers", MetricsMiddleware(s.sessionsHandler.HandleAnswers, "answers_list"))
		r.Get("/{id}/rank", MetricsMiddleware(s.queryHandler.HandleRank, "rank"))
		if s.stream != nil {
			// Not wrapped: the stream hijacks the connection.
			r.Get("/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
				s.stream.ServeSession(w, r, chi.URLParam(r, "id"))
			})
		}
	})
	return r
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail writes err with the status its kind maps to. Server errors are logged
// and their detail withheld from the client.
func fail(ctx context.Context, w http.ResponseWriter, log logger.Logger, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
		if status == http.StatusInternalServerError {
			err = nil
		}
	}
	writeError(w, status, code, err)
}

// decode reads a size-limited JSON body into v and validates its tags.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %w", ErrBadRequest, err)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrBadRequest, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

// parseLimit reads ?limit=, defaulting when absent.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultTopLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxTopLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", ErrBadRequest, maxTopLimit)
	}
	return n, nil
}
