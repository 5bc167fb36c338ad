package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/domain/detector"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
)

// startRequest is the body of POST /sessions. Either session_id is given or
// generate_id asks the server to derive one from user_email and mock_id.
type startRequest struct {
	SessionID       string         `json:"session_id" validate:"omitempty,max=256"`
	MockID          string         `json:"mock_id" validate:"required,max=256"`
	UserEmail       string         `json:"user_email" validate:"omitempty,email"`
	GenerateID      bool           `json:"generate_id"`
	StartedAt       *time.Time     `json:"started_at"`
	IntervalMS      int            `json:"interval_ms" validate:"omitempty,gte=50,lte=60000"`
	DisabledSignals []model.Signal `json:"disabled_signals" validate:"max=16"`
	// AlertCooldownMS is a pointer so that an explicit zero disables the
	// cooldown.
	AlertCooldownMS *int                `json:"alert_cooldown_ms" validate:"omitempty,gte=0,lte=600000"`
	FlushIntervalMS int                 `json:"flush_interval_ms" validate:"omitempty,gte=1000,lte=3600000"`
	Thresholds      *thresholdOverrides `json:"thresholds"`
}

// thresholdOverrides adjusts individual detector thresholds. Zero fields keep
// the defaults.
type thresholdOverrides struct {
	FaceTimeoutMS       int     `json:"face_timeout_ms" validate:"omitempty,gte=100,lte=60000"`
	GazeFrameRatio      float64 `json:"gaze_frame_ratio" validate:"omitempty,gt=0,lte=1"`
	HeadMovementRatio   float64 `json:"head_movement_ratio" validate:"omitempty,gt=0,lte=1"`
	AudioRMS            float64 `json:"audio_rms" validate:"omitempty,gt=0,lte=1"`
	TabDebounceMS       int     `json:"tab_debounce_ms" validate:"omitempty,gte=1,lte=60000"`
	TypingWPM           float64 `json:"typing_wpm" validate:"omitempty,gt=0,lte=1000"`
	PasteMinChars       int     `json:"paste_min_chars" validate:"omitempty,gte=1,lte=100000"`
	DeviceMinConfidence float64 `json:"device_min_confidence" validate:"omitempty,gt=0,lte=1"`
}

func (o *thresholdOverrides) apply(t *model.Thresholds) {
	if o == nil {
		return
	}
	if o.FaceTimeoutMS > 0 {
		t.FaceTimeout = time.Duration(o.FaceTimeoutMS) * time.Millisecond
	}
	if o.GazeFrameRatio > 0 {
		t.GazeFrameRatio = o.GazeFrameRatio
	}
	if o.HeadMovementRatio > 0 {
		t.HeadMovementRatio = o.HeadMovementRatio
	}
	if o.AudioRMS > 0 {
		t.AudioRMS = o.AudioRMS
	}
	if o.TabDebounceMS > 0 {
		t.TabDebounce = time.Duration(o.TabDebounceMS) * time.Millisecond
	}
	if o.TypingWPM > 0 {
		t.TypingWPM = o.TypingWPM
	}
	if o.PasteMinChars > 0 {
		t.PasteMinChars = o.PasteMinChars
	}
	if o.DeviceMinConfidence > 0 {
		t.DeviceMinConfidence = o.DeviceMinConfidence
	}
}

type answerRequest struct {
	QuestionID string `json:"question_id" validate:"required,max=256"`
}

// SessionsHandler serves session lifecycle requests.
type SessionsHandler struct {
	deps   SessionDependencies
	logger logger.Logger
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies, log logger.Logger) *SessionsHandler {
	return &SessionsHandler{deps: deps, logger: log}
}

// HandleStart handles POST /sessions. Starting an existing id resets it.
func (h *SessionsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.start_session"
	var req startRequest
	if err := decode(w, r, &req); err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	sess, err := h.session(req)
	if err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	agg, err := h.deps.StartSession(r.Context(), sess)
	if err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, agg)
}

func (h *SessionsHandler) session(req startRequest) (model.Session, error) { //nolint:gocritic // hugeParam: request value
	sess := model.Session{
		ID:        strings.TrimSpace(req.SessionID),
		MockID:    strings.TrimSpace(req.MockID),
		UserEmail: req.UserEmail,
		Settings:  h.deps.Defaults(),
	}
	if req.StartedAt != nil {
		sess.StartedAt = *req.StartedAt
	}
	if req.GenerateID {
		if req.UserEmail == "" {
			return model.Session{}, fmt.Errorf("%w: generate_id needs user_email", ErrBadRequest)
		}
		at := sess.StartedAt
		if at.IsZero() {
			at = time.Now()
		}
		sess.ID = service.NewSessionID(req.UserEmail, sess.MockID, at)
	}
	if sess.ID == "" {
		return model.Session{}, fmt.Errorf("%w: session_id is required", ErrBadRequest)
	}
	if req.IntervalMS > 0 {
		sess.Settings.Interval = time.Duration(req.IntervalMS) * time.Millisecond
	}
	if req.AlertCooldownMS != nil {
		sess.Settings.AlertCooldown = time.Duration(*req.AlertCooldownMS) * time.Millisecond
	}
	if req.FlushIntervalMS > 0 {
		sess.Settings.FlushInterval = time.Duration(req.FlushIntervalMS) * time.Millisecond
	}
	req.Thresholds.apply(&sess.Settings.Thresholds)
	for _, sig := range req.DisabledSignals {
		if !sig.Valid() {
			return model.Session{}, fmt.Errorf("%w: %s", detector.ErrUnknownSignal, sig)
		}
		sess.Settings.Enabled[sig] = false
	}
	return sess, nil
}

// HandleEnd handles POST /sessions/{id}/end. Repeated calls return the
// stored terminal record.
func (h *SessionsHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	agg, err := h.deps.EndSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(r.Context(), w, h.logger, "api.end_session", err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// HandleGet handles GET /sessions/{id}.
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	agg, err := h.deps.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(r.Context(), w, h.logger, "api.get_session", err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// HandleRisk handles GET /sessions/{id}/risk.
func (h *SessionsHandler) HandleRisk(w http.ResponseWriter, r *http.Request) {
	live, err := h.deps.Risk(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(r.Context(), w, h.logger, "api.risk", err)
		return
	}
	writeJSON(w, http.StatusOK, live)
}

// HandleHistory handles GET /sessions/{id}/history.
func (h *SessionsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.deps.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(r.Context(), w, h.logger, "api.history", err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// HandleSubmitAnswer handles POST /sessions/{id}/answers.
func (h *SessionsHandler) HandleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_answer"
	var req answerRequest
	if err := decode(w, r, &req); err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	snap, err := h.deps.SubmitAnswer(r.Context(), chi.URLParam(r, "id"), req.QuestionID)
	if err != nil {
		fail(r.Context(), w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// HandleAnswers handles GET /sessions/{id}/answers.
func (h *SessionsHandler) HandleAnswers(w http.ResponseWriter, r *http.Request) {
	answers, err := h.deps.Answers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(r.Context(), w, h.logger, "api.answers", err)
		return
	}
	writeJSON(w, http.StatusOK, answers)
}

// HandleAcknowledge handles POST /sessions/{id}/alerts/{alertId}/ack.
func (h *SessionsHandler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	err := h.deps.Acknowledge(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "alertId"))
	if err != nil {
		fail(r.Context(), w, h.logger, "api.acknowledge", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "acknowledged"})
}
