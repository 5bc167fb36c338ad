// Package service manages monitored interview sessions: one supervised
// detection driver per live session, backed by a durable store and an
// observer bus.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/okian/proctor/internal/adapters/mq/bus"
	"github.com/okian/proctor/internal/adapters/mq/queue"
	"github.com/okian/proctor/internal/adapters/mq/worker"
	"github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/domain/dedupe"
	"github.com/okian/proctor/internal/domain/detector"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/types"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

const (
	defaultStopTimeout   = 10 * time.Second
	defaultQueueCapacity = 1024
	defaultDedupeSize    = 4096
	healthProbeTimeout   = time.Second
)

// Bus carries snapshots and alerts to observers.
type Bus interface {
	worker.Publisher
	Subscribe(ctx context.Context, sessionID string) (<-chan bus.Envelope, error)
	Close() error
}

// HealthChecker is implemented by inference clients that can be probed.
type HealthChecker interface {
	Health(ctx context.Context) error
	State() string
}

type active struct {
	driver *worker.Driver
}

// Service is the session lifecycle manager.
type Service struct {
	mu sync.RWMutex

	store    repository.Store
	bus      Bus
	inferrer detector.Inferrer
	health   HealthChecker
	defaults model.DetectionSettings

	now           func() time.Time
	stopTimeout   time.Duration
	queueCapacity int
	dedupeSize    int

	sup      *suture.Supervisor
	supErr   <-chan error
	cancel   context.CancelFunc
	sessions map[string]*active
	transit  map[string]chan struct{}
	pending  map[string]model.Aggregate
	started  bool
	ended    atomic.Uint64

	logger logger.Logger
}

// New creates a service. Call Start before starting sessions.
func New(opts ...Option) *Service {
	s := &Service{
		defaults:      model.DefaultSettings(),
		now:           time.Now,
		stopTimeout:   defaultStopTimeout,
		queueCapacity: defaultQueueCapacity,
		dedupeSize:    defaultDedupeSize,
		sessions:      make(map[string]*active),
		transit:       make(map[string]chan struct{}),
		pending:       make(map[string]model.Aggregate),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start brings up the supervisor. It is a no-op when already started.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.bus == nil {
		s.bus = bus.New(bus.WithLogger(s.logger.Named("bus")))
	}

	handler := &sutureslog.Handler{Logger: s.logger.Slog()}
	s.sup = suture.New("proctor", suture.Spec{
		EventHook: handler.MustHook(),
		Timeout:   s.stopTimeout,
	})
	supCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.supErr = s.sup.ServeBackground(supCtx)

	s.started = true
	s.logger.Info(ctx, "session manager started",
		logger.Duration("interval", s.defaults.Interval),
		logger.Duration("flushInterval", s.defaults.FlushInterval),
		logger.Int("queueCapacity", s.queueCapacity),
	)
	return nil
}

// Stop flushes and halts every live driver, then closes the bus and store.
// Sessions are left open in the store; ending them is the client's call.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	live := s.sessions
	s.sessions = make(map[string]*active)
	unwritten := s.pending
	s.pending = make(map[string]model.Aggregate)
	s.started = false
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping session manager", logger.Int("activeSessions", len(live)))
	for id, a := range live {
		stopCtx, cancel := context.WithTimeout(ctx, s.stopTimeout)
		if err := a.driver.Stop(stopCtx); err != nil {
			s.logger.Warn(ctx, "driver did not stop cleanly", logger.String("session", id), logger.Error(err))
		}
		if err := a.driver.Flush(stopCtx); err != nil {
			s.logger.Warn(ctx, "final flush failed", logger.String("session", id), logger.Error(err))
		}
		cancel()
	}
	for id, final := range unwritten {
		if _, err := s.store.CloseSession(ctx, final); err != nil {
			s.logger.Warn(ctx, "terminal write still failing", logger.String("session", id), logger.Error(err))
		}
	}
	metrics.UpdateActiveSessions(0)

	s.cancel()
	select {
	case <-s.supErr:
	case <-ctx.Done():
	}
	if err := s.bus.Close(); err != nil {
		s.logger.Warn(ctx, "bus close failed", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close failed", logger.Error(err))
	}
	s.logger.Info(ctx, "session manager stopped")
}

// Defaults returns a copy of the settings new sessions start from.
func (s *Service) Defaults() model.DetectionSettings {
	return s.defaults.Clone()
}

// StartSession starts monitoring a session. Starting an id that already
// exists resets it: the running driver is replaced and the stored record is
// overwritten. Zero settings take the service defaults.
func (s *Service) StartSession(ctx context.Context, sess model.Session) (model.Aggregate, error) { //nolint:gocritic // hugeParam: copied into the driver
	if sess.ID == "" || sess.MockID == "" {
		return model.Aggregate{}, ErrInvalidSession
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = s.now()
	}
	if sess.Settings.Enabled == nil {
		sess.Settings = s.defaults.Clone()
	}
	sess.EndedAt = nil

	release, err := s.claim(ctx, sess.ID)
	if err != nil {
		return model.Aggregate{}, err
	}
	defer release()

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return model.Aggregate{}, ErrNotStarted
	}
	prev := s.sessions[sess.ID]
	delete(s.sessions, sess.ID)
	delete(s.pending, sess.ID)
	count := len(s.sessions)
	s.mu.Unlock()

	if prev != nil {
		metrics.UpdateActiveSessions(count)
		s.stopDriver(ctx, sess.ID, prev.driver)
	}

	driver, err := worker.New(sess,
		worker.WithLogger(s.logger.Named("driver")),
		worker.WithClock(s.now),
		worker.WithInferrer(s.inferrer),
		worker.WithStore(s.store),
		worker.WithPublisher(s.bus),
		worker.WithInput(queue.NewInMemoryQueue(
			queue.WithCapacity(s.queueCapacity),
			queue.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))),
		)),
	)
	if err != nil {
		return model.Aggregate{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	agg, err := s.store.StartSession(ctx, sess)
	if err != nil {
		return model.Aggregate{}, fmt.Errorf("start session %s: %w", sess.ID, err)
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return model.Aggregate{}, ErrNotStarted
	}
	s.sup.Add(driver)
	s.sessions[sess.ID] = &active{driver: driver}
	count = len(s.sessions)
	s.mu.Unlock()

	metrics.UpdateActiveSessions(count)
	s.logger.Info(ctx, "session started",
		logger.String("session", sess.ID),
		logger.String("mock", sess.MockID),
	)
	return agg, nil
}

// EndSession stops a session's driver and performs the single terminal
// write. Ending an already ended session returns the stored record. When the
// terminal write fails the closing aggregate is kept and the next call
// retries it.
func (s *Service) EndSession(ctx context.Context, sessionID string) (model.Aggregate, error) {
	release, err := s.claim(ctx, sessionID)
	if err != nil {
		return model.Aggregate{}, err
	}
	defer release()

	s.mu.Lock()
	a := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	final, retry := s.pending[sessionID]
	count := len(s.sessions)
	s.mu.Unlock()

	switch {
	case a != nil:
		metrics.UpdateActiveSessions(count)
		s.stopDriver(ctx, sessionID, a.driver)
		final = a.driver.Final()
	case retry:
		s.logger.Info(ctx, "retrying terminal write", logger.String("session", sessionID))
	default:
		stored, err := s.store.Get(ctx, sessionID)
		if err != nil {
			return model.Aggregate{}, s.mapStoreErr(err)
		}
		if stored.Closed {
			return stored, nil
		}
		// Orphaned by a restart: close what was last flushed.
		final = closeStored(stored, s.now())
	}

	written, err := s.store.CloseSession(ctx, final)
	s.mu.Lock()
	if err != nil {
		s.pending[sessionID] = final
	} else {
		delete(s.pending, sessionID)
	}
	s.mu.Unlock()
	if err != nil {
		return model.Aggregate{}, fmt.Errorf("end session %s: %w", sessionID, s.mapStoreErr(err))
	}
	if !written {
		return s.Get(ctx, sessionID)
	}
	s.ended.Add(1)
	metrics.RecordSessionEnded()
	s.logger.Info(ctx, "session ended",
		logger.String("session", sessionID),
		logger.Float64("peakRisk", final.PeakRisk),
		logger.Int("alerts", len(final.Alerts)),
	)
	return final, nil
}

// claim waits out any start or end of sessionID already in progress and
// marks one of its own. The returned func releases it.
func (s *Service) claim(ctx context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	for {
		busy, ok := s.transit[sessionID]
		if !ok {
			break
		}
		s.mu.Unlock()
		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		s.mu.Lock()
	}
	done := make(chan struct{})
	s.transit[sessionID] = done
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.transit, sessionID)
		close(done)
		s.mu.Unlock()
	}, nil
}

func (s *Service) stopDriver(ctx context.Context, sessionID string, d *worker.Driver) {
	stopCtx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		s.logger.Warn(ctx, "driver did not stop cleanly", logger.String("session", sessionID), logger.Error(err))
	}
}

func closeStored(agg model.Aggregate, now time.Time) model.Aggregate { //nolint:gocritic // hugeParam
	agg.EndedAt = &now
	agg.UpdatedAt = now
	agg.DurationSeconds = int64(now.Sub(agg.StartedAt) / time.Second)
	agg.Closed = true
	return agg
}

func (s *Service) mapStoreErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	}
	return err
}

func (s *Service) driver(sessionID string) (*worker.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	a, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotActive
	}
	return a.driver, nil
}

// PushInput buffers browser events for the next tick. Duplicate event ids
// are dropped silently; a full buffer drops the remainder of the batch.
func (s *Service) PushInput(ctx context.Context, sessionID string, events []model.InputEvent) (types.PushResult, error) {
	d, err := s.driver(sessionID)
	if err != nil {
		return types.PushResult{}, err
	}
	var res types.PushResult
	for i := range events {
		e := events[i]
		if e.At.IsZero() {
			e.At = s.now()
		}
		err := d.Push(ctx, e)
		switch {
		case err == nil:
			res.Accepted++
		case errors.Is(err, queue.ErrDuplicate):
			res.Duplicates++
		case errors.Is(err, queue.ErrFull):
			res.Dropped = len(events) - i
			return res, err
		default:
			return res, err
		}
	}
	return res, nil
}

// Observe replaces the latest camera and audio readings.
func (s *Service) Observe(_ context.Context, sessionID string, obs types.Observation) error {
	d, err := s.driver(sessionID)
	if err != nil {
		return err
	}
	now := s.now()
	if obs.Camera != nil {
		if obs.Camera.At.IsZero() {
			obs.Camera.At = now
		}
		d.SetCamera(obs.Camera)
	}
	if obs.Audio != nil {
		if obs.Audio.At.IsZero() {
			obs.Audio.At = now
		}
		d.SetAudio(obs.Audio)
	}
	return nil
}

// Risk returns the live score and active alerts.
func (s *Service) Risk(_ context.Context, sessionID string) (model.LiveRisk, error) {
	d, err := s.driver(sessionID)
	if err != nil {
		return model.LiveRisk{}, err
	}
	return d.Risk(), nil
}

// History returns the in-memory snapshots, oldest first.
func (s *Service) History(_ context.Context, sessionID string) ([]model.RiskSnapshot, error) {
	d, err := s.driver(sessionID)
	if err != nil {
		return nil, err
	}
	return d.History(), nil
}

// Acknowledge hides an alert from the live view.
func (s *Service) Acknowledge(_ context.Context, sessionID, alertID string) error {
	d, err := s.driver(sessionID)
	if err != nil {
		return err
	}
	return d.Acknowledge(alertID)
}

// SubmitAnswer captures the current risk context and stores it against the
// question.
func (s *Service) SubmitAnswer(ctx context.Context, sessionID, questionID string) (model.AnswerSnapshot, error) {
	d, err := s.driver(sessionID)
	if err != nil {
		return model.AnswerSnapshot{}, err
	}
	snap := d.AnswerSnapshot(questionID)
	if err := s.store.AttachAnswer(ctx, snap); err != nil {
		return model.AnswerSnapshot{}, s.mapStoreErr(err)
	}
	return snap, nil
}

// Answers lists a session's answer snapshots.
func (s *Service) Answers(ctx context.Context, sessionID string) ([]model.AnswerSnapshot, error) {
	out, err := s.store.Answers(ctx, sessionID)
	if err != nil {
		return nil, s.mapStoreErr(err)
	}
	return out, nil
}

// Get returns the aggregate of a session: the live projection while it is
// monitored, the stored record otherwise.
func (s *Service) Get(ctx context.Context, sessionID string) (model.Aggregate, error) {
	if d, err := s.driver(sessionID); err == nil {
		return d.Aggregate(), nil
	}
	agg, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return model.Aggregate{}, s.mapStoreErr(err)
	}
	return agg, nil
}

// ListByMock returns the stored sessions of a mock interview, optionally
// narrowed to one session id.
func (s *Service) ListByMock(ctx context.Context, mockID, sessionID string) ([]model.Aggregate, error) {
	list, err := s.store.ListByMock(ctx, mockID)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return list, nil
	}
	out := list[:0]
	for i := range list {
		if list[i].SessionID == sessionID {
			out = append(out, list[i])
		}
	}
	return out, nil
}

// Top returns the sessions with the highest peak risk.
func (s *Service) Top(ctx context.Context, n int) ([]types.Entry, error) {
	return s.store.TopN(ctx, n)
}

// Rank returns one session's position in the peak risk ranking.
func (s *Service) Rank(ctx context.Context, sessionID string) (types.Entry, error) {
	e, err := s.store.Rank(ctx, sessionID)
	if err != nil {
		return types.Entry{}, s.mapStoreErr(err)
	}
	return e, nil
}

// Statistics aggregates every stored session.
func (s *Service) Statistics(ctx context.Context) (types.Statistics, error) {
	return s.store.Statistics(ctx)
}

// Subscribe streams the snapshots and alerts of a live session.
func (s *Service) Subscribe(ctx context.Context, sessionID string) (<-chan bus.Envelope, error) {
	if _, err := s.driver(sessionID); err != nil {
		return nil, err
	}
	return s.bus.Subscribe(ctx, sessionID)
}

// Pause suspends detection for a session.
func (s *Service) Pause(sessionID string) error {
	d, err := s.driver(sessionID)
	if err != nil {
		return err
	}
	d.Pause()
	return nil
}

// Resume restarts detection after Pause.
func (s *Service) Resume(sessionID string) error {
	d, err := s.driver(sessionID)
	if err != nil {
		return err
	}
	d.Resume()
	return nil
}

// SetInterval changes how often a session ticks.
func (s *Service) SetInterval(sessionID string, interval time.Duration) error {
	d, err := s.driver(sessionID)
	if err != nil {
		return err
	}
	return d.SetInterval(interval)
}

// SetSignalEnabled toggles one signal for a live session.
func (s *Service) SetSignalEnabled(sessionID string, sig model.Signal, enabled bool) error {
	d, err := s.driver(sessionID)
	if err != nil {
		return err
	}
	return d.SetSignalEnabled(sig, enabled)
}

// ActiveSessions returns the ids of monitored sessions.
func (s *Service) ActiveSessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	started := s.started
	activeCount := len(s.sessions)
	s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":        started,
		"activeSessions": activeCount,
		"sessionsEnded":  s.ended.Load(),
		"queueCapacity":  s.queueCapacity,
		"interval":       s.defaults.Interval.String(),
	}
	if !started {
		return stats
	}
	ctx := context.Background()
	stats["storedSessions"] = s.store.Count(ctx)

	if s.health != nil {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		err := s.health.Health(probeCtx)
		cancel()
		inf := map[string]interface{}{
			"healthy": err == nil,
			"breaker": s.health.State(),
		}
		if err != nil {
			inf["error"] = err.Error()
		}
		stats["inference"] = inf
	}
	metrics.UpdateActiveSessions(activeCount)
	return stats
}
