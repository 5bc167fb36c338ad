package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"
	"golang.org/x/sync/errgroup"

	"github.com/okian/proctor/internal/adapters/mq/queue"
	"github.com/okian/proctor/internal/domain/alerting"
	"github.com/okian/proctor/internal/domain/dedupe"
	"github.com/okian/proctor/internal/domain/detector"
	"github.com/okian/proctor/internal/domain/history"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/scoring"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

const (
	defaultInterval      = 2 * time.Second
	defaultFlushInterval = 30 * time.Second
	defaultFlushTimeout  = 5 * time.Second
	minInterval          = 50 * time.Millisecond
)

// Store persists periodic aggregates.
type Store interface {
	SaveAggregate(ctx context.Context, agg model.Aggregate) error
}

// Publisher fans tick results out to observers.
type Publisher interface {
	PublishSnapshot(ctx context.Context, sessionID string, s model.RiskSnapshot) error
	PublishAlert(ctx context.Context, sessionID string, a model.Alert) error
}

// Driver owns everything that belongs to one monitored session: signal
// states, the history ring, alerts and the input subscription. Ticks are
// serialized; detectors inside a tick run concurrently.
type Driver struct {
	session      model.Session
	logger       logger.Logger
	now          func() time.Time
	inferrer     detector.Inferrer
	store        Store
	publisher    Publisher
	input        queue.Queue
	flushTimeout time.Duration
	flushEvery   time.Duration

	alerts *alerting.Manager
	ring   *history.Ring

	mu         sync.RWMutex
	settings   model.DetectionSettings
	detectors  []detector.Detector
	aggregator *scoring.Aggregator
	states     map[model.Signal]model.SignalState
	camera     *model.CameraObservation
	audio      *model.AudioObservation
	latest     model.RiskSnapshot
	tally      tally

	tickMu   sync.Mutex
	ticks    atomic.Uint64
	interval atomic.Int64
	paused   atomic.Bool
	reset    chan struct{}

	flushing atomic.Bool
	flushWG  sync.WaitGroup

	// running holds one token while a loop is active; Stop takes it for good
	// once the last run has returned.
	running  chan struct{}
	shutdown chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

// tally accumulates the per-session counters that survive into the aggregate.
type tally struct {
	violations  map[string]int
	devices     map[string]int
	movement    map[string]int
	peak        float64
	positiveSum float64
	positiveN   int
	detections  int
}

// New creates a driver for session. The session must carry both a session id
// and a mock id.
func New(session model.Session, opts ...Option) (*Driver, error) {
	if session.ID == "" || session.MockID == "" {
		return nil, fmt.Errorf("%w: session id and mock id are required", ErrInvalidConfig)
	}
	settings := session.Settings.Clone()
	session.Settings = settings

	d := &Driver{
		session:      session,
		now:          time.Now,
		flushTimeout: defaultFlushTimeout,
		flushEvery:   settings.FlushInterval,
		settings:     settings,
		states:       make(map[model.Signal]model.SignalState, len(model.AllSignals())),
		reset:        make(chan struct{}, 1),
		running:      make(chan struct{}, 1),
		shutdown:     make(chan struct{}),
		exited:       make(chan struct{}),
		tally: tally{
			violations: make(map[string]int),
			devices:    make(map[string]int),
			movement:   make(map[string]int),
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Get().Named("driver")
	}
	d.logger = d.logger.Named(session.ID)
	if d.input == nil {
		d.input = queue.NewInMemoryQueue(queue.WithDeduper(dedupe.NewInMemoryDeduper()))
	}
	if d.flushEvery <= 0 {
		d.flushEvery = defaultFlushInterval
	}

	interval := settings.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	d.interval.Store(int64(interval))

	detectors, err := detector.NewSet(settings, d.inferrer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	d.detectors = detectors
	d.aggregator = scoring.NewAggregator(settings)
	d.alerts = alerting.New(alerting.WithCooldown(settings.AlertCooldown))
	d.ring = history.NewRing(settings.HistoryCapacity)

	for _, sig := range model.AllSignals() {
		d.states[sig] = model.NewSignalState(sig)
	}
	return d, nil
}

// Serve runs the tick loop until Stop is called or ctx is cancelled. It
// satisfies suture.Service and may be called again after it returns, as a
// supervisor restart does.
func (d *Driver) Serve(ctx context.Context) error {
	select {
	case d.running <- struct{}{}:
	case <-d.shutdown:
		return suture.ErrDoNotRestart
	}
	defer func() { <-d.running }()
	return d.loop(ctx)
}

func (d *Driver) loop(ctx context.Context) error {
	select {
	case <-d.shutdown:
		return suture.ErrDoNotRestart
	default:
	}

	tick := time.NewTimer(d.Interval())
	defer tick.Stop()
	flush := time.NewTicker(d.flushEvery)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.shutdown:
			return suture.ErrDoNotRestart
		case <-d.reset:
			if !tick.Stop() {
				select {
				case <-tick.C:
				default:
				}
			}
			tick.Reset(d.Interval())
		case <-flush.C:
			d.FlushAsync(ctx)
		case <-tick.C:
			if !d.paused.Load() {
				d.Tick(ctx)
			}
			// Rescheduled after the tick completes, so a slow tick delays the
			// next one instead of overlapping or skipping it.
			tick.Reset(d.Interval())
		}
	}
}

// Stop halts the loop, detaches the input subscription and waits for any
// in-flight flush. It is safe to call more than once.
func (d *Driver) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		close(d.shutdown)
		_ = d.input.Close()
		go func() {
			// Taking the token waits out the active run, including one a
			// supervisor started after an earlier run returned.
			d.running <- struct{}{}
			close(d.exited)
		}()
	})

	select {
	case <-d.exited:
	case <-ctx.Done():
		return fmt.Errorf("stop driver %s: %w", d.session.ID, ctx.Err())
	}

	flushed := make(chan struct{})
	go func() {
		d.flushWG.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop driver %s: waiting for flush: %w", d.session.ID, ctx.Err())
	}
}

// String names the driver in supervisor logs.
func (d *Driver) String() string {
	return "driver/" + d.session.ID
}

// Done is closed once Stop has been called and no run is active.
func (d *Driver) Done() <-chan struct{} {
	return d.exited
}

// outcome is one detector's result within a tick.
type outcome struct {
	sig   model.Signal
	state model.SignalState
	delta int
	err   error
}

// Tick runs one detection cycle and returns the snapshot it appended.
func (d *Driver) Tick(ctx context.Context) model.RiskSnapshot {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	start := time.Now()
	now := d.now()
	events := d.input.Drain()

	d.mu.RLock()
	in := detector.Input{Now: now, Camera: d.camera, Audio: d.audio, Events: events}
	detectors := d.detectors
	aggregator := d.aggregator
	next := make(map[model.Signal]model.SignalState, len(d.states))
	for sig, st := range d.states {
		next[sig] = st
	}
	d.mu.RUnlock()

	for _, o := range d.evaluate(ctx, detectors, in, next) {
		if o.err != nil {
			metrics.RecordDetectorError(string(o.sig))
			d.logger.Debug(ctx, "detector failed, keeping previous state",
				logger.String("signal", string(o.sig)),
				logger.Error(o.err),
			)
			continue
		}
		next[o.sig] = o.state
		if o.delta > 0 {
			metrics.RecordViolation(string(o.sig), o.delta)
		}
	}

	res := aggregator.Score(next)
	snap := model.RiskSnapshot{
		Seq:        d.ring.Total() + 1,
		Timestamp:  now,
		RiskScore:  res.Score,
		Tier:       res.Tier,
		Signals:    next,
		Triggering: res.Triggering,
		Metrics:    scoring.Metrics(next),
	}
	d.ring.Append(snap)
	alert, emitted := d.alerts.Evaluate(now, res.Triggering, res.Score)

	d.mu.Lock()
	d.states = next
	d.latest = snap
	d.tally.record(snap, alert, emitted)
	d.mu.Unlock()
	d.ticks.Add(1)

	metrics.RecordTick(float64(time.Since(start).Milliseconds()))
	metrics.ObserveRiskScore(res.Score)
	switch {
	case emitted:
		metrics.RecordAlert(string(alert.Severity))
	case len(res.Triggering) > 0:
		metrics.RecordAlertSuppressed()
	}

	d.publish(ctx, snap, alert, emitted)
	return snap
}

// evaluate fans the detectors out. A failing or panicking detector only
// loses its own signal for this tick.
func (d *Driver) evaluate(ctx context.Context, detectors []detector.Detector, in detector.Input, prev map[model.Signal]model.SignalState) []outcome {
	out := make([]outcome, len(detectors))
	var g errgroup.Group
	for i, det := range detectors {
		sig := det.Signal()
		st := prev[sig]
		out[i].sig = sig
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					out[i].err = fmt.Errorf("detector %s panicked: %v", sig, r)
				}
			}()
			out[i].state, out[i].delta, out[i].err = det.Evaluate(ctx, in, st)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Driver) publish(ctx context.Context, snap model.RiskSnapshot, alert model.Alert, emitted bool) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.PublishSnapshot(ctx, d.session.ID, snap); err != nil {
		d.logger.Debug(ctx, "snapshot publish failed", logger.Error(err))
	}
	if !emitted {
		return
	}
	if err := d.publisher.PublishAlert(ctx, d.session.ID, alert); err != nil {
		d.logger.Warn(ctx, "alert publish failed", logger.String("alert_id", alert.ID), logger.Error(err))
	}
}

func (t *tally) record(snap model.RiskSnapshot, alert model.Alert, emitted bool) {
	if snap.RiskScore > t.peak {
		t.peak = snap.RiskScore
	}
	if snap.RiskScore > 0 {
		t.positiveSum += snap.RiskScore
		t.positiveN++
	}
	if len(snap.Triggering) > 0 {
		t.detections++
	}
	if !emitted {
		return
	}
	for _, sig := range alert.ContributingSignals {
		t.violations[string(sig)]++
		switch sig {
		case model.SignalDevice:
			kind := snap.Metrics.DeviceType
			if kind == "" {
				kind = "unknown"
			}
			t.devices[kind]++
		case model.SignalHeadMovement:
			t.movement[string(snap.Metrics.MovementPattern)]++
		}
	}
}

// FlushAsync starts a background flush of the current aggregate unless one
// is already running. It never blocks the caller.
func (d *Driver) FlushAsync(ctx context.Context) bool {
	if d.store == nil || !d.flushing.CompareAndSwap(false, true) {
		return false
	}
	agg := d.Aggregate()
	d.flushWG.Add(1)
	go func() {
		defer d.flushWG.Done()
		defer d.flushing.Store(false)
		_ = d.flush(ctx, agg)
	}()
	return true
}

// Flush writes the current aggregate synchronously.
func (d *Driver) Flush(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	return d.flush(ctx, d.Aggregate())
}

func (d *Driver) flush(ctx context.Context, agg model.Aggregate) error { //nolint:gocritic // hugeParam: aggregate is a point-in-time copy
	start := time.Now()
	fctx, cancel := context.WithTimeout(ctx, d.flushTimeout)
	defer cancel()

	err := d.store.SaveAggregate(fctx, agg)
	ms := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordFlush("error", ms)
		metrics.RecordErrorByComponent("driver", "flush")
		d.logger.Warn(ctx, "aggregate flush failed, retrying next period", logger.Error(err))
		return fmt.Errorf("flush session %s: %w", d.session.ID, err)
	}
	metrics.RecordFlush("ok", ms)
	return nil
}

// Aggregate builds the durable projection of the current state. History is
// truncated to the persisted window.
func (d *Driver) Aggregate() model.Aggregate {
	now := d.now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	return model.Aggregate{
		SessionID:        d.session.ID,
		MockID:           d.session.MockID,
		UserEmail:        d.session.UserEmail,
		StartedAt:        d.session.StartedAt,
		UpdatedAt:        now,
		DurationSeconds:  durationSeconds(d.session.StartedAt, now),
		RiskScore:        d.latest.RiskScore,
		PeakRisk:         d.tally.peak,
		SeverityLevel:    scoring.Tier(d.latest.RiskScore),
		Alerts:           d.alerts.All(),
		DetectionHistory: d.ring.Last(d.settings.PersistedHistory),
		EnhancedMetrics:  d.latest.Metrics,
		Violations:       copyCounts(d.tally.violations),
		Devices:          copyCounts(d.tally.devices),
		MovementPatterns: copyCounts(d.tally.movement),
		Settings:         d.settings.Clone(),
	}
}

// Final builds the closing aggregate with its summary.
func (d *Driver) Final() model.Aggregate {
	agg := d.Aggregate()
	ended := agg.UpdatedAt
	agg.EndedAt = &ended
	agg.Closed = true
	s := d.Summary()
	agg.Summary = &s
	return agg
}

// Summary computes end-of-session analytics.
func (d *Driver) Summary() model.Summary {
	now := d.now()
	alerts := d.alerts.Len()

	d.mu.RLock()
	defer d.mu.RUnlock()

	s := model.Summary{
		PeakRisk:        d.tally.peak,
		TotalDetections: d.tally.detections,
		TotalAlerts:     alerts,
		DurationSeconds: durationSeconds(d.session.StartedAt, now),
	}
	if d.tally.positiveN > 0 {
		s.AverageRisk = d.tally.positiveSum / float64(d.tally.positiveN)
	}
	s.TotalViolations, s.MostCommonViolation = mostCommon(d.tally.violations)
	s.FinalSeverity = scoring.FinalSeverity(s.AverageRisk, s.TotalAlerts, s.TotalViolations)
	return s
}

// Risk returns the live view served to the UI.
func (d *Driver) Risk() model.LiveRisk {
	d.mu.RLock()
	latest := d.latest
	d.mu.RUnlock()

	return model.LiveRisk{
		SessionID:    d.session.ID,
		RiskScore:    latest.RiskScore,
		Tier:         scoring.Tier(latest.RiskScore),
		ActiveAlerts: d.alerts.Active(),
		TotalAlerts:  d.alerts.Len(),
		Metrics:      latest.Metrics,
		Paused:       d.paused.Load(),
		Ticks:        d.ticks.Load(),
		UpdatedAt:    latest.Timestamp,
	}
}

// AnswerSnapshot captures the risk context for a submitted answer.
func (d *Driver) AnswerSnapshot(questionID string) model.AnswerSnapshot {
	live := d.Risk()
	return model.AnswerSnapshot{
		SessionID:   d.session.ID,
		QuestionID:  questionID,
		RiskScore:   live.RiskScore,
		Tier:        live.Tier,
		Alerts:      d.alerts.All(),
		Metrics:     live.Metrics,
		SubmittedAt: d.now(),
	}
}

// History returns the retained snapshots, oldest first.
func (d *Driver) History() []model.RiskSnapshot {
	return d.ring.Snapshot()
}

// States returns the current per-signal states.
func (d *Driver) States() map[model.Signal]model.SignalState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[model.Signal]model.SignalState, len(d.states))
	for sig, st := range d.states {
		out[sig] = st
	}
	return out
}

// Push hands an asynchronous input event to the next tick.
func (d *Driver) Push(ctx context.Context, e model.InputEvent) error { //nolint:gocritic // hugeParam: queued by value
	return d.input.Enqueue(ctx, e)
}

// SetCamera replaces the latest camera observation. The caller must not
// modify obs afterwards.
func (d *Driver) SetCamera(obs *model.CameraObservation) {
	d.mu.Lock()
	d.camera = obs
	d.mu.Unlock()
}

// SetAudio replaces the latest audio observation. A nil or unavailable
// observation makes the audio signal unavailable.
func (d *Driver) SetAudio(obs *model.AudioObservation) {
	d.mu.Lock()
	d.audio = obs
	d.mu.Unlock()
}

// Acknowledge hides an alert from the active view.
func (d *Driver) Acknowledge(alertID string) error {
	return d.alerts.Acknowledge(alertID)
}

// Pause suspends detection without stopping the loop.
func (d *Driver) Pause() { d.paused.Store(true) }

// Resume restarts detection after Pause.
func (d *Driver) Resume() { d.paused.Store(false) }

// Paused reports whether detection is suspended.
func (d *Driver) Paused() bool { return d.paused.Load() }

// Interval returns the current tick interval.
func (d *Driver) Interval() time.Duration {
	return time.Duration(d.interval.Load())
}

// SetInterval changes the tick interval; the running loop picks it up
// immediately.
func (d *Driver) SetInterval(interval time.Duration) error {
	if interval < minInterval {
		return fmt.Errorf("%w: interval %s below %s", ErrInvalidConfig, interval, minInterval)
	}
	d.interval.Store(int64(interval))
	select {
	case d.reset <- struct{}{}:
	default:
	}
	return nil
}

// SetSignalEnabled turns one signal on or off from the next tick onwards.
// Violation counts already accumulated are kept. A re-enabled signal starts
// from a fresh state.
func (d *Driver) SetSignalEnabled(sig model.Signal, enabled bool) error {
	if !sig.Valid() {
		return fmt.Errorf("%w: %s", detector.ErrUnknownSignal, sig)
	}
	// tickMu keeps an in-flight tick from writing back the state replaced here.
	d.tickMu.Lock()
	defer d.tickMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	was := d.settings.IsEnabled(sig)
	settings := d.settings.Clone()
	settings.Enabled[sig] = enabled
	detectors, err := detector.NewSet(settings, d.inferrer)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if enabled && !was {
		d.states[sig] = model.NewSignalState(sig)
	}
	d.settings = settings
	d.detectors = detectors
	d.aggregator = scoring.NewAggregator(settings)
	return nil
}

// Settings returns a copy of the active detection settings.
func (d *Driver) Settings() model.DetectionSettings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings.Clone()
}

// Session returns the session this driver monitors.
func (d *Driver) Session() model.Session {
	return d.session
}

// Ticks returns how many ticks have completed.
func (d *Driver) Ticks() uint64 {
	return d.ticks.Load()
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mostCommon returns the total of all counts and the key with the highest
// count, ties broken alphabetically.
func mostCommon(m map[string]int) (int, string) {
	keys := make([]string, 0, len(m))
	total := 0
	for k, v := range m {
		keys = append(keys, k)
		total += v
	}
	sort.Strings(keys)
	best, bestN := "", 0
	for _, k := range keys {
		if m[k] > bestN {
			best, bestN = k, m[k]
		}
	}
	return total, best
}

func durationSeconds(start, end time.Time) int64 {
	if start.IsZero() || end.Before(start) {
		return 0
	}
	return int64(end.Sub(start).Seconds())
}
