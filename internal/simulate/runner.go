package simulate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/proctor/pkg/logger"
)

const defaultConcurrency = 4

// Result is the outcome of one simulated session.
type Result struct {
	SessionID  string   `json:"session_id"`
	MockID     string   `json:"mock_id"`
	Risk       float64  `json:"risk"`
	Tier       string   `json:"tier"`
	Alerts     int      `json:"alerts"`
	Answers    int      `json:"answers"`
	Ended      bool     `json:"ended"`
	Failures   []string `json:"failures,omitempty"`
	Accepted   int      `json:"events_accepted"`
	Duplicates int      `json:"events_duplicate"`
	Dropped    int      `json:"events_dropped"`
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// Report summarizes a scenario run.
type Report struct {
	Sessions   []Result      `json:"sessions"`
	Passed     int           `json:"passed"`
	Failed     int           `json:"failed"`
	Accepted   int           `json:"events_accepted"`
	Duplicates int           `json:"events_duplicate"`
	Dropped    int           `json:"events_dropped"`
	TopEntries int           `json:"top_entries"`
	Warnings   []string      `json:"warnings,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Runner plays a scenario against a server.
type Runner struct {
	scenario    *Scenario
	client      *Client
	concurrency int
	logger      logger.Logger
	now         func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithConcurrency caps how many sessions run at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRunner creates a runner for sc.
func NewRunner(sc *Scenario, opts ...Option) *Runner {
	r := &Runner{
		scenario:    sc,
		client:      NewClient(sc.BaseURL, sc.Timeout),
		concurrency: defaultConcurrency,
		logger:      logger.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run plays every session, then checks the ranking. It returns
// ErrExpectation when any session failed its checks; the report is
// returned either way once the sessions have run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := r.now()
	if err := r.client.Health(ctx); err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	r.logger.Info(ctx, "running scenario",
		logger.String("baseURL", r.scenario.BaseURL),
		logger.Int("sessions", len(r.scenario.Sessions)),
		logger.Int("concurrency", r.concurrency))

	results := make([]Result, len(r.scenario.Sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range r.scenario.Sessions {
		g.Go(func() error {
			res, err := r.runSession(gctx, &r.scenario.Sessions[i])
			if err != nil {
				return fmt.Errorf("session %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Sessions: results}
	for i := range results {
		res := &results[i]
		if res.Passed() {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Accepted += res.Accepted
		report.Duplicates += res.Duplicates
		report.Dropped += res.Dropped
	}

	top, err := r.client.Top(ctx, r.scenario.TopN)
	if err != nil {
		return nil, fmt.Errorf("fetch top: %w", err)
	}
	report.TopEntries = len(top)
	report.Warnings = verifyTop(top, results)
	for _, w := range report.Warnings {
		r.logger.Warn(ctx, "ranking check", logger.String("warning", w))
	}
	report.Duration = r.now().Sub(started)

	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d of %d sessions", ErrExpectation, report.Failed, len(results))
	}
	return report, nil
}

func (r *Runner) runSession(ctx context.Context, s *Session) (Result, error) {
	agg, err := r.client.StartSession(ctx, s)
	if err != nil {
		return Result{}, err
	}
	res := Result{SessionID: agg.SessionID, MockID: s.MockID}
	log := r.logger.Named(agg.SessionID)
	log.Debug(ctx, "session started", logger.Int("steps", len(s.Steps)))

	for _, step := range s.Steps {
		if err := r.runStep(ctx, agg.SessionID, &step, &res); err != nil {
			return res, err
		}
	}
	if err := sleep(ctx, r.scenario.Settle); err != nil {
		return res, err
	}

	live, err := r.client.Risk(ctx, agg.SessionID)
	if err != nil {
		return res, err
	}
	res.Risk = live.RiskScore
	res.Tier = string(live.Tier)
	res.Alerts = live.TotalAlerts
	res.Failures = verifySession(s.Expect, &live)
	for _, f := range res.Failures {
		log.Warn(ctx, "expectation failed", logger.String("reason", f))
	}

	if s.End {
		if _, err := r.client.End(ctx, agg.SessionID); err != nil {
			return res, err
		}
		res.Ended = true
	}
	log.Info(ctx, "session done",
		logger.Float64("risk", res.Risk),
		logger.Int("alerts", res.Alerts),
		logger.Bool("passed", res.Passed()))
	return res, nil
}

func (r *Runner) runStep(ctx context.Context, id string, step *Step, res *Result) error {
	now := r.now()
	if events := eventsFor(*step, now); len(events) > 0 {
		pushed, err := r.client.PushEvents(ctx, id, events)
		if err != nil {
			return err
		}
		res.Accepted += pushed.Accepted
		res.Duplicates += pushed.Duplicates
		res.Dropped += pushed.Dropped
	}
	if obs := observationFor(*step, now); obs != nil {
		if err := r.client.Observe(ctx, id, obs); err != nil {
			return err
		}
	}
	if step.Answer != "" {
		if _, err := r.client.Answer(ctx, id, step.Answer); err != nil {
			return err
		}
		res.Answers++
	}
	return sleep(ctx, step.Wait)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
