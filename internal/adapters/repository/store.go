// Package repository persists session aggregates and ranks sessions by risk.
package repository

import (
	"context"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/types"
)

// Store is the durable side of the engine.
type Store interface {
	// StartSession creates the session record, or resets it when the id
	// already exists.
	StartSession(ctx context.Context, s model.Session) (model.Aggregate, error)

	// SaveAggregate upserts a periodic, non-terminal aggregate. Writes to a
	// closed session are refused with ErrSessionClosed.
	SaveAggregate(ctx context.Context, agg model.Aggregate) error

	// CloseSession performs the terminal write. It reports false without
	// writing when the session was already closed.
	CloseSession(ctx context.Context, agg model.Aggregate) (bool, error)

	// Get returns the stored aggregate or ErrNotFound.
	Get(ctx context.Context, sessionID string) (model.Aggregate, error)

	// ListByMock returns every session of a mock interview, newest first.
	ListByMock(ctx context.Context, mockID string) ([]model.Aggregate, error)

	// AttachAnswer stores the risk context of a submitted answer. A second
	// submission for the same question replaces the first.
	AttachAnswer(ctx context.Context, a model.AnswerSnapshot) error

	// Answers returns a session's answer snapshots ordered by submission.
	Answers(ctx context.Context, sessionID string) ([]model.AnswerSnapshot, error)

	// Statistics aggregates every stored session.
	Statistics(ctx context.Context) (types.Statistics, error)

	// TopN returns the n sessions with the highest peak risk.
	TopN(ctx context.Context, n int) ([]types.Entry, error)

	// Rank returns a session's position in the peak risk ranking.
	Rank(ctx context.Context, sessionID string) (types.Entry, error)

	// Count returns the number of stored sessions.
	Count(ctx context.Context) int

	Close() error
}

// newAggregate is the empty record written when a session starts.
func newAggregate(s model.Session) model.Aggregate { //nolint:gocritic // hugeParam: session carries settings by value
	return model.Aggregate{
		SessionID:        s.ID,
		MockID:           s.MockID,
		UserEmail:        s.UserEmail,
		StartedAt:        s.StartedAt,
		UpdatedAt:        s.StartedAt,
		SeverityLevel:    model.SeverityLow,
		Alerts:           []model.Alert{},
		DetectionHistory: []model.RiskSnapshot{},
		Violations:       map[string]int{},
		Devices:          map[string]int{},
		MovementPatterns: map[string]int{},
		Settings:         s.Settings.Clone(),
	}
}

func validSession(s model.Session) error { //nolint:gocritic // hugeParam: session carries settings by value
	if s.ID == "" || s.MockID == "" {
		return ErrInvalidSession
	}
	return nil
}
