package repository

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/types"
)

// MemoryStore keeps sessions in process. It is used when no data directory
// is configured and by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Aggregate
	answers  map[string]map[string]model.AnswerSnapshot
	index    *RiskIndex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.Aggregate),
		answers:  make(map[string]map[string]model.AnswerSnapshot),
		index:    NewRiskIndex(),
	}
}

func (m *MemoryStore) StartSession(_ context.Context, s model.Session) (model.Aggregate, error) { //nolint:gocritic // hugeParam
	if err := validSession(s); err != nil {
		return model.Aggregate{}, err
	}
	agg := newAggregate(s)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = agg
	delete(m.answers, s.ID)
	m.index.Remove(s.ID)
	m.index.UpdatePeak(s.ID, s.MockID, 0, s.StartedAt)
	return cloneAggregate(agg), nil
}

func (m *MemoryStore) SaveAggregate(_ context.Context, agg model.Aggregate) error { //nolint:gocritic // hugeParam
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[agg.SessionID]
	if !ok {
		return ErrNotFound
	}
	if cur.Closed {
		return ErrSessionClosed
	}
	agg.Closed = false
	m.sessions[agg.SessionID] = cloneAggregate(agg)
	m.index.UpdatePeak(agg.SessionID, agg.MockID, agg.PeakRisk, agg.UpdatedAt)
	return nil
}

func (m *MemoryStore) CloseSession(_ context.Context, agg model.Aggregate) (bool, error) { //nolint:gocritic // hugeParam
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[agg.SessionID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.Closed {
		return false, nil
	}
	agg.Closed = true
	m.sessions[agg.SessionID] = cloneAggregate(agg)
	m.index.UpdatePeak(agg.SessionID, agg.MockID, agg.PeakRisk, agg.UpdatedAt)
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (model.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.sessions[sessionID]
	if !ok {
		return model.Aggregate{}, ErrNotFound
	}
	return cloneAggregate(agg), nil
}

func (m *MemoryStore) ListByMock(_ context.Context, mockID string) ([]model.Aggregate, error) {
	m.mu.RLock()
	out := make([]model.Aggregate, 0)
	for _, agg := range m.sessions {
		if agg.MockID == mockID {
			out = append(out, cloneAggregate(agg))
		}
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) AttachAnswer(_ context.Context, a model.AnswerSnapshot) error { //nolint:gocritic // hugeParam
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[a.SessionID]; !ok {
		return ErrNotFound
	}
	byQuestion, ok := m.answers[a.SessionID]
	if !ok {
		byQuestion = make(map[string]model.AnswerSnapshot)
		m.answers[a.SessionID] = byQuestion
	}
	a.Alerts = slices.Clone(a.Alerts)
	byQuestion[a.QuestionID] = a
	return nil
}

func (m *MemoryStore) Answers(_ context.Context, sessionID string) ([]model.AnswerSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	out := slices.Collect(maps.Values(m.answers[sessionID]))
	if out == nil {
		out = []model.AnswerSnapshot{}
	}
	sortBySubmission(out)
	return out, nil
}

func (m *MemoryStore) Statistics(_ context.Context) (types.Statistics, error) {
	m.mu.RLock()
	aggs := slices.Collect(maps.Values(m.sessions))
	m.mu.RUnlock()
	return computeStatistics(aggs), nil
}

func (m *MemoryStore) TopN(_ context.Context, n int) ([]types.Entry, error) {
	return m.index.TopN(n)
}

func (m *MemoryStore) Rank(_ context.Context, sessionID string) (types.Entry, error) {
	return m.index.Rank(sessionID)
}

func (m *MemoryStore) Count(_ context.Context) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) Close() error { return nil }

func cloneAggregate(a model.Aggregate) model.Aggregate { //nolint:gocritic // hugeParam
	a.Alerts = slices.Clone(a.Alerts)
	a.DetectionHistory = slices.Clone(a.DetectionHistory)
	a.Violations = maps.Clone(a.Violations)
	a.Devices = maps.Clone(a.Devices)
	a.MovementPatterns = maps.Clone(a.MovementPatterns)
	a.Settings = a.Settings.Clone()
	if a.Summary != nil {
		s := *a.Summary
		a.Summary = &s
	}
	if a.EndedAt != nil {
		t := *a.EndedAt
		a.EndedAt = &t
	}
	return a
}
