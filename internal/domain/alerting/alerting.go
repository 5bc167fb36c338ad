// Package alerting turns violating ticks into cooldown-gated alerts.
package alerting

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/proctor/internal/domain/model"
)

const (
	defaultCooldown = 10 * time.Second
	messagePrefix   = "Potential cheating detected: "
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithCooldown sets the minimum gap between two alerts.
func WithCooldown(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.cooldown = d
		}
	}
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// Manager holds one session's alert list and cooldown state. Alerts are never
// removed; acknowledging one only hides it from Active.
type Manager struct {
	mu          sync.RWMutex
	cooldown    time.Duration
	lastAlertAt time.Time
	alerts      []model.Alert
	acked       map[string]struct{}
	newID       func() string
}

// New creates an alert manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		cooldown: defaultCooldown,
		acked:    make(map[string]struct{}),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Evaluate considers one tick. When at least one signal is violating and the
// cooldown has strictly elapsed since the previous alert, a single alert
// covering every violating signal is emitted.
func (m *Manager) Evaluate(now time.Time, violating []model.Signal, riskScore float64) (model.Alert, bool) {
	if len(violating) == 0 {
		return model.Alert{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastAlertAt.IsZero() && now.Sub(m.lastAlertAt) <= m.cooldown {
		return model.Alert{}, false
	}

	signals := make([]model.Signal, len(violating))
	copy(signals, violating)

	a := model.Alert{
		ID:                  m.newID(),
		Severity:            SeverityFor(len(signals)),
		Message:             Message(signals),
		ContributingSignals: signals,
		RiskScoreAtEmission: riskScore,
		Timestamp:           now,
	}
	m.alerts = append(m.alerts, a)
	m.lastAlertAt = now
	return a, true
}

// SeverityFor derives alert severity from the number of simultaneously
// violating signals.
func SeverityFor(count int) model.Severity {
	switch {
	case count > 2:
		return model.SeverityHigh
	case count > 1:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Message renders the human-readable alert text.
func Message(signals []model.Signal) string {
	names := make([]string, len(signals))
	for i, s := range signals {
		names[i] = string(s)
	}
	return messagePrefix + strings.Join(names, ", ")
}

// Acknowledge hides an alert from the active view.
func (m *Manager) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			m.acked[id] = struct{}{}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

// Active returns unacknowledged alerts, oldest first.
func (m *Manager) Active() []model.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if _, ok := m.acked[a.ID]; !ok {
			out = append(out, a)
		}
	}
	return out
}

// All returns every alert ever emitted, oldest first.
func (m *Manager) All() []model.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Len returns the number of emitted alerts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerts)
}

// SetCooldown changes the cooldown for subsequent evaluations.
func (m *Manager) SetCooldown(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	m.cooldown = d
	m.mu.Unlock()
}
