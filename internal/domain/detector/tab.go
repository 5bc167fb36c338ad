package detector

import (
	"context"
	"math"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// TabSwitch counts visibility switches that outlast the debounce floor.
// Window blur is the same category at lower confidence; a blur immediately
// followed by a counted hide is one switch, not two.
type TabSwitch struct {
	debounce time.Duration
	recent   time.Duration
	history  int
}

// NewTabSwitch constructs the tab switching detector.
func NewTabSwitch(t model.Thresholds) *TabSwitch {
	h := t.TabHistory
	if h < 1 {
		h = 1
	}
	return &TabSwitch{debounce: t.TabDebounce, recent: t.TabRecentWindow, history: h}
}

func (d *TabSwitch) Signal() model.Signal { return model.SignalTabSwitch }

func (d *TabSwitch) Evaluate(_ context.Context, in Input, prev model.SignalState) (model.SignalState, int, error) {
	r := &model.TabSwitchReading{}
	if p := prev.Reading.TabSwitch; p != nil {
		r.SwitchCount = p.SwitchCount
		r.Hidden = p.Hidden
		r.HiddenSince = p.HiddenSince
		r.HiddenCounted = p.HiddenCounted
		r.History = p.History
	}

	added := 0
	for _, ev := range in.Events {
		switch ev.Kind {
		case model.InputVisibility:
			if ev.Hidden {
				if !r.Hidden {
					r.Hidden = true
					r.HiddenSince = ev.At
					r.HiddenCounted = false
				}
				continue
			}
			if !r.Hidden {
				continue
			}
			hiddenAt, counted := r.HiddenSince, r.HiddenCounted
			hiddenFor := ev.At.Sub(hiddenAt)
			r.Hidden = false
			r.HiddenSince = time.Time{}
			r.HiddenCounted = false
			if counted || hiddenFor <= d.debounce {
				continue
			}
			if d.countHide(r, model.SwitchEvent{At: ev.At, Duration: hiddenFor}, hiddenAt) {
				added++
			}
		case model.InputBlur:
			if r.Hidden {
				continue
			}
			r.History = appendBounded(r.History, model.SwitchEvent{At: ev.At, Blur: true}, d.history)
			r.SwitchCount++
			added++
		}
	}

	// A page that is still away past the debounce counts now, so a session
	// ending before it returns does not lose the switch.
	if r.Hidden && !r.HiddenCounted && in.Now.Sub(r.HiddenSince) > d.debounce {
		r.HiddenCounted = true
		if d.countHide(r, model.SwitchEvent{At: in.Now, Duration: in.Now.Sub(r.HiddenSince)}, r.HiddenSince) {
			added++
		}
	}

	var visible, blurs int
	for _, sw := range r.History {
		if in.Now.Sub(sw.At) < d.recent {
			if sw.Blur {
				blurs++
			} else {
				visible++
			}
		}
	}
	r.RecentSwitches = visible + blurs

	next := model.SignalState{
		Signal:     d.Signal(),
		UpdatedAt:  in.Now,
		Violations: prev.Violations + added,
		Reading:    model.Reading{TabSwitch: r},
		Status:     model.StatusClean,
	}
	awayNow := r.Hidden && in.Now.Sub(r.HiddenSince) > d.debounce
	if r.RecentSwitches > 0 || awayNow {
		next.Detected = true
		next.Status = model.StatusViolation
		next.Confidence = math.Min(0.9, 0.3+0.2*float64(visible)+0.1*float64(blurs))
		if awayNow {
			next.Confidence = math.Max(next.Confidence, 0.5)
		}
		next.WindowOpenedAt = prev.WindowOpenedAt
		if added > 0 || next.WindowOpenedAt.IsZero() {
			next.WindowOpenedAt = in.Now
		}
	}
	return next, added, nil
}

// countHide records a hide that outlasted the debounce. A blur that
// announced it is upgraded in place and nothing new is counted.
func (d *TabSwitch) countHide(r *model.TabSwitchReading, sw model.SwitchEvent, hiddenAt time.Time) bool {
	if n := len(r.History); n > 0 && r.History[n-1].Blur && absDuration(hiddenAt.Sub(r.History[n-1].At)) <= d.debounce {
		h := make([]model.SwitchEvent, n)
		copy(h, r.History)
		h[n-1] = sw
		r.History = h
		return false
	}
	r.History = appendBounded(r.History, sw, d.history)
	r.SwitchCount++
	return true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
