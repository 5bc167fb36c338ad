package detector

import (
	"context"
	"math"
	"time"
	"unicode/utf8"

	"github.com/okian/proctor/internal/domain/model"
)

// Typing flags scripted or pasted answers from keystroke dynamics. Speed on
// its own never detects: a fast typist still needs a corroborating pattern
// such as mechanical timing, a burst, long pauses or a large paste.
type Typing struct {
	t      model.Thresholds
	window time.Duration
}

// Suspicious event and flag names.
const (
	flagExtremelyFast = "extremely_fast_typing"
	flagMechanical    = "mechanical_timing"
	flagBurst         = "typing_burst"
	flagLongPauses    = "long_pauses"
	flagPaste         = "paste"

	eventPaste         = "paste"
	eventCopyPaste     = "copy_paste"
	eventRapidTyping   = "rapid_typing"
	eventPerfectTiming = "perfect_timing"

	perfectTimingMaxInterval = 80 * time.Millisecond
	perfectTimingMinKeys     = 10
	perfectTimingSamples     = 8
	perfectTimingVariance    = 5.0
)

var ignoredKeys = map[string]struct{}{
	"Shift": {}, "Tab": {}, "Enter": {}, "Backspace": {}, "Delete": {},
	"ArrowUp": {}, "ArrowDown": {}, "ArrowLeft": {}, "ArrowRight": {},
	"Home": {}, "End": {}, "PageUp": {}, "PageDown": {}, "Escape": {},
}

// NewTyping constructs the typing dynamics detector.
func NewTyping(t model.Thresholds, window time.Duration) *Typing {
	if t.TypingWindow < 1 {
		t.TypingWindow = 1
	}
	return &Typing{t: t, window: window}
}

func (d *Typing) Signal() model.Signal { return model.SignalTyping }

func (d *Typing) Evaluate(_ context.Context, in Input, prev model.SignalState) (model.SignalState, int, error) {
	r := &model.TypingReading{Pattern: model.TypingNormal}
	if p := prev.Reading.Typing; p != nil {
		r.Keystrokes = p.Keystrokes
		r.Suspicious = p.Suspicious
		r.LastSuspiciousAt = p.LastSuspiciousAt
	}

	for _, ev := range in.Events {
		switch ev.Kind {
		case model.InputPaste:
			if ev.PasteLength > d.t.PasteMinChars {
				r.Suspicious = append(cloneEvents(r.Suspicious), model.SuspiciousEvent{Kind: eventPaste, At: ev.At})
			}
		case model.InputKeyDown:
			d.keyDown(r, ev)
		}
	}

	// Suspicious events only count inside the recency window.
	kept := make([]model.SuspiciousEvent, 0, len(r.Suspicious))
	for _, s := range r.Suspicious {
		if in.Now.Sub(s.At) < d.t.TypingSuspiciousWindow {
			kept = append(kept, s)
		}
	}
	r.Suspicious = kept
	r.SuspiciousEvents = len(kept)

	next := model.SignalState{Reading: model.Reading{Typing: r}}
	next.Detected, next.Confidence = d.analyze(r)

	next, delta := settle(d.Signal(), prev, next, in.Now, d.window)
	return next, delta, nil
}

// keyDown records one key press, skipping modifiers and navigation.
func (d *Typing) keyDown(r *model.TypingReading, ev model.InputEvent) {
	if ev.Ctrl || ev.Meta {
		if ev.Key == "v" || ev.Key == "V" {
			d.suspicious(r, eventCopyPaste, ev.At)
		}
		return
	}
	if ev.Alt {
		return
	}
	if _, skip := ignoredKeys[ev.Key]; skip || utf8.RuneCountInString(ev.Key) != 1 {
		return
	}

	var interval time.Duration
	if n := len(r.Keystrokes); n > 0 {
		interval = ev.At.Sub(r.Keystrokes[n-1].At)
	}

	switch {
	case interval > 0 && interval < d.t.TypingBurstInterval:
		d.suspicious(r, eventRapidTyping, ev.At)
	case interval > 0 && interval < perfectTimingMaxInterval && len(r.Keystrokes) > perfectTimingMinKeys:
		last := r.Keystrokes
		if len(last) > perfectTimingSamples {
			last = last[len(last)-perfectTimingSamples:]
		}
		var v float64
		for _, k := range last {
			v += math.Pow(ms(k.Interval)-ms(interval), 2)
		}
		if v/float64(len(last)) < perfectTimingVariance {
			d.suspicious(r, eventPerfectTiming, ev.At)
		}
	}

	r.Keystrokes = appendBounded(r.Keystrokes, model.Keystroke{At: ev.At, Interval: interval}, d.t.TypingWindow)
}

// suspicious records a timing anomaly, rate limited by the suspicious cooldown.
func (d *Typing) suspicious(r *model.TypingReading, kind string, at time.Time) {
	if !r.LastSuspiciousAt.IsZero() && at.Sub(r.LastSuspiciousAt) < d.t.TypingSuspiciousCooldown {
		return
	}
	r.Suspicious = append(cloneEvents(r.Suspicious), model.SuspiciousEvent{Kind: kind, At: at})
	r.LastSuspiciousAt = at
}

// analyze fills the pattern fields of r and returns the verdict.
func (d *Typing) analyze(r *model.TypingReading) (bool, float64) {
	keys := r.Keystrokes
	n := len(keys)

	pasted := false
	for _, s := range r.Suspicious {
		if s.Kind == eventPaste {
			pasted = true
			break
		}
	}

	var flags []string
	mechanical := false
	if n >= d.t.TypingMinKeys {
		elapsed := keys[n-1].At.Sub(keys[0].At)
		if elapsed > 0 {
			r.WPM = (float64(n) / 5) / (elapsed.Minutes())
		}
		intervals := make([]float64, 0, n-1)
		for _, k := range keys[1:] {
			intervals = append(intervals, ms(k.Interval))
		}
		_, r.IntervalVariance = meanVariance(intervals)
		mechanical = r.IntervalVariance < d.t.TypingMechanicalVariance && n > d.t.TypingMechanicalMinKeys

		if r.WPM > d.t.TypingExtremeWPM {
			flags = append(flags, flagExtremelyFast)
		}
		if mechanical {
			flags = append(flags, flagMechanical)
		}
		if d.burst(keys) {
			flags = append(flags, flagBurst)
		}
		long := 0
		for _, iv := range intervals {
			if iv > ms(d.t.TypingLongPause) {
				long++
			}
		}
		if long > 1 {
			flags = append(flags, flagLongPauses)
		}

		switch {
		case r.WPM > d.t.TypingWPM:
			r.Pattern = model.TypingVeryFast
		case r.WPM > d.t.TypingFastWPM:
			r.Pattern = model.TypingFast
		case r.WPM < d.t.TypingSlowWPM:
			r.Pattern = model.TypingSlow
		case mechanical:
			r.Pattern = model.TypingMechanical
		case r.SuspiciousEvents > 2:
			r.Pattern = model.TypingSuspicious
		}
	} else if r.SuspiciousEvents > 2 {
		r.Pattern = model.TypingSuspicious
	}
	if pasted {
		flags = append(flags, flagPaste)
	}
	r.Flags = flags

	confidence := 0.0
	if r.WPM > d.t.TypingWPM {
		confidence += 0.3
	}
	if mechanical {
		confidence += 0.2
	}
	if r.SuspiciousEvents > 2 {
		confidence += 0.2
	}
	if pasted {
		confidence += 0.25
	}
	if len(flags) > 1 {
		confidence += 0.1
	}
	confidence = clamp01(confidence)

	corroborated := mechanical || pasted || r.SuspiciousEvents > 2 ||
		hasFlag(flags, flagBurst) || hasFlag(flags, flagLongPauses)
	return confidence > d.t.TypingConfidence && corroborated, confidence
}

// burst reports a short run of keys typed faster than a human can sustain.
func (d *Typing) burst(keys []model.Keystroke) bool {
	recent := keys
	if len(recent) > d.t.TypingBurstKeys {
		recent = recent[len(recent)-d.t.TypingBurstKeys:]
	}
	if len(recent) < d.t.TypingBurstMinKeys {
		return false
	}
	var sum time.Duration
	for _, k := range recent[1:] {
		sum += k.Interval
	}
	return sum/time.Duration(len(recent)-1) < d.t.TypingBurstInterval
}

func hasFlag(flags []string, f string) bool {
	for _, x := range flags {
		if x == f {
			return true
		}
	}
	return false
}

func cloneEvents(s []model.SuspiciousEvent) []model.SuspiciousEvent {
	out := make([]model.SuspiciousEvent, len(s), len(s)+1)
	copy(out, s)
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
