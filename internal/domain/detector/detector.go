// Package detector turns raw collector output into per-signal states.
//
// Every detector is a pure function of the tick input and the previous state
// of its own signal. Rolling windows (keystrokes, head samples, switch
// history) travel inside the state's reading, so two evaluations with the
// same arguments always agree.
package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Input is everything collected for one tick.
type Input struct {
	Now    time.Time
	Camera *model.CameraObservation
	Audio  *model.AudioObservation
	Events []model.InputEvent
}

// Detector evaluates one signal.
type Detector interface {
	Signal() model.Signal
	// Evaluate returns the next state and the number of violations it added.
	// An error means the reading could not be interpreted; callers keep the
	// previous state for this signal and carry on with the others.
	Evaluate(ctx context.Context, in Input, prev model.SignalState) (model.SignalState, int, error)
}

// Inferrer classifies an encoded frame for handheld devices.
type Inferrer interface {
	Detect(ctx context.Context, image []byte) (model.DeviceResult, error)
}

// NewSet builds detectors for every enabled signal in settings.
func NewSet(settings model.DetectionSettings, inferrer Inferrer) ([]Detector, error) {
	t := settings.Thresholds
	window := settings.ViolationWindow

	var out []Detector
	for _, sig := range model.AllSignals() {
		if !settings.IsEnabled(sig) {
			continue
		}
		switch sig {
		case model.SignalFacePresence:
			out = append(out, NewFacePresence(t, window))
		case model.SignalGaze:
			out = append(out, NewGaze(t, window))
		case model.SignalMultipleFaces:
			out = append(out, NewMultipleFaces(t, window))
		case model.SignalDevice:
			out = append(out, NewDevice(t, window, inferrer))
		case model.SignalHeadMovement:
			out = append(out, NewHeadMovement(t, window))
		case model.SignalAudio:
			out = append(out, NewAudio(t, window))
		case model.SignalTabSwitch:
			out = append(out, NewTabSwitch(t))
		case model.SignalTyping:
			out = append(out, NewTyping(t, window))
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, sig)
		}
	}
	return out, nil
}

// settle fills the bookkeeping shared by every windowed detector. A new
// violation window opens on a rising edge, or when a sustained violation has
// lasted longer than window.
func settle(sig model.Signal, prev, next model.SignalState, now time.Time, window time.Duration) (model.SignalState, int) {
	next.Signal = sig
	next.UpdatedAt = now
	next.Violations = prev.Violations

	if !next.Detected {
		next.Status = model.StatusClean
		next.WindowOpenedAt = time.Time{}
		return next, 0
	}

	next.Status = model.StatusViolation
	opened := !prev.Detected || prev.WindowOpenedAt.IsZero() ||
		(window > 0 && now.Sub(prev.WindowOpenedAt) >= window)
	if !opened {
		next.WindowOpenedAt = prev.WindowOpenedAt
		return next, 0
	}
	next.WindowOpenedAt = now
	next.Violations++
	return next, 1
}

// unavailable marks a signal whose collector produced nothing usable. The
// reading is carried over so rolling windows survive a short outage.
func unavailable(sig model.Signal, prev model.SignalState, now time.Time) model.SignalState {
	return model.SignalState{
		Signal:     sig,
		Status:     model.StatusUnavailable,
		Violations: prev.Violations,
		UpdatedAt:  now,
		Reading:    prev.Reading,
	}
}

// cameraFresh reports whether the camera observation is usable and recent.
// A stale observation is treated as "nothing in frame".
func cameraFresh(cam *model.CameraObservation, now time.Time, maxAge time.Duration) bool {
	if cam == nil || !cam.Available {
		return false
	}
	return maxAge <= 0 || now.Sub(cam.At) <= maxAge
}

func cameraAvailable(cam *model.CameraObservation) bool {
	return cam != nil && cam.Available
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
