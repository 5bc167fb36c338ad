package detector

import (
	"context"
	"math"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// FacePresence flags a candidate who has been out of frame for longer than
// the face timeout. A stale camera observation counts as "no face".
type FacePresence struct {
	timeout time.Duration
	window  time.Duration
}

// NewFacePresence constructs the face presence detector.
func NewFacePresence(t model.Thresholds, window time.Duration) *FacePresence {
	return &FacePresence{timeout: t.FaceTimeout, window: window}
}

func (d *FacePresence) Signal() model.Signal { return model.SignalFacePresence }

func (d *FacePresence) Evaluate(_ context.Context, in Input, prev model.SignalState) (model.SignalState, int, error) {
	if !cameraAvailable(in.Camera) {
		return unavailable(d.Signal(), prev, in.Now), 0, nil
	}
	cam := in.Camera

	r := &model.FaceReading{}
	if prev.Reading.Face != nil {
		r.LastSeenAt = prev.Reading.Face.LastSeenAt
	}

	count := 0
	if cameraFresh(cam, in.Now, d.timeout) {
		count = cam.FaceCount
	}
	r.FaceCount = count

	if count > 0 {
		r.LastSeenAt = cam.At
		r.FaceQuality = faceQuality(cam)
	}
	// Absence is measured from the first observation when no face was seen yet.
	if r.LastSeenAt.IsZero() {
		r.LastSeenAt = in.Now
	}

	absent := in.Now.Sub(r.LastSeenAt)
	r.AbsentFor = float64(absent.Milliseconds())

	next := model.SignalState{Reading: model.Reading{Face: r}}
	if count == 0 && absent > d.timeout {
		next.Detected = true
		next.Confidence = 0.9
	}

	next, delta := settle(d.Signal(), prev, next, in.Now, d.window)
	return next, delta, nil
}

// faceQuality is the face box area as a percentage of the frame.
func faceQuality(cam *model.CameraObservation) float64 {
	if cam.FaceBox == nil || cam.FrameWidth <= 0 || cam.FrameHeight <= 0 {
		return 0
	}
	return math.Min(cam.FaceBox.Area()/(cam.FrameWidth*cam.FrameHeight)*100, 100)
}

// MultipleFaces flags more than one face in frame. An empty frame is the
// face presence detector's business.
type MultipleFaces struct {
	maxAge time.Duration
	window time.Duration
}

// NewMultipleFaces constructs the multiple faces detector.
func NewMultipleFaces(t model.Thresholds, window time.Duration) *MultipleFaces {
	return &MultipleFaces{maxAge: t.FaceTimeout, window: window}
}

func (d *MultipleFaces) Signal() model.Signal { return model.SignalMultipleFaces }

func (d *MultipleFaces) Evaluate(_ context.Context, in Input, prev model.SignalState) (model.SignalState, int, error) {
	if !cameraAvailable(in.Camera) {
		return unavailable(d.Signal(), prev, in.Now), 0, nil
	}

	count := 0
	if cameraFresh(in.Camera, in.Now, d.maxAge) {
		count = in.Camera.FaceCount
	}
	if count < 0 {
		return prev, 0, ErrInvalidObservation
	}

	next := model.SignalState{Reading: model.Reading{MultipleFaces: &model.MultipleFacesReading{Count: count}}}
	if count > 1 {
		next.Detected = true
		next.Confidence = clamp01(0.6 + 0.2*float64(count-1))
	}

	next, delta := settle(d.Signal(), prev, next, in.Now, d.window)
	return next, delta, nil
}
