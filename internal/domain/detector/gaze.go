package detector

import (
	"context"
	"math"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Gaze flags a candidate looking away from the screen. The tolerance is a
// fraction of the frame that shrinks as the face grows, since a face close to
// the camera moves its eyes further for the same glance.
type Gaze struct {
	frameRatio float64
	minFactor  float64
	maxAge     time.Duration
	window     time.Duration
}

// NewGaze constructs the gaze detector.
func NewGaze(t model.Thresholds, window time.Duration) *Gaze {
	return &Gaze{
		frameRatio: t.GazeFrameRatio,
		minFactor:  t.GazeMinFactor,
		maxAge:     t.FaceTimeout,
		window:     window,
	}
}

func (d *Gaze) Signal() model.Signal { return model.SignalGaze }

func (d *Gaze) Evaluate(_ context.Context, in Input, prev model.SignalState) (model.SignalState, int, error) {
	if !cameraAvailable(in.Camera) {
		return unavailable(d.Signal(), prev, in.Now), 0, nil
	}
	cam := in.Camera

	if !cameraFresh(cam, in.Now, d.maxAge) || cam.FaceCount == 0 || cam.Landmarks == nil {
		next, delta := settle(d.Signal(), prev, model.SignalState{}, in.Now, d.window)
		return next, delta, nil
	}
	if cam.FrameWidth <= 0 || cam.FrameHeight <= 0 {
		return prev, 0, ErrInvalidObservation
	}
	left, okL := centroid(cam.Landmarks.LeftEye)
	right, okR := centroid(cam.Landmarks.RightEye)
	if !okL || !okR {
		return prev, 0, ErrInvalidObservation
	}

	eye := model.Point{X: (left.X + right.X) / 2, Y: (left.Y + right.Y) / 2}
	dx := eye.X - cam.FrameWidth/2
	dy := eye.Y - cam.FrameHeight/2
	dist := math.Hypot(dx, dy)
	thr := d.threshold(cam)

	r := &model.GazeReading{
		Zone:      zone(dx, dy, dist, thr),
		Distance:  dist,
		Threshold: thr,
	}
	next := model.SignalState{Reading: model.Reading{Gaze: r}}
	if dist > thr {
		r.LookingAway = true
		next.Detected = true
		next.Confidence = clamp01(0.5 + 0.5*(dist-thr)/thr)
	}

	next, delta := settle(d.Signal(), prev, next, in.Now, d.window)
	return next, delta, nil
}

// threshold returns the adaptive deviation threshold in pixels.
func (d *Gaze) threshold(cam *model.CameraObservation) float64 {
	base := math.Min(cam.FrameWidth, cam.FrameHeight) * d.frameRatio
	factor := 1.0
	if cam.FaceBox != nil {
		faceRatio := cam.FaceBox.Area() / (cam.FrameWidth * cam.FrameHeight)
		factor = 1 - faceRatio
	}
	return base * math.Max(d.minFactor, math.Min(1, factor))
}

func zone(dx, dy, dist, thr float64) model.GazeZone {
	if dist <= thr/2 {
		return model.GazeCenter
	}
	if math.Abs(dx) >= math.Abs(dy) {
		if dx < 0 {
			return model.GazeLeft
		}
		return model.GazeRight
	}
	if dy < 0 {
		return model.GazeTop
	}
	return model.GazeBottom
}

func centroid(points []model.Point) (model.Point, bool) {
	if len(points) == 0 {
		return model.Point{}, false
	}
	var c model.Point
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(points))
	return model.Point{X: c.X / n, Y: c.Y / n}, true
}
