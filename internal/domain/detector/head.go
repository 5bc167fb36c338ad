package detector

import (
	"context"
	"math"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

const headAnalyzeSamples = 3

// HeadMovement tracks a landmark-derived head center over a short window and
// classifies how it moves. Thresholds scale with the frame diagonal.
type HeadMovement struct {
	windowSize int
	ratio      float64
	maxAge     time.Duration
	window     time.Duration
}

// NewHeadMovement constructs the head movement detector.
func NewHeadMovement(t model.Thresholds, window time.Duration) *HeadMovement {
	size := t.HeadWindow
	if size < headAnalyzeSamples {
		size = headAnalyzeSamples
	}
	return &HeadMovement{windowSize: size, ratio: t.HeadMovementRatio, maxAge: t.FaceTimeout, window: window}
}

func (d *HeadMovement) Signal() model.Signal { return model.SignalHeadMovement }

func (d *HeadMovement) Evaluate(_ context.Context, in Input, prev model.SignalState) (model.SignalState, int, error) {
	if !cameraAvailable(in.Camera) {
		return unavailable(d.Signal(), prev, in.Now), 0, nil
	}
	cam := in.Camera

	var samples []model.HeadSample
	if prev.Reading.HeadMovement != nil {
		samples = prev.Reading.HeadMovement.Samples
	}

	r := &model.HeadMovementReading{Pattern: model.HeadNormal, Samples: samples}
	next := model.SignalState{Reading: model.Reading{HeadMovement: r}}

	if !cameraFresh(cam, in.Now, d.maxAge) || cam.FaceCount == 0 || cam.Landmarks == nil {
		next, delta := settle(d.Signal(), prev, next, in.Now, d.window)
		return next, delta, nil
	}

	sample, err := headSample(cam)
	if err != nil {
		return prev, 0, err
	}
	r.Samples = appendBounded(samples, sample, d.windowSize)

	if len(r.Samples) >= headAnalyzeSamples {
		d.classify(r, cam, &next)
	}

	next, delta := settle(d.Signal(), prev, next, in.Now, d.window)
	return next, delta, nil
}

func (d *HeadMovement) classify(r *model.HeadMovementReading, cam *model.CameraObservation, next *model.SignalState) {
	recent := r.Samples[len(r.Samples)-headAnalyzeSamples:]

	movements := make([]float64, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		movements = append(movements, dist(recent[i-1].Center, recent[i].Center))
	}
	var sum, maxMove float64
	for _, m := range movements {
		sum += m
		maxMove = math.Max(maxMove, m)
	}
	avg := sum / float64(len(movements))
	thr := math.Hypot(cam.FrameWidth, cam.FrameHeight) * d.ratio

	r.AvgMovement = avg
	r.MaxMovement = maxMove
	r.Threshold = thr

	if avg > thr || maxMove > thr*1.5 {
		next.Detected = true
		next.Confidence = math.Min(avg/thr, 1)
	}

	switch {
	case maxMove > thr*2:
		r.Pattern = model.HeadSuddenJerk
	case avg > thr*0.8:
		r.Pattern = model.HeadContinuousMovement
	default:
		for _, m := range movements {
			if m > thr*1.2 {
				r.Pattern = model.HeadSporadicMovement
				break
			}
		}
	}

	eyeDistances := make([]float64, len(recent))
	for i, s := range recent {
		eyeDistances[i] = s.EyeDistance
	}
	_, variance := meanVariance(eyeDistances)
	current := recent[len(recent)-1].EyeDistance
	if variance > math.Pow(current*0.1, 2) {
		r.Pattern = model.HeadTilting
		next.Detected = true
		next.Confidence = math.Max(next.Confidence, 0.7)
	}
}

// headSample derives the head center from the outer left eye corner, the
// inner right eye corner and the nose tip.
func headSample(cam *model.CameraObservation) (model.HeadSample, error) {
	lm := cam.Landmarks
	if cam.FrameWidth <= 0 || cam.FrameHeight <= 0 || len(lm.LeftEye) < 1 || len(lm.RightEye) < 4 || len(lm.Nose) < 4 {
		return model.HeadSample{}, ErrInvalidObservation
	}
	le, re, nose := lm.LeftEye[0], lm.RightEye[3], lm.Nose[3]
	return model.HeadSample{
		Center:      model.Point{X: (le.X + re.X + nose.X) / 3, Y: (le.Y + re.Y + nose.Y) / 3},
		EyeDistance: dist(le, re),
		At:          cam.At,
	}, nil
}

func dist(a, b model.Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// appendBounded returns a new slice holding the last limit items of s+v.
// s itself is never modified.
func appendBounded[T any](s []T, v T, limit int) []T {
	start := 0
	if len(s)+1 > limit {
		start = len(s) + 1 - limit
	}
	out := make([]T, 0, len(s)-start+1)
	out = append(out, s[start:]...)
	return append(out, v)
}

func meanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return mean, variance / float64(len(xs))
}
