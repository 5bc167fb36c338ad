package detector

import (
	"context"
	"math"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Audio flags background noise from analyser buffers. Without a stream the
// signal is unavailable, which is not the same as quiet.
type Audio struct {
	variance  float64
	rms       float64
	highToLow float64
	window    time.Duration
}

// NewAudio constructs the audio detector.
func NewAudio(t model.Thresholds, window time.Duration) *Audio {
	return &Audio{variance: t.AudioVariance, rms: t.AudioRMS, highToLow: t.AudioHighLowRatio, window: window}
}

func (d *Audio) Signal() model.Signal { return model.SignalAudio }

func (d *Audio) Evaluate(_ context.Context, in Input, prev model.SignalState) (model.SignalState, int, error) {
	a := in.Audio
	if a == nil || !a.Available || len(a.Frequency) == 0 {
		return unavailable(d.Signal(), prev, in.Now), 0, nil
	}

	r := analyzeSpectrum(a.Frequency, a.TimeDomain)
	r.BackgroundNoise = r.Variance > d.variance || r.RMS > d.rms || r.HighEnergy > r.LowEnergy*d.highToLow

	next := model.SignalState{Reading: model.Reading{Audio: &r}}
	if r.BackgroundNoise {
		next.Detected = true
		next.Confidence = r.NoiseLevel
	}

	next, delta := settle(d.Signal(), prev, next, in.Now, d.window)
	return next, delta, nil
}

func analyzeSpectrum(freq, timeDomain []uint8) model.AudioReading {
	n := len(freq)
	var sum, peak, low, high float64
	for i, v := range freq {
		f := float64(v)
		sum += f
		peak = math.Max(peak, f)
		switch {
		case float64(i) < float64(n)/4:
			low += f
		case float64(i) > float64(n)*3/4:
			high += f
		}
	}
	avg := sum / float64(n)

	var variance float64
	for _, v := range freq {
		variance += math.Pow(float64(v)-avg, 2)
	}
	variance /= float64(n)

	var rms float64
	if len(timeDomain) > 0 {
		for _, v := range timeDomain {
			rms += math.Pow(float64(v)-128, 2)
		}
		rms = math.Sqrt(rms / float64(len(timeDomain)))
	}

	return model.AudioReading{
		NoiseLevel: math.Min((variance+rms)/100, 1),
		Variance:   variance,
		RMS:        rms,
		LowEnergy:  low,
		HighEnergy: high,
		Peak:       peak,
	}
}
