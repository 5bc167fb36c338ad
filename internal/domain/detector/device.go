package detector

import (
	"context"
	"strings"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Device forwards the current frame to the device inference collaborator and
// reports what it finds. When inference is unreachable the reading degrades
// to "no detection" so the rest of the tick is unaffected.
type Device struct {
	inferrer      Inferrer
	minConfidence float64
	maxAge        time.Duration
	window        time.Duration
}

// NewDevice constructs the device detector. A nil inferrer leaves the signal
// permanently unavailable.
func NewDevice(t model.Thresholds, window time.Duration, inferrer Inferrer) *Device {
	return &Device{inferrer: inferrer, minConfidence: t.DeviceMinConfidence, maxAge: t.FaceTimeout, window: window}
}

func (d *Device) Signal() model.Signal { return model.SignalDevice }

func (d *Device) Evaluate(ctx context.Context, in Input, prev model.SignalState) (model.SignalState, int, error) {
	if d.inferrer == nil || !cameraFresh(in.Camera, in.Now, d.maxAge) || len(in.Camera.Image) == 0 {
		return unavailable(d.Signal(), prev, in.Now), 0, nil
	}

	res, err := d.inferrer.Detect(ctx, in.Camera.Image)
	if err != nil {
		res = model.DeviceResult{Degraded: true}
	}

	r := &model.DeviceReading{
		Count:      len(res.Boxes),
		Confidence: res.Confidence,
		Degraded:   res.Degraded,
	}
	next := model.SignalState{Reading: model.Reading{Device: r}}
	if res.Detected && res.Confidence >= d.minConfidence {
		r.DeviceType = deviceType(res.Boxes)
		next.Detected = true
		next.Confidence = clamp01(res.Confidence)
	}

	next, delta := settle(d.Signal(), prev, next, in.Now, d.window)
	return next, delta, nil
}

// deviceType names the most confident box using the tally vocabulary.
func deviceType(boxes []model.DeviceBox) string {
	best := -1.0
	class := ""
	for _, b := range boxes {
		if b.Confidence > best {
			best = b.Confidence
			class = b.Class
		}
	}
	c := strings.ToLower(class)
	switch {
	case c == "":
		return "unknown"
	case strings.Contains(c, "phone") || strings.Contains(c, "mobile"):
		return "phone"
	case strings.Contains(c, "tablet") || strings.Contains(c, "ipad"):
		return "tablet"
	case strings.Contains(c, "monitor") || strings.Contains(c, "tv") || strings.Contains(c, "laptop"):
		return "monitor"
	}
	return c
}
