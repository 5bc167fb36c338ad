package simulate

import (
	"time"

	"github.com/google/uuid"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/types"
)

// Timing used to lay out generated events.
const (
	hiddenFor          = time.Second
	switchSpacing      = 2 * time.Second
	blurSpacing        = time.Second
	defaultKeyInterval = 150 * time.Millisecond
	frameWidth         = 640
	frameHeight        = 480
)

// eventsFor lays a step's input out in time so the last event lands at now.
// Tab switches come first, then blurs, keystrokes and the paste.
func eventsFor(step Step, now time.Time) []model.InputEvent { //nolint:gocritic // hugeParam: step is read once
	keyInterval := step.KeyInterval
	if keyInterval <= 0 {
		keyInterval = defaultKeyInterval
	}
	span := time.Duration(step.TabSwitches)*switchSpacing +
		time.Duration(step.Blurs)*blurSpacing +
		time.Duration(step.Keys)*keyInterval
	at := now.Add(-span)

	events := make([]model.InputEvent, 0, 2*step.TabSwitches+step.Blurs+step.Keys+1)
	add := func(e model.InputEvent) {
		e.EventID = uuid.NewString()
		events = append(events, e)
	}
	for range step.TabSwitches {
		add(model.InputEvent{Kind: model.InputVisibility, Hidden: true, At: at})
		add(model.InputEvent{Kind: model.InputVisibility, Hidden: false, At: at.Add(hiddenFor)})
		at = at.Add(switchSpacing)
	}
	for range step.Blurs {
		at = at.Add(blurSpacing)
		add(model.InputEvent{Kind: model.InputBlur, At: at})
	}
	for i := range step.Keys {
		at = at.Add(keyInterval)
		add(model.InputEvent{Kind: model.InputKeyDown, Key: string(rune('a' + i%26)), At: at})
	}
	if step.Paste > 0 {
		add(model.InputEvent{Kind: model.InputPaste, PasteLength: step.Paste, Ctrl: true, At: now})
	}
	return events
}

// observationFor builds the collector readings a step asks for, or nil when
// the step carries none.
func observationFor(step Step, now time.Time) *types.Observation { //nolint:gocritic // hugeParam: step is read once
	if step.Faces == nil && !step.AudioOff {
		return nil
	}
	obs := &types.Observation{}
	if step.Faces != nil {
		cam := &model.CameraObservation{
			Available:   true,
			FrameWidth:  frameWidth,
			FrameHeight: frameHeight,
			FaceCount:   *step.Faces,
			At:          now,
		}
		if cam.FaceCount > 0 {
			cam.FaceBox = &model.Box{X: frameWidth / 4, Y: frameHeight / 4, Width: frameWidth / 2, Height: frameHeight / 2}
		}
		obs.Camera = cam
	}
	if step.AudioOff {
		obs.Audio = &model.AudioObservation{Available: false, At: now}
	}
	return obs
}
