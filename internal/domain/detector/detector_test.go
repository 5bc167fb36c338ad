package detector_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/proctor/internal/domain/detector"
	"github.com/okian/proctor/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type mockInferrer struct {
	mu     sync.Mutex
	result model.DeviceResult
	err    error
	calls  int
}

func (m *mockInferrer) Detect(_ context.Context, _ []byte) (model.DeviceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.result, m.err
}

func frontalCamera(at time.Time) *model.CameraObservation {
	return &model.CameraObservation{
		Available:   true,
		FrameWidth:  640,
		FrameHeight: 480,
		FaceCount:   1,
		FaceBox:     &model.Box{X: 270, Y: 190, Width: 100, Height: 100},
		Landmarks:   landmarksAt(320, 240, 60),
		At:          at,
	}
}

// landmarksAt places both eyes around (cx, cy) with the given eye distance.
func landmarksAt(cx, cy, eyeDist float64) *model.Landmarks {
	eye := func(x float64) []model.Point {
		pts := make([]model.Point, 6)
		for i := range pts {
			pts[i] = model.Point{X: x, Y: cy}
		}
		return pts
	}
	nose := make([]model.Point, 9)
	for i := range nose {
		nose[i] = model.Point{X: cx, Y: cy}
	}
	return &model.Landmarks{LeftEye: eye(cx - eyeDist/2), RightEye: eye(cx + eyeDist/2), Nose: nose}
}

func TestNewSet(t *testing.T) {
	Convey("Given default settings", t, func() {
		s := model.DefaultSettings()

		Convey("Every signal gets a detector", func() {
			set, err := detector.NewSet(s, nil)
			So(err, ShouldBeNil)
			So(len(set), ShouldEqual, len(model.AllSignals()))
		})

		Convey("Disabled signals are left out", func() {
			s.Enabled[model.SignalAudio] = false
			s.Enabled[model.SignalDevice] = false
			set, err := detector.NewSet(s, nil)
			So(err, ShouldBeNil)
			So(len(set), ShouldEqual, len(model.AllSignals())-2)
			for _, d := range set {
				So(d.Signal(), ShouldNotEqual, model.SignalAudio)
				So(d.Signal(), ShouldNotEqual, model.SignalDevice)
			}
		})
	})
}

func TestFacePresence(t *testing.T) {
	Convey("Given a face presence detector with a 5s timeout", t, func() {
		d := detector.NewFacePresence(model.DefaultSettings().Thresholds, 10*time.Second)
		ctx := context.Background()
		prev := model.NewSignalState(model.SignalFacePresence)

		Convey("No camera is unavailable, not a violation", func() {
			next, delta, err := d.Evaluate(ctx, detector.Input{Now: t0}, prev)
			So(err, ShouldBeNil)
			So(delta, ShouldEqual, 0)
			So(next.Status, ShouldEqual, model.StatusUnavailable)
		})

		Convey("A visible face is clean and records quality", func() {
			next, _, err := d.Evaluate(ctx, detector.Input{Now: t0, Camera: frontalCamera(t0)}, prev)
			So(err, ShouldBeNil)
			So(next.Status, ShouldEqual, model.StatusClean)
			So(next.Reading.Face.FaceQuality, ShouldAlmostEqual, 10000.0/(640*480)*100, 0.001)
		})

		Convey("Absence only counts after the timeout", func() {
			s1, _, _ := d.Evaluate(ctx, detector.Input{Now: t0, Camera: frontalCamera(t0)}, prev)

			empty := frontalCamera(t0.Add(3 * time.Second))
			empty.FaceCount = 0
			s2, delta, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(3 * time.Second), Camera: empty}, s1)
			So(s2.Detected, ShouldBeFalse)
			So(delta, ShouldEqual, 0)

			empty.At = t0.Add(6 * time.Second)
			s3, delta, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(6 * time.Second), Camera: empty}, s2)
			So(s3.Detected, ShouldBeTrue)
			So(delta, ShouldEqual, 1)
			So(s3.Violations, ShouldEqual, 1)

			Convey("A sustained absence does not recount every tick", func() {
				empty.At = t0.Add(8 * time.Second)
				s4, delta, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(8 * time.Second), Camera: empty}, s3)
				So(delta, ShouldEqual, 0)
				So(s4.Violations, ShouldEqual, 1)

				Convey("but opens a new window once the violation window elapses", func() {
					empty.At = t0.Add(17 * time.Second)
					s5, delta, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(17 * time.Second), Camera: empty}, s4)
					So(delta, ShouldEqual, 1)
					So(s5.Violations, ShouldEqual, 2)
				})
			})

			Convey("Violations never decrease when the face returns", func() {
				back := frontalCamera(t0.Add(7 * time.Second))
				s4, _, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(7 * time.Second), Camera: back}, s3)
				So(s4.Detected, ShouldBeFalse)
				So(s4.Violations, ShouldEqual, 1)
			})
		})

		Convey("A stale observation is treated as an empty frame", func() {
			s1, _, _ := d.Evaluate(ctx, detector.Input{Now: t0, Camera: frontalCamera(t0)}, prev)
			s2, _, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(7 * time.Second), Camera: frontalCamera(t0)}, s1)
			So(s2.Reading.Face.FaceCount, ShouldEqual, 0)
			So(s2.Detected, ShouldBeTrue)
		})
	})
}

func TestMultipleFaces(t *testing.T) {
	Convey("Given a multiple faces detector", t, func() {
		d := detector.NewMultipleFaces(model.DefaultSettings().Thresholds, 10*time.Second)
		ctx := context.Background()
		prev := model.NewSignalState(model.SignalMultipleFaces)

		Convey("Two faces is an immediate violation", func() {
			cam := frontalCamera(t0)
			cam.FaceCount = 2
			next, delta, err := d.Evaluate(ctx, detector.Input{Now: t0, Camera: cam}, prev)
			So(err, ShouldBeNil)
			So(next.Detected, ShouldBeTrue)
			So(delta, ShouldEqual, 1)
			So(next.Reading.MultipleFaces.Count, ShouldEqual, 2)
		})

		Convey("Zero faces is not this detector's violation", func() {
			cam := frontalCamera(t0)
			cam.FaceCount = 0
			next, _, _ := d.Evaluate(ctx, detector.Input{Now: t0, Camera: cam}, prev)
			So(next.Detected, ShouldBeFalse)
			So(next.Status, ShouldEqual, model.StatusClean)
		})

		Convey("A negative count is rejected", func() {
			cam := frontalCamera(t0)
			cam.FaceCount = -1
			_, _, err := d.Evaluate(ctx, detector.Input{Now: t0, Camera: cam}, prev)
			So(errors.Is(err, detector.ErrInvalidObservation), ShouldBeTrue)
		})
	})
}

func TestGaze(t *testing.T) {
	Convey("Given a gaze detector", t, func() {
		d := detector.NewGaze(model.DefaultSettings().Thresholds, 10*time.Second)
		ctx := context.Background()
		prev := model.NewSignalState(model.SignalGaze)

		Convey("Eyes at the frame center are clean", func() {
			next, _, err := d.Evaluate(ctx, detector.Input{Now: t0, Camera: frontalCamera(t0)}, prev)
			So(err, ShouldBeNil)
			So(next.Detected, ShouldBeFalse)
			So(next.Reading.Gaze.Zone, ShouldEqual, model.GazeCenter)
		})

		Convey("Eyes far to the left are looking away", func() {
			cam := frontalCamera(t0)
			cam.Landmarks = landmarksAt(40, 240, 60)
			next, delta, err := d.Evaluate(ctx, detector.Input{Now: t0, Camera: cam}, prev)
			So(err, ShouldBeNil)
			So(next.Detected, ShouldBeTrue)
			So(delta, ShouldEqual, 1)
			So(next.Reading.Gaze.Zone, ShouldEqual, model.GazeLeft)
			So(next.Confidence, ShouldBeGreaterThan, 0.5)
			So(next.Confidence, ShouldBeLessThanOrEqualTo, 1)
		})

		Convey("A larger face tightens the threshold", func() {
			small := frontalCamera(t0)
			big := frontalCamera(t0)
			big.FaceBox = &model.Box{Width: 320, Height: 240}

			s1, _, _ := d.Evaluate(ctx, detector.Input{Now: t0, Camera: small}, prev)
			s2, _, _ := d.Evaluate(ctx, detector.Input{Now: t0, Camera: big}, prev)
			So(s2.Reading.Gaze.Threshold, ShouldBeLessThan, s1.Reading.Gaze.Threshold)

			Convey("so the same offset can flip to looking away", func() {
				small.Landmarks = landmarksAt(320, 60, 60)
				big.Landmarks = landmarksAt(320, 60, 60)
				a, _, _ := d.Evaluate(ctx, detector.Input{Now: t0, Camera: small}, prev)
				b, _, _ := d.Evaluate(ctx, detector.Input{Now: t0, Camera: big}, prev)
				So(a.Detected, ShouldBeFalse)
				So(b.Detected, ShouldBeTrue)
				So(b.Reading.Gaze.Zone, ShouldEqual, model.GazeTop)
			})
		})

		Convey("Missing frame dimensions are an invalid observation", func() {
			cam := frontalCamera(t0)
			cam.FrameWidth = 0
			_, _, err := d.Evaluate(ctx, detector.Input{Now: t0, Camera: cam}, prev)
			So(errors.Is(err, detector.ErrInvalidObservation), ShouldBeTrue)
		})
	})
}

func TestHeadMovement(t *testing.T) {
	Convey("Given a head movement detector", t, func() {
		d := detector.NewHeadMovement(model.DefaultSettings().Thresholds, 10*time.Second)
		ctx := context.Background()

		run := func(positions [][2]float64, eyeDist []float64) model.SignalState {
			st := model.NewSignalState(model.SignalHeadMovement)
			for i, p := range positions {
				cam := frontalCamera(t0.Add(time.Duration(i) * time.Second))
				cam.Landmarks = landmarksAt(p[0], p[1], eyeDist[i])
				st, _, _ = d.Evaluate(ctx, detector.Input{Now: cam.At, Camera: cam}, st)
			}
			return st
		}
		same := func(n int, v float64) []float64 {
			out := make([]float64, n)
			for i := range out {
				out[i] = v
			}
			return out
		}

		Convey("A still head is normal", func() {
			st := run([][2]float64{{320, 240}, {321, 240}, {320, 241}}, same(3, 60))
			So(st.Detected, ShouldBeFalse)
			So(st.Reading.HeadMovement.Pattern, ShouldEqual, model.HeadNormal)
		})

		Convey("Fewer than three samples are never classified", func() {
			st := run([][2]float64{{100, 240}, {500, 240}}, same(2, 60))
			So(st.Detected, ShouldBeFalse)
			So(len(st.Reading.HeadMovement.Samples), ShouldEqual, 2)
		})

		Convey("A large jump is a sudden jerk", func() {
			// diagonal is 800 so the threshold is 80px
			st := run([][2]float64{{320, 240}, {320, 240}, {520, 240}}, same(3, 60))
			So(st.Detected, ShouldBeTrue)
			So(st.Reading.HeadMovement.Pattern, ShouldEqual, model.HeadSuddenJerk)
			So(st.Reading.HeadMovement.Threshold, ShouldAlmostEqual, 80, 0.001)
		})

		Convey("Steady drift is continuous movement", func() {
			st := run([][2]float64{{200, 240}, {270, 240}, {340, 240}}, same(3, 60))
			So(st.Reading.HeadMovement.Pattern, ShouldEqual, model.HeadContinuousMovement)
		})

		Convey("Changing eye distance is head tilting", func() {
			st := run([][2]float64{{320, 240}, {320, 240}, {320, 240}}, []float64{60, 40, 60})
			So(st.Detected, ShouldBeTrue)
			So(st.Reading.HeadMovement.Pattern, ShouldEqual, model.HeadTilting)
			So(st.Confidence, ShouldBeGreaterThanOrEqualTo, 0.7)
		})

		Convey("The sample window is bounded", func() {
			pos := make([][2]float64, 15)
			for i := range pos {
				pos[i] = [2]float64{320, 240}
			}
			st := run(pos, same(15, 60))
			So(len(st.Reading.HeadMovement.Samples), ShouldEqual, 10)
		})
	})
}

func TestDevice(t *testing.T) {
	Convey("Given a device detector", t, func() {
		ctx := context.Background()
		prev := model.NewSignalState(model.SignalDevice)
		cam := frontalCamera(t0)
		cam.Image = []byte("jpeg")

		Convey("A confident phone detection is a violation", func() {
			inf := &mockInferrer{result: model.DeviceResult{
				Detected: true, Confidence: 0.8,
				Boxes: []model.DeviceBox{{Class: "cell phone", Confidence: 0.8}},
			}}
			d := detector.NewDevice(model.DefaultSettings().Thresholds, 10*time.Second, inf)
			next, delta, err := d.Evaluate(ctx, detector.Input{Now: t0, Camera: cam}, prev)
			So(err, ShouldBeNil)
			So(next.Detected, ShouldBeTrue)
			So(delta, ShouldEqual, 1)
			So(next.Reading.Device.DeviceType, ShouldEqual, "phone")
		})

		Convey("Unreachable inference degrades to no detection", func() {
			inf := &mockInferrer{err: errors.New("connection refused")}
			d := detector.NewDevice(model.DefaultSettings().Thresholds, 10*time.Second, inf)
			next, delta, err := d.Evaluate(ctx, detector.Input{Now: t0, Camera: cam}, prev)
			So(err, ShouldBeNil)
			So(delta, ShouldEqual, 0)
			So(next.Status, ShouldEqual, model.StatusClean)
			So(next.Reading.Device.Degraded, ShouldBeTrue)
		})

		Convey("Without a frame image inference is not called", func() {
			inf := &mockInferrer{}
			d := detector.NewDevice(model.DefaultSettings().Thresholds, 10*time.Second, inf)
			next, _, _ := d.Evaluate(ctx, detector.Input{Now: t0, Camera: frontalCamera(t0)}, prev)
			So(next.Status, ShouldEqual, model.StatusUnavailable)
			So(inf.calls, ShouldEqual, 0)
		})
	})
}

func TestAudio(t *testing.T) {
	Convey("Given an audio detector", t, func() {
		d := detector.NewAudio(model.DefaultSettings().Thresholds, 10*time.Second)
		ctx := context.Background()
		prev := model.NewSignalState(model.SignalAudio)

		quiet := func() *model.AudioObservation {
			freq := make([]uint8, 256)
			tm := make([]uint8, 256)
			for i := range freq {
				freq[i] = 10
				tm[i] = 128
			}
			return &model.AudioObservation{Available: true, Frequency: freq, TimeDomain: tm, At: t0}
		}

		Convey("A missing stream is unavailable rather than clean", func() {
			next, delta, err := d.Evaluate(ctx, detector.Input{Now: t0, Audio: &model.AudioObservation{Available: false}}, prev)
			So(err, ShouldBeNil)
			So(delta, ShouldEqual, 0)
			So(next.Status, ShouldEqual, model.StatusUnavailable)
			So(next.Available(), ShouldBeFalse)
		})

		Convey("A flat spectrum is clean", func() {
			next, _, _ := d.Evaluate(ctx, detector.Input{Now: t0, Audio: quiet()}, prev)
			So(next.Status, ShouldEqual, model.StatusClean)
			So(next.Reading.Audio.Variance, ShouldEqual, 0.0)
		})

		Convey("Loud time-domain signal is background noise", func() {
			a := quiet()
			for i := range a.TimeDomain {
				if i%2 == 0 {
					a.TimeDomain[i] = 178
				} else {
					a.TimeDomain[i] = 78
				}
			}
			next, delta, _ := d.Evaluate(ctx, detector.Input{Now: t0, Audio: a}, prev)
			So(next.Detected, ShouldBeTrue)
			So(delta, ShouldEqual, 1)
			So(next.Reading.Audio.RMS, ShouldAlmostEqual, 50, 0.001)
			So(next.Reading.Audio.NoiseLevel, ShouldEqual, 0.5)
		})

		Convey("High band energy above the ratio is background noise", func() {
			a := quiet()
			for i := 200; i < 256; i++ {
				a.Frequency[i] = 20
			}
			next, _, _ := d.Evaluate(ctx, detector.Input{Now: t0, Audio: a}, prev)
			So(next.Reading.Audio.BackgroundNoise, ShouldBeTrue)
		})
	})
}

func TestTabSwitch(t *testing.T) {
	Convey("Given a tab switch detector with a 500ms debounce", t, func() {
		d := detector.NewTabSwitch(model.DefaultSettings().Thresholds)
		ctx := context.Background()
		prev := model.NewSignalState(model.SignalTabSwitch)

		hide := func(at time.Time, hidden bool) model.InputEvent {
			return model.InputEvent{Kind: model.InputVisibility, Hidden: hidden, At: at}
		}

		Convey("Hidden for 300ms does not count", func() {
			next, delta, err := d.Evaluate(ctx, detector.Input{Now: t0.Add(time.Second), Events: []model.InputEvent{
				hide(t0, true), hide(t0.Add(300*time.Millisecond), false),
			}}, prev)
			So(err, ShouldBeNil)
			So(delta, ShouldEqual, 0)
			So(next.Reading.TabSwitch.SwitchCount, ShouldEqual, 0)
			So(next.Detected, ShouldBeFalse)
		})

		Convey("Hidden for 600ms counts once", func() {
			next, delta, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(time.Second), Events: []model.InputEvent{
				hide(t0, true), hide(t0.Add(600*time.Millisecond), false),
			}}, prev)
			So(delta, ShouldEqual, 1)
			So(next.Violations, ShouldEqual, 1)
			So(next.Reading.TabSwitch.SwitchCount, ShouldEqual, 1)
			So(next.Detected, ShouldBeTrue)
			So(next.Confidence, ShouldAlmostEqual, 0.5, 0.0001)
		})

		Convey("A hide spanning two ticks is counted when the page returns", func() {
			s1, d1, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(100 * time.Millisecond), Events: []model.InputEvent{hide(t0, true)}}, prev)
			So(d1, ShouldEqual, 0)
			s2, d2, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(2 * time.Second), Events: []model.InputEvent{hide(t0.Add(1500*time.Millisecond), false)}}, s1)
			So(d2, ShouldEqual, 1)
			So(s2.Reading.TabSwitch.SwitchCount, ShouldEqual, 1)
		})

		Convey("A page still hidden past the debounce counts without returning", func() {
			s1, d1, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(time.Second), Events: []model.InputEvent{hide(t0, true)}}, prev)
			So(d1, ShouldEqual, 1)
			So(s1.Violations, ShouldEqual, 1)
			So(s1.Reading.TabSwitch.SwitchCount, ShouldEqual, 1)
			So(s1.Reading.TabSwitch.Hidden, ShouldBeTrue)
			So(s1.Detected, ShouldBeTrue)

			s2, d2, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(2 * time.Second)}, s1)
			So(d2, ShouldEqual, 0)
			So(s2.Reading.TabSwitch.SwitchCount, ShouldEqual, 1)

			Convey("and its return is not counted again", func() {
				s3, d3, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(3 * time.Second), Events: []model.InputEvent{hide(t0.Add(2500*time.Millisecond), false)}}, s2)
				So(d3, ShouldEqual, 0)
				So(s3.Violations, ShouldEqual, 1)
				So(s3.Reading.TabSwitch.SwitchCount, ShouldEqual, 1)
				So(s3.Reading.TabSwitch.Hidden, ShouldBeFalse)

				s4, d4, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(5 * time.Second), Events: []model.InputEvent{
					hide(t0.Add(3500*time.Millisecond), true), hide(t0.Add(4500*time.Millisecond), false),
				}}, s3)
				So(d4, ShouldEqual, 1)
				So(s4.Reading.TabSwitch.SwitchCount, ShouldEqual, 2)
			})
		})

		Convey("A blur announcing a hide that is still away counts once", func() {
			next, delta, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(2 * time.Second), Events: []model.InputEvent{
				{Kind: model.InputBlur, At: t0},
				hide(t0.Add(10*time.Millisecond), true),
			}}, prev)
			So(delta, ShouldEqual, 1)
			So(next.Reading.TabSwitch.SwitchCount, ShouldEqual, 1)
			So(next.Confidence, ShouldAlmostEqual, 0.5, 0.0001)
		})

		Convey("Blur counts at lower confidence", func() {
			next, delta, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(time.Second), Events: []model.InputEvent{
				{Kind: model.InputBlur, At: t0},
			}}, prev)
			So(delta, ShouldEqual, 1)
			So(next.Confidence, ShouldBeLessThan, 0.5)
		})

		Convey("A blur followed by a long hide is one switch", func() {
			next, delta, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(2 * time.Second), Events: []model.InputEvent{
				{Kind: model.InputBlur, At: t0},
				hide(t0.Add(10*time.Millisecond), true),
				hide(t0.Add(time.Second), false),
			}}, prev)
			So(delta, ShouldEqual, 1)
			So(next.Reading.TabSwitch.SwitchCount, ShouldEqual, 1)
			So(next.Confidence, ShouldAlmostEqual, 0.5, 0.0001)
		})

		Convey("Old switches stop being recent", func() {
			s1, _, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(time.Second), Events: []model.InputEvent{
				hide(t0, true), hide(t0.Add(600*time.Millisecond), false),
			}}, prev)
			s2, delta, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(45 * time.Second)}, s1)
			So(delta, ShouldEqual, 0)
			So(s2.Detected, ShouldBeFalse)
			So(s2.Violations, ShouldEqual, 1)
		})
	})
}

func TestTyping(t *testing.T) {
	Convey("Given a typing detector", t, func() {
		d := detector.NewTyping(model.DefaultSettings().Thresholds, 10*time.Second)
		ctx := context.Background()
		prev := model.NewSignalState(model.SignalTyping)

		keys := func(intervals func(i int) time.Duration, n int) ([]model.InputEvent, time.Time) {
			out := make([]model.InputEvent, 0, n)
			at := t0
			for i := 0; i < n; i++ {
				if i > 0 {
					at = at.Add(intervals(i))
				}
				out = append(out, model.InputEvent{Kind: model.InputKeyDown, Key: "a", At: at})
			}
			return out, at
		}

		Convey("Fast typing with human variance stays below the threshold", func() {
			evs, last := keys(func(i int) time.Duration {
				if i%2 == 1 {
					return 45 * time.Millisecond
				}
				return 105 * time.Millisecond
			}, 50)
			next, delta, err := d.Evaluate(ctx, detector.Input{Now: last.Add(10 * time.Millisecond), Events: evs}, prev)
			So(err, ShouldBeNil)
			r := next.Reading.Typing
			So(r.WPM, ShouldBeGreaterThan, 150)
			So(r.WPM, ShouldBeLessThan, 180)
			So(r.IntervalVariance, ShouldBeGreaterThan, 20)
			So(r.Pattern, ShouldEqual, model.TypingVeryFast)
			So(next.Detected, ShouldBeFalse)
			So(delta, ShouldEqual, 0)
		})

		Convey("The same speed with uniform intervals is detected", func() {
			evs, last := keys(func(int) time.Duration { return 75 * time.Millisecond }, 50)
			next, delta, err := d.Evaluate(ctx, detector.Input{Now: last.Add(10 * time.Millisecond), Events: evs}, prev)
			So(err, ShouldBeNil)
			r := next.Reading.Typing
			So(r.WPM, ShouldBeGreaterThan, 150)
			So(r.IntervalVariance, ShouldBeLessThan, 20)
			So(r.Flags, ShouldContain, "mechanical_timing")
			So(next.Detected, ShouldBeTrue)
			So(delta, ShouldEqual, 1)
		})

		Convey("A large paste alone is recorded but does not detect", func() {
			next, _, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(time.Second), Events: []model.InputEvent{
				{Kind: model.InputPaste, PasteLength: 400, At: t0},
			}}, prev)
			So(next.Reading.Typing.SuspiciousEvents, ShouldEqual, 1)
			So(next.Reading.Typing.Flags, ShouldContain, "paste")
			So(next.Detected, ShouldBeFalse)

			Convey("but corroborates fast typing", func() {
				evs, last := keys(func(i int) time.Duration {
					if i%2 == 1 {
						return 45 * time.Millisecond
					}
					return 105 * time.Millisecond
				}, 50)
				evs = append(evs, model.InputEvent{Kind: model.InputPaste, PasteLength: 400, At: last})
				next, _, _ := d.Evaluate(ctx, detector.Input{Now: last.Add(10 * time.Millisecond), Events: evs}, prev)
				So(next.Detected, ShouldBeTrue)
			})
		})

		Convey("Short pastes are ignored", func() {
			next, _, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(time.Second), Events: []model.InputEvent{
				{Kind: model.InputPaste, PasteLength: 5, At: t0},
			}}, prev)
			So(next.Reading.Typing.SuspiciousEvents, ShouldEqual, 0)
		})

		Convey("Modifier and navigation keys are not keystrokes", func() {
			next, _, _ := d.Evaluate(ctx, detector.Input{Now: t0.Add(time.Second), Events: []model.InputEvent{
				{Kind: model.InputKeyDown, Key: "Shift", At: t0},
				{Kind: model.InputKeyDown, Key: "ArrowLeft", At: t0.Add(100 * time.Millisecond)},
				{Kind: model.InputKeyDown, Key: "c", Ctrl: true, At: t0.Add(200 * time.Millisecond)},
			}}, prev)
			So(len(next.Reading.Typing.Keystrokes), ShouldEqual, 0)
		})

		Convey("Keystrokes persist across ticks without mutating the previous state", func() {
			evs, last := keys(func(int) time.Duration { return 200 * time.Millisecond }, 6)
			s1, _, _ := d.Evaluate(ctx, detector.Input{Now: last, Events: evs[:3]}, prev)
			s2, _, _ := d.Evaluate(ctx, detector.Input{Now: last, Events: evs[3:]}, s1)
			So(len(s1.Reading.Typing.Keystrokes), ShouldEqual, 3)
			So(len(s2.Reading.Typing.Keystrokes), ShouldEqual, 6)
			So(s2.Reading.Typing.Keystrokes[3].Interval, ShouldEqual, 200*time.Millisecond)
		})
	})
}
