package simulate

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/proctor/internal/domain/model"
)

func TestEventsFor(t *testing.T) {
	Convey("Given a step mixing every input kind", t, func() {
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		step := Step{TabSwitches: 2, Blurs: 1, Keys: 3, KeyInterval: 100 * time.Millisecond, Paste: 120}

		events := eventsFor(step, now)

		Convey("Every behavior is present once", func() {
			counts := map[model.InputKind]int{}
			for _, e := range events {
				counts[e.Kind]++
			}
			So(counts[model.InputVisibility], ShouldEqual, 4)
			So(counts[model.InputBlur], ShouldEqual, 1)
			So(counts[model.InputKeyDown], ShouldEqual, 3)
			So(counts[model.InputPaste], ShouldEqual, 1)
		})

		Convey("Events are ordered and end at now", func() {
			for i := 1; i < len(events); i++ {
				So(events[i].At.Before(events[i-1].At), ShouldBeFalse)
			}
			So(events[len(events)-1].At.Equal(now), ShouldBeTrue)
			So(events[len(events)-1].PasteLength, ShouldEqual, 120)
		})

		Convey("Hides outlast the debounce floor", func() {
			So(events[0].Hidden, ShouldBeTrue)
			So(events[1].Hidden, ShouldBeFalse)
			So(events[1].At.Sub(events[0].At), ShouldBeGreaterThan, 500*time.Millisecond)
		})

		Convey("Event ids are unique", func() {
			seen := map[string]bool{}
			for _, e := range events {
				So(e.EventID, ShouldNotBeBlank)
				So(seen[e.EventID], ShouldBeFalse)
				seen[e.EventID] = true
			}
		})
	})

	Convey("An empty step yields nothing", t, func() {
		So(eventsFor(Step{Wait: time.Second}, time.Now()), ShouldBeEmpty)
		So(observationFor(Step{}, time.Now()), ShouldBeNil)
	})
}

func TestObservationFor(t *testing.T) {
	Convey("Given steps with collector readings", t, func() {
		now := time.Now()

		Convey("Two faces produce a framed camera reading", func() {
			faces := 2
			obs := observationFor(Step{Faces: &faces}, now)
			So(obs, ShouldNotBeNil)
			So(obs.Camera.FaceCount, ShouldEqual, 2)
			So(obs.Camera.FaceBox, ShouldNotBeNil)
			So(obs.Audio, ShouldBeNil)
		})

		Convey("No face leaves the box empty", func() {
			faces := 0
			obs := observationFor(Step{Faces: &faces, AudioOff: true}, now)
			So(obs.Camera.FaceBox, ShouldBeNil)
			So(obs.Audio.Available, ShouldBeFalse)
		})
	})
}
