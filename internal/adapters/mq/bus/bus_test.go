package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/proctor/internal/adapters/mq/bus"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func receive(ch <-chan bus.Envelope) (bus.Envelope, bool) {
	select {
	case env, ok := <-ch:
		return env, ok
	case <-time.After(2 * time.Second):
		return bus.Envelope{}, false
	}
}

func TestBus(t *testing.T) {
	Convey("Given a bus with a subscriber on one session", t, func() {
		b := bus.New(bus.WithLogger(logger.Nop()))
		defer b.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ch, err := b.Subscribe(ctx, "s-1")
		So(err, ShouldBeNil)

		Convey("Snapshots and alerts arrive decoded", func() {
			at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			So(b.PublishSnapshot(ctx, "s-1", model.RiskSnapshot{Seq: 7, RiskScore: 42, Timestamp: at}), ShouldBeNil)
			So(b.PublishAlert(ctx, "s-1", model.Alert{ID: "a-1", Severity: model.SeverityMedium, Timestamp: at}), ShouldBeNil)

			got := map[bus.Kind]bus.Envelope{}
			for i := 0; i < 2; i++ {
				env, ok := receive(ch)
				So(ok, ShouldBeTrue)
				got[env.Kind] = env
			}
			So(got[bus.KindSnapshot].Snapshot.Seq, ShouldEqual, 7)
			So(got[bus.KindSnapshot].Snapshot.RiskScore, ShouldEqual, 42)
			So(got[bus.KindAlert].Alert.ID, ShouldEqual, "a-1")
			So(got[bus.KindAlert].SessionID, ShouldEqual, "s-1")
		})

		Convey("Other sessions are not delivered", func() {
			So(b.PublishAlert(ctx, "s-2", model.Alert{ID: "other"}), ShouldBeNil)
			So(b.PublishAlert(ctx, "s-1", model.Alert{ID: "mine"}), ShouldBeNil)
			env, ok := receive(ch)
			So(ok, ShouldBeTrue)
			So(env.Alert.ID, ShouldEqual, "mine")
		})

		Convey("Cancelling the subscription closes the channel", func() {
			cancel()
			for {
				_, ok := receive(ch)
				if !ok {
					break
				}
			}
			So(true, ShouldBeTrue)
		})
	})

	Convey("Publishing without subscribers is not an error", t, func() {
		b := bus.New(bus.WithLogger(logger.Nop()))
		defer b.Close()
		So(b.PublishSnapshot(context.Background(), "nobody", model.RiskSnapshot{}), ShouldBeNil)
	})
}
