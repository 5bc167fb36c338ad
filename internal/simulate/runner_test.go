package simulate_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/proctor/internal/adapters/http/api"
	"github.com/okian/proctor/internal/adapters/mq/bus"
	"github.com/okian/proctor/internal/adapters/repository"
	service "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/simulate"
	"github.com/okian/proctor/pkg/logger"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	settings := model.DefaultSettings()
	settings.Interval = 50 * time.Millisecond
	settings.FlushInterval = time.Hour
	svc := service.New(
		service.WithLogger(logger.Nop()),
		service.WithStore(repository.NewMemoryStore()),
		service.WithBus(bus.New(bus.WithLogger(logger.Nop()))),
		service.WithDefaults(settings),
		service.WithStopTimeout(2*time.Second),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	srv := httptest.NewServer(api.NewServer(svc, api.WithLogger(logger.Nop())).Routes())
	t.Cleanup(func() {
		srv.Close()
		svc.Stop(context.Background())
	})
	return srv
}

func scenario(t *testing.T, baseURL, doc string) *simulate.Scenario {
	t.Helper()
	sc, err := simulate.Parse([]byte("base_url: " + baseURL + "\nsettle: 500ms\n" + doc))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	return sc
}

func TestRunner(t *testing.T) {
	Convey("Given a running server", t, func() {
		ctx := context.Background()
		srv := newServer(t)

		Convey("A switching candidate is caught and ranked", func() {
			sc := scenario(t, srv.URL, `
sessions:
  - id: switcher
    mock_id: m1
    steps:
      - tab_switches: 2
        keys: 5
        answer: q1
    expect:
      min_risk: 0.01
      min_alerts: 1
      tab_switches: 2
    end: true
  - generate_id: true
    user_email: quiet@example.com
    mock_id: m1
    expect:
      tab_switches: 0
`)
			report, err := simulate.NewRunner(sc, simulate.WithConcurrency(2)).Run(ctx)
			So(err, ShouldBeNil)
			So(report.Passed, ShouldEqual, 2)
			So(report.Failed, ShouldEqual, 0)
			So(report.Accepted, ShouldEqual, 9)
			So(report.Sessions[0].Ended, ShouldBeTrue)
			So(report.Sessions[0].Answers, ShouldEqual, 1)
			So(report.Sessions[1].SessionID, ShouldStartWith, "quiet@example.com_m1_")
			So(report.TopEntries, ShouldBeGreaterThanOrEqualTo, 1)

			var out bytes.Buffer
			So(report.WriteText(&out), ShouldBeNil)
			So(out.String(), ShouldContainSubstring, "switcher")
			So(out.String(), ShouldContainSubstring, "2 passed, 0 failed")

			out.Reset()
			So(report.WriteJSON(&out), ShouldBeNil)
			So(out.String(), ShouldContainSubstring, `"passed": 2`)
		})

		Convey("Unmet expectations fail the run but keep the report", func() {
			sc := scenario(t, srv.URL, `
sessions:
  - id: strict
    mock_id: m2
    steps:
      - tab_switches: 1
    expect:
      max_risk: 0
`)
			report, err := simulate.NewRunner(sc).Run(ctx)
			So(errors.Is(err, simulate.ErrExpectation), ShouldBeTrue)
			So(report, ShouldNotBeNil)
			So(report.Failed, ShouldEqual, 1)
			So(report.Sessions[0].Failures, ShouldNotBeEmpty)
		})

		Convey("Server errors abort the run", func() {
			sc := scenario(t, srv.URL, `
sessions:
  - id: bad
    mock_id: m3
    disabled_signals: [smell]
`)
			_, err := simulate.NewRunner(sc).Run(ctx)
			So(errors.Is(err, simulate.ErrUnexpectedReply), ShouldBeTrue)
		})
	})

	Convey("Given no server", t, func() {
		sc, err := simulate.Parse([]byte("base_url: http://127.0.0.1:1\ntimeout: 500ms\nsessions: [{id: s1, mock_id: m1}]"))
		So(err, ShouldBeNil)
		_, err = simulate.NewRunner(sc).Run(context.Background())
		So(err, ShouldNotBeNil)
	})
}
