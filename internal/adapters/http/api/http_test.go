package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/proctor/internal/adapters/http/api"
	"github.com/okian/proctor/internal/adapters/mq/bus"
	"github.com/okian/proctor/internal/adapters/repository"
	service "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/types"
	"github.com/okian/proctor/pkg/logger"
)

// brokenStats fails the statistics query.
type brokenStats struct {
	*service.Service
}

func (brokenStats) Statistics(context.Context) (types.Statistics, error) {
	return types.Statistics{}, errors.New("disk on fire")
}

func newService() *service.Service {
	settings := model.DefaultSettings()
	settings.Interval = 50 * time.Millisecond
	settings.FlushInterval = time.Hour
	return service.New(
		service.WithLogger(logger.Nop()),
		service.WithStore(repository.NewMemoryStore()),
		service.WithBus(bus.New(bus.WithLogger(logger.Nop()))),
		service.WithDefaults(settings),
		service.WithStopTimeout(2*time.Second),
	)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(rec *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(rec.Body.Bytes(), v), ShouldBeNil)
}

func TestSessionRoutes(t *testing.T) {
	Convey("Given a server over a running service", t, func() {
		ctx := context.Background()
		svc := newService()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(ctx)
		h := api.NewServer(svc, api.WithLogger(logger.Nop())).Routes()

		rec := do(h, http.MethodPost, "/sessions", `{"session_id":"s1","mock_id":"m1","user_email":"a@example.com"}`)
		So(rec.Code, ShouldEqual, http.StatusCreated)
		var agg model.Aggregate
		decodeBody(rec, &agg)
		So(agg.SessionID, ShouldEqual, "s1")
		So(agg.MockID, ShouldEqual, "m1")

		Convey("Start validates its body", func() {
			So(do(h, http.MethodPost, "/sessions", `{"session_id":"s2"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions", `{"mock_id":"m1"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions", `{"mock_id":"m1","generate_id":true}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions", `{"session_id":"s2","mock_id":"m1","user_email":"nope"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions", `{"session_id":"s2","mock_id":"m1","disabled_signals":["smell"]}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions", `not json`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Start can derive the id", func() {
			rec := do(h, http.MethodPost, "/sessions", `{"mock_id":"m9","user_email":"b@example.com","generate_id":true,"disabled_signals":["audio"]}`)
			So(rec.Code, ShouldEqual, http.StatusCreated)
			var got model.Aggregate
			decodeBody(rec, &got)
			So(got.SessionID, ShouldStartWith, "b@example.com_m9_")
		})

		Convey("Start takes cooldown and threshold overrides", func() {
			body := `{"session_id":"s5","mock_id":"m1","alert_cooldown_ms":0,"flush_interval_ms":5000,"thresholds":{"tab_debounce_ms":800,"gaze_frame_ratio":0.2}}`
			rec := do(h, http.MethodPost, "/sessions", body)
			So(rec.Code, ShouldEqual, http.StatusCreated)
			var got model.Aggregate
			decodeBody(rec, &got)
			So(got.Settings.AlertCooldown, ShouldEqual, time.Duration(0))
			So(got.Settings.FlushInterval, ShouldEqual, 5*time.Second)
			So(got.Settings.Thresholds.TabDebounce, ShouldEqual, 800*time.Millisecond)
			So(got.Settings.Thresholds.GazeFrameRatio, ShouldEqual, 0.2)
			So(got.Settings.Thresholds.FaceTimeout, ShouldEqual, model.DefaultSettings().Thresholds.FaceTimeout)

			rec = do(h, http.MethodGet, "/sessions/s5", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var stored model.Aggregate
			decodeBody(rec, &stored)
			So(stored.Settings.Thresholds.TabDebounce, ShouldEqual, 800*time.Millisecond)

			Convey("and rejects out of range values", func() {
				So(do(h, http.MethodPost, "/sessions", `{"session_id":"s6","mock_id":"m1","alert_cooldown_ms":-1}`).Code, ShouldEqual, http.StatusBadRequest)
				So(do(h, http.MethodPost, "/sessions", `{"session_id":"s6","mock_id":"m1","flush_interval_ms":10}`).Code, ShouldEqual, http.StatusBadRequest)
				So(do(h, http.MethodPost, "/sessions", `{"session_id":"s6","mock_id":"m1","thresholds":{"gaze_frame_ratio":3}}`).Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("Events are buffered once", func() {
			body := `{"events":[{"event_id":"e1","kind":"keydown","key":"a"},{"event_id":"e2","kind":"paste","paste_length":120},{"event_id":"e1","kind":"keydown","key":"a"}]}`
			rec := do(h, http.MethodPost, "/sessions/s1/events", body)
			So(rec.Code, ShouldEqual, http.StatusAccepted)
			var res map[string]any
			decodeBody(rec, &res)
			So(res["status"], ShouldEqual, "accepted")
			So(res["accepted"], ShouldEqual, 2.0)
			So(res["duplicates"], ShouldEqual, 1.0)

			rec = do(h, http.MethodPost, "/sessions/s1/events", `{"events":[{"event_id":"e2","kind":"paste","paste_length":120}]}`)
			So(rec.Code, ShouldEqual, http.StatusAccepted)
			decodeBody(rec, &res)
			So(res["status"], ShouldEqual, "duplicate")
		})

		Convey("Malformed events are refused", func() {
			So(do(h, http.MethodPost, "/sessions/s1/events", `{"events":[{"kind":"scroll"}]}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions/s1/events", `{"events":[]}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions/nope/events", `{"events":[{"kind":"blur"}]}`).Code, ShouldEqual, http.StatusConflict)
		})

		Convey("Observations need a reading", func() {
			So(do(h, http.MethodPost, "/sessions/s1/observations", `{}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions/s1/observations", `{"audio":{"available":false}}`).Code, ShouldEqual, http.StatusAccepted)
		})

		Convey("Live risk, answers and acknowledgements", func() {
			rec := do(h, http.MethodGet, "/sessions/s1/risk", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var live model.LiveRisk
			decodeBody(rec, &live)
			So(live.SessionID, ShouldEqual, "s1")

			So(do(h, http.MethodPost, "/sessions/s1/answers", `{}`).Code, ShouldEqual, http.StatusBadRequest)
			rec = do(h, http.MethodPost, "/sessions/s1/answers", `{"question_id":"q1"}`)
			So(rec.Code, ShouldEqual, http.StatusCreated)

			rec = do(h, http.MethodGet, "/sessions/s1/answers", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var answers []model.AnswerSnapshot
			decodeBody(rec, &answers)
			So(len(answers), ShouldEqual, 1)
			So(answers[0].QuestionID, ShouldEqual, "q1")

			So(do(h, http.MethodPost, "/sessions/s1/alerts/missing/ack", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodGet, "/sessions/s1/history", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("Controls reach the driver", func() {
			So(do(h, http.MethodPost, "/sessions/s1/pause", "").Code, ShouldEqual, http.StatusOK)
			rec := do(h, http.MethodGet, "/sessions/s1/risk", "")
			var live model.LiveRisk
			decodeBody(rec, &live)
			So(live.Paused, ShouldBeTrue)
			So(do(h, http.MethodPost, "/sessions/s1/resume", "").Code, ShouldEqual, http.StatusOK)

			So(do(h, http.MethodPut, "/sessions/s1/interval", `{"interval_ms":10}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPut, "/sessions/s1/interval", `{"interval_ms":200}`).Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodPut, "/sessions/s1/signals/smell", `{"enabled":false}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPut, "/sessions/s1/signals/audio", `{}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPut, "/sessions/s1/signals/audio", `{"enabled":false}`).Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodPost, "/sessions/nope/pause", "").Code, ShouldEqual, http.StatusConflict)
		})

		Convey("Ending is idempotent", func() {
			rec := do(h, http.MethodPost, "/sessions/s1/end", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var final model.Aggregate
			decodeBody(rec, &final)
			So(final.Closed, ShouldBeTrue)
			So(final.Summary, ShouldNotBeNil)

			So(do(h, http.MethodPost, "/sessions/s1/end", "").Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodGet, "/sessions/s1/risk", "").Code, ShouldEqual, http.StatusConflict)

			rec = do(h, http.MethodGet, "/sessions/s1", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			decodeBody(rec, &final)
			So(final.Closed, ShouldBeTrue)

			So(do(h, http.MethodPost, "/sessions/nope/end", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Queries over stored sessions", func() {
			So(do(h, http.MethodGet, "/sessions/nope", "").Code, ShouldEqual, http.StatusNotFound)

			rec := do(h, http.MethodGet, "/sessions/top?limit=5", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var top []types.Entry
			decodeBody(rec, &top)
			So(len(top), ShouldEqual, 1)
			So(top[0].SessionID, ShouldEqual, "s1")
			So(do(h, http.MethodGet, "/sessions/top?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, "/sessions/top?limit=abc", "").Code, ShouldEqual, http.StatusBadRequest)

			So(do(h, http.MethodGet, "/sessions/s1/rank", "").Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodGet, "/sessions/nope/rank", "").Code, ShouldEqual, http.StatusNotFound)

			rec = do(h, http.MethodGet, "/mocks/m1/sessions?session_id=s1", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var aggs []model.Aggregate
			decodeBody(rec, &aggs)
			So(len(aggs), ShouldEqual, 1)

			rec = do(h, http.MethodGet, "/statistics", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var stats types.Statistics
			decodeBody(rec, &stats)
			So(stats.TotalSessions, ShouldEqual, 1)

			rec = do(h, http.MethodGet, "/stats", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var svcStats map[string]any
			decodeBody(rec, &svcStats)
			So(svcStats["started"], ShouldEqual, true)
		})
	})
}

func TestServerErrors(t *testing.T) {
	Convey("Given a service that is not started", t, func() {
		h := api.NewServer(newService(), api.WithLogger(logger.Nop())).Routes()

		Convey("Starting a session is unavailable", func() {
			rec := do(h, http.MethodPost, "/sessions", `{"session_id":"s1","mock_id":"m1"}`)
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})

	Convey("Given a store that fails", t, func() {
		ctx := context.Background()
		svc := newService()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(ctx)
		h := api.NewServer(brokenStats{Service: svc}, api.WithLogger(logger.Nop())).Routes()

		Convey("Internal detail is withheld", func() {
			rec := do(h, http.MethodGet, "/statistics", "")
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
			So(rec.Body.String(), ShouldNotContainSubstring, "disk on fire")
		})
	})

	Convey("Given a tight rate limit", t, func() {
		ctx := context.Background()
		svc := newService()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(ctx)
		h := api.NewServer(svc, api.WithLogger(logger.Nop()), api.WithRateLimit(2, time.Minute)).Routes()

		Convey("Writes past the limit are refused while reads pass", func() {
			So(do(h, http.MethodPost, "/sessions", `{"session_id":"s1","mock_id":"m1"}`).Code, ShouldEqual, http.StatusCreated)
			So(do(h, http.MethodPost, "/sessions", `{"session_id":"s2","mock_id":"m1"}`).Code, ShouldEqual, http.StatusCreated)
			So(do(h, http.MethodPost, "/sessions", `{"session_id":"s3","mock_id":"m1"}`).Code, ShouldEqual, http.StatusTooManyRequests)
			So(do(h, http.MethodGet, "/sessions/s1", "").Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestStaticRoutes(t *testing.T) {
	Convey("Given a server", t, func() {
		h := api.NewServer(newService(), api.WithLogger(logger.Nop())).Routes()

		Convey("Metrics are exposed", func() {
			So(do(h, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodGet, "/metrics", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("The API description is served", func() {
			So(do(h, http.MethodGet, "/openapi.yaml", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("The dashboard is served", func() {
			rec := do(h, http.MethodGet, "/dashboard", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Header().Get("Content-Type"), ShouldStartWith, "text/html")
			So(rec.Body.String(), ShouldContainSubstring, "Risk overview")
		})
	})
}
