package stream_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/proctor/internal/adapters/http/stream"
	"github.com/okian/proctor/internal/adapters/mq/bus"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
)

var errUnknown = errors.New("session is not active")

// feeds hands out one controllable channel per known session.
type feeds struct {
	ch    chan bus.Envelope
	known string
}

func (f *feeds) Subscribe(ctx context.Context, sessionID string) (<-chan bus.Envelope, error) {
	if sessionID != f.known {
		return nil, errUnknown
	}
	return f.ch, nil
}

func serve(h *stream.Handler) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeSession(w, r, strings.TrimPrefix(r.URL.Path, "/"))
	}))
}

func wsURL(srv *httptest.Server, id string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + id
}

func TestStream(t *testing.T) {
	Convey("Given a stream over a controllable feed", t, func() {
		f := &feeds{ch: make(chan bus.Envelope, 4), known: "s1"}
		h := stream.New(f, stream.WithLogger(logger.Nop()))
		srv := serve(h)
		defer srv.Close()

		Convey("Envelopes are forwarded as JSON", func() {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1"), nil)
			So(err, ShouldBeNil)
			defer conn.Close()

			f.ch <- bus.Envelope{
				SessionID: "s1",
				Kind:      bus.KindAlert,
				Alert:     &model.Alert{ID: "a1", Severity: model.SeverityHigh},
				At:        time.Now(),
			}

			So(conn.SetReadDeadline(time.Now().Add(3*time.Second)), ShouldBeNil)
			_, payload, err := conn.ReadMessage()
			So(err, ShouldBeNil)
			var env bus.Envelope
			So(json.Unmarshal(payload, &env), ShouldBeNil)
			So(env.Kind, ShouldEqual, bus.KindAlert)
			So(env.Alert.ID, ShouldEqual, "a1")
			So(h.Clients(), ShouldEqual, 1)

			Convey("and a closed feed closes the socket normally", func() {
				close(f.ch)
				_, _, err := conn.ReadMessage()
				So(websocket.IsCloseError(err, websocket.CloseNormalClosure), ShouldBeTrue)
			})
		})

		Convey("Unknown sessions are refused before the upgrade", func() {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "nope"), nil)
			So(err, ShouldNotBeNil)
			So(resp, ShouldNotBeNil)
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})

	Convey("Given a custom error writer and an origin allow-list", t, func() {
		f := &feeds{ch: make(chan bus.Envelope), known: "s1"}
		h := stream.New(f,
			stream.WithLogger(logger.Nop()),
			stream.WithAllowedOrigins("https://app.example.com"),
			stream.WithErrorWriter(func(w http.ResponseWriter, _ *http.Request, _ error) {
				w.WriteHeader(http.StatusConflict)
			}),
		)
		srv := serve(h)
		defer srv.Close()

		Convey("The error writer answers failed subscriptions", func() {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "nope"), nil)
			So(err, ShouldNotBeNil)
			So(resp.StatusCode, ShouldEqual, http.StatusConflict)
		})

		Convey("Foreign origins are rejected", func() {
			header := http.Header{"Origin": []string{"https://evil.example.com"}}
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1"), header)
			So(err, ShouldNotBeNil)
			So(resp.StatusCode, ShouldEqual, http.StatusForbidden)
		})

		Convey("Listed origins are accepted", func() {
			header := http.Header{"Origin": []string{"https://app.example.com"}}
			conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1"), header)
			So(err, ShouldBeNil)
			conn.Close()
		})
	})
}
