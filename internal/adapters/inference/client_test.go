package inference_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/proctor/internal/adapters/inference"
	"github.com/okian/proctor/pkg/logger"
)

func TestNew(t *testing.T) {
	Convey("A client needs an absolute base url", t, func() {
		_, err := inference.New("")
		So(err, ShouldEqual, inference.ErrInvalidConfig)
		_, err = inference.New("not a url")
		So(err, ShouldEqual, inference.ErrInvalidConfig)

		c, err := inference.New("http://localhost:5000/", inference.WithLogger(logger.Nop()))
		So(err, ShouldBeNil)
		So(c.State(), ShouldEqual, "closed")
	})
}

func TestDetect(t *testing.T) {
	Convey("Given a detection service", t, func() {
		var gotImage atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/detect-mobile" || r.Method != http.MethodPost {
				http.NotFound(w, r)
				return
			}
			var body struct {
				Image string `json:"image"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotImage.Store(body.Image)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"mobile_detected": true,
				"confidence": 0.82,
				"total_detections": 1,
				"detections": [{"confidence": 0.82, "bbox": [10, 20, 60, 120], "class": 67, "class_name": "cell phone", "area_ratio": 0.02}]
			}`))
		}))
		defer srv.Close()

		c, err := inference.New(srv.URL, inference.WithLogger(logger.Nop()))
		So(err, ShouldBeNil)

		Convey("Frames are sent base64 encoded and boxes are mapped", func() {
			res, err := c.Detect(context.Background(), []byte("jpeg"))
			So(err, ShouldBeNil)
			So(gotImage.Load(), ShouldEqual, base64.StdEncoding.EncodeToString([]byte("jpeg")))
			So(res.Detected, ShouldBeTrue)
			So(res.Degraded, ShouldBeFalse)
			So(res.Confidence, ShouldAlmostEqual, 0.82)
			So(len(res.Boxes), ShouldEqual, 1)
			So(res.Boxes[0].Class, ShouldEqual, "cell phone")
			So(res.Boxes[0].Box.Width, ShouldEqual, 50.0)
			So(res.Boxes[0].Box.Height, ShouldEqual, 100.0)
		})
	})
}

func TestDetectFailsOpen(t *testing.T) {
	Convey("Given a failing detection service", t, func() {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"model not loaded","mobile_detected":false,"confidence":0}`))
		}))
		defer srv.Close()

		c, err := inference.New(srv.URL,
			inference.WithLogger(logger.Nop()),
			inference.WithBreaker(2, time.Hour))
		So(err, ShouldBeNil)

		Convey("Errors degrade to a neutral result", func() {
			res, err := c.Detect(context.Background(), []byte("x"))
			So(errors.Is(err, inference.ErrUnavailable), ShouldBeTrue)
			So(res.Degraded, ShouldBeTrue)
			So(res.Detected, ShouldBeFalse)
		})

		Convey("Consecutive failures open the breaker", func() {
			_, _ = c.Detect(context.Background(), []byte("x"))
			_, _ = c.Detect(context.Background(), []byte("x"))
			So(c.State(), ShouldEqual, "open")

			res, err := c.Detect(context.Background(), []byte("x"))
			So(errors.Is(err, inference.ErrUnavailable), ShouldBeTrue)
			So(res.Degraded, ShouldBeTrue)
			So(hits.Load(), ShouldEqual, 2)
		})
	})

	Convey("Malformed bodies are reported", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}))
		defer srv.Close()

		c, _ := inference.New(srv.URL, inference.WithLogger(logger.Nop()))
		res, err := c.Detect(context.Background(), []byte("x"))
		So(errors.Is(err, inference.ErrBadResponse), ShouldBeTrue)
		So(res.Degraded, ShouldBeTrue)
	})

	Convey("Slow responses time out", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		c, _ := inference.New(srv.URL, inference.WithLogger(logger.Nop()), inference.WithTimeout(50*time.Millisecond))
		start := time.Now()
		res, err := c.Detect(context.Background(), []byte("x"))
		So(err, ShouldNotBeNil)
		So(res.Degraded, ShouldBeTrue)
		So(time.Since(start), ShouldBeLessThan, time.Second)
	})
}

func TestHealth(t *testing.T) {
	Convey("Health reflects the probe status", t, func() {
		healthy := atomic.Bool{}
		healthy.Store(true)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/health" {
				http.NotFound(w, r)
				return
			}
			if !healthy.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"status":"healthy","model_loaded":true}`))
		}))
		defer srv.Close()

		c, _ := inference.New(srv.URL, inference.WithLogger(logger.Nop()))
		So(c.Health(context.Background()), ShouldBeNil)

		healthy.Store(false)
		So(errors.Is(c.Health(context.Background()), inference.ErrUnavailable), ShouldBeTrue)
	})
}
