package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	app "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/pkg/logger"
)

func TestBuildStore(t *testing.T) {
	convey.Convey("Given the default configuration", t, func() {
		cfg := config.New(context.Background())
		log := logger.Nop()

		convey.Convey("The memory driver needs no path", func() {
			cfg.Storage.Driver = "memory"
			store, err := buildStore(cfg, log)
			convey.So(err, convey.ShouldBeNil)
			convey.So(store.Close(), convey.ShouldBeNil)
		})

		convey.Convey("The badger driver opens a directory", func() {
			cfg.Storage.Path = t.TempDir()
			cfg.Storage.GCInterval = 0
			store, err := buildStore(cfg, log)
			convey.So(err, convey.ShouldBeNil)
			convey.So(store.Count(context.Background()), convey.ShouldEqual, 0)
			convey.So(store.Close(), convey.ShouldBeNil)
		})
	})
}

func TestBuildInferrer(t *testing.T) {
	convey.Convey("Given the default configuration", t, func() {
		cfg := config.New(context.Background())
		log := logger.Nop()

		convey.Convey("No URL disables device inference", func() {
			client, err := buildInferrer(cfg, log)
			convey.So(err, convey.ShouldBeNil)
			convey.So(client, convey.ShouldBeNil)
		})

		convey.Convey("A URL builds a client", func() {
			cfg.Inference.URL = "http://detector:5000"
			client, err := buildInferrer(cfg, log)
			convey.So(err, convey.ShouldBeNil)
			convey.So(client.State(), convey.ShouldEqual, "closed")
		})

		convey.Convey("A relative URL is refused", func() {
			cfg.Inference.URL = "detector"
			_, err := buildInferrer(cfg, log)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestHTTPServer(t *testing.T) {
	convey.Convey("Given a server built from configuration", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)
		cfg.Storage.Driver = "memory"
		log := logger.Nop()

		store, err := buildStore(cfg, log)
		convey.So(err, convey.ShouldBeNil)
		svc := app.New(app.WithLogger(log), app.WithStore(store), app.WithDefaults(cfg.Detection))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop(ctx)

		srv := newHTTPServer(cfg, svc, log)
		convey.So(srv.Addr, convey.ShouldEqual, cfg.HTTP.Addr)

		convey.Convey("Routes are mounted", func() {
			for _, path := range []string{"/stats", "/statistics", "/healthz", "/sessions/top"} {
				rec := httptest.NewRecorder()
				srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
				convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("The stream refuses unknown sessions", func() {
			rec := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/nope/ws", nil))
			convey.So(rec.Code, convey.ShouldEqual, http.StatusConflict)
		})
	})
}
