// Package stream pushes a session's snapshots and alerts over a websocket.
package stream

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/okian/proctor/internal/adapters/mq/bus"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Subscriber opens a per-session envelope feed. The feed closes when ctx is
// cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan bus.Envelope, error)
}

// ErrorWriter reports a subscription failure before the upgrade happens.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Handler upgrades requests and forwards envelopes until either side goes
// away.
type Handler struct {
	subs     Subscriber
	upgrader websocket.Upgrader
	origins  map[string]struct{}
	onError  ErrorWriter
	clients  atomic.Int64
	logger   logger.Logger
}

// New creates a stream handler over subs.
func New(subs Subscriber, opts ...Option) *Handler {
	h := &Handler{subs: subs}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get().Named("stream")
	}
	if h.onError == nil {
		h.onError = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusNotFound)
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
	}
	if len(h.origins) > 0 {
		h.upgrader.CheckOrigin = h.checkOrigin
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	_, ok := h.origins[r.Header.Get("Origin")]
	return ok
}

// Clients returns the number of open streams.
func (h *Handler) Clients() int {
	return int(h.clients.Load())
}

// ServeSession streams sessionID to the caller. It blocks until the client
// disconnects or the feed closes.
func (h *Handler) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	feed, err := h.subs.Subscribe(ctx, sessionID)
	if err != nil {
		h.onError(w, r, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		h.logger.Debug(ctx, "websocket upgrade failed", logger.String("session", sessionID), logger.Error(err))
		return
	}
	metrics.UpdateWebsocketClients(int(h.clients.Add(1)))
	defer func() {
		metrics.UpdateWebsocketClients(int(h.clients.Add(-1)))
		_ = conn.Close()
	}()

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, feed, sessionID)
}

// readPump discards client frames; its job is to notice pongs and
// disconnects.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn(context.Background(), "unexpected websocket close", logger.Error(err))
			}
			return
		}
	}
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, feed <-chan bus.Envelope, sessionID string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeConn(conn, websocket.CloseGoingAway)
			return

		case env, ok := <-feed:
			if !ok {
				h.closeConn(conn, websocket.CloseNormalClosure)
				return
			}
			payload, err := json.Marshal(env)
			if err != nil {
				h.logger.Error(ctx, "encode envelope", logger.String("session", sessionID), logger.Error(err))
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				metrics.RecordErrorByComponent("stream", "write_failed")
				return
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) closeConn(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
