// Package bus publishes tick results to in-process observers such as the
// websocket stream. Every session has its own topic.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

const (
	defaultBuffer = 64
	topicPrefix   = "proctor.session."

	metaSessionID = "session_id"
	metaKind      = "kind"
)

// Kind tells observers what an envelope carries.
type Kind string

// Envelope kinds.
const (
	KindSnapshot Kind = "snapshot"
	KindAlert    Kind = "alert"
)

// Envelope is one published event.
type Envelope struct {
	SessionID string              `json:"session_id"`
	Kind      Kind                `json:"kind"`
	Snapshot  *model.RiskSnapshot `json:"snapshot,omitempty"`
	Alert     *model.Alert        `json:"alert,omitempty"`
	At        time.Time           `json:"at"`
}

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithLogger sets a custom logger for the bus.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// Bus is an in-memory pub/sub backed by a watermill go channel.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger logger.Logger
	buffer int
}

// New creates a bus.
func New(opts ...Option) *Bus {
	b := &Bus{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Get().Named("bus")
	}
	b.pubsub = gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: int64(b.buffer)},
		watermill.NewSlogLogger(b.logger.Slog()),
	)
	return b
}

// Topic returns the topic name for a session.
func Topic(sessionID string) string {
	return topicPrefix + sessionID
}

// PublishSnapshot publishes a tick snapshot.
func (b *Bus) PublishSnapshot(ctx context.Context, sessionID string, s model.RiskSnapshot) error { //nolint:gocritic // hugeParam: snapshots are immutable values
	return b.publish(ctx, Envelope{SessionID: sessionID, Kind: KindSnapshot, Snapshot: &s, At: s.Timestamp})
}

// PublishAlert publishes an emitted alert.
func (b *Bus) PublishAlert(ctx context.Context, sessionID string, a model.Alert) error { //nolint:gocritic // hugeParam: alerts are immutable values
	return b.publish(ctx, Envelope{SessionID: sessionID, Kind: KindAlert, Alert: &a, At: a.Timestamp})
}

func (b *Bus) publish(ctx context.Context, env Envelope) error { //nolint:gocritic // hugeParam: envelope is built per call
	payload, err := json.Marshal(env)
	if err != nil {
		metrics.RecordBusPublish(string(env.Kind), "encode_error")
		return fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metaSessionID, env.SessionID)
	msg.Metadata.Set(metaKind, string(env.Kind))
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(Topic(env.SessionID), msg); err != nil {
		metrics.RecordBusPublish(string(env.Kind), "error")
		return fmt.Errorf("publish %s: %w", env.Kind, err)
	}
	metrics.RecordBusPublish(string(env.Kind), "ok")
	return nil
}

// Subscribe streams a session's envelopes until ctx is cancelled. A slow
// reader loses envelopes rather than holding up delivery to others.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan Envelope, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic(sessionID))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}

	out := make(chan Envelope, b.buffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				b.logger.Warn(ctx, "dropping undecodable envelope", logger.String("message_id", msg.UUID), logger.Error(err))
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- env:
			case <-ctx.Done():
				return
			default:
				metrics.RecordErrorByComponent("bus", "subscriber_slow")
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() error {
	if err := b.pubsub.Close(); err != nil {
		return fmt.Errorf("close bus: %w", err)
	}
	return nil
}
