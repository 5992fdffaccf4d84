// Package relay carries committed chat messages between server instances
// over Redis pub/sub, so a participant connected to one instance sees
// messages appended on another.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"runnerhub/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deliverer receives messages published by other instances.
type Deliverer interface {
	DeliverRemote(ctx context.Context, m models.Message)
}

type envelope struct {
	Origin  string         `json:"origin"`
	Message models.Message `json:"message"`
}

type Relay struct {
	conn    *redis.Client
	channel string
	origin  string
	queue   chan models.Message
	log     *zap.Logger
}

func New(conn *redis.Client, channel string, queueSize int, log *zap.Logger) *Relay {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Relay{
		conn:    conn,
		channel: channel,
		origin:  uuid.NewString(),
		queue:   make(chan models.Message, queueSize),
		log:     log.Named("relay"),
	}
}

// Publish queues m for the other instances without blocking. When the queue
// is full the message is dropped; remote clients recover it from history.
func (r *Relay) Publish(m models.Message) {
	select {
	case r.queue <- m:
	default:
		r.log.Warn("publish queue full, dropping",
			zap.String("booking", m.BookingID),
			zap.Int64("seq", m.Sequence))
	}
}

// Run publishes queued messages and delivers remote ones to d until ctx is
// done. It returns once the subscription is closed.
func (r *Relay) Run(ctx context.Context, d Deliverer) error {
	sub := r.conn.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("listening", zap.String("channel", r.channel), zap.String("origin", r.origin))

	go r.publishLoop(ctx)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("bad payload", zap.Error(err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			d.DeliverRemote(ctx, env.Message)
		}
	}
}

func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.queue:
			data, err := json.Marshal(envelope{Origin: r.origin, Message: m})
			if err != nil {
				r.log.Error("encode", zap.Error(err))
				continue
			}
			if err := r.conn.Publish(ctx, r.channel, data).Err(); err != nil {
				r.log.Warn("publish",
					zap.String("booking", m.BookingID),
					zap.Int64("seq", m.Sequence),
					zap.Error(err))
			}
		}
	}
}

// Ping reports whether Redis is reachable.
func (r *Relay) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx).Err()
}
