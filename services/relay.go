package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	relayQueueSize      = 1024
	relayPublishTimeout = 2 * time.Second
)

// LocalPublisher delivers an encoded envelope to this process's sockets.
type LocalPublisher interface {
	PublishEncoded(boardID int64, data []byte)
}

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	BoardID int64           `json:"boardId"`
	Message json.RawMessage `json:"message"`
}

// Relay is a Broadcaster that also fans events out to other server
// instances over a Redis pub/sub channel. Each instance delivers its own
// events locally and skips them when they come back from Redis.
type Relay struct {
	client  *redis.Client
	channel string
	origin  string
	local   LocalPublisher
	out     chan relayEnvelope
	ready   chan struct{}
	logger  *slog.Logger
}

func NewRelay(client *redis.Client, channel string, local LocalPublisher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	origin := uuid.NewString()
	return &Relay{
		client:  client,
		channel: channel,
		origin:  origin,
		local:   local,
		out:     make(chan relayEnvelope, relayQueueSize),
		ready:   make(chan struct{}),
		logger:  logger.With("component", "relay", "origin", origin),
	}
}

// Publish implements Broadcaster.
func (r *Relay) Publish(boardID int64, event string, payload any) {
	data, err := json.Marshal(WebSocketMessage{Type: event, BoardID: boardID, Data: payload})
	if err != nil {
		r.logger.Error("failed to marshal event", "event", event, "board", boardID, "error", err)
		return
	}
	r.local.PublishEncoded(boardID, data)

	select {
	case r.out <- relayEnvelope{Origin: r.origin, BoardID: boardID, Message: data}:
	default:
		r.logger.Warn("relay queue full, event not forwarded", "event", event, "board", boardID)
	}
}

// Ready is closed once the Redis subscription is confirmed.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to the relay channel and forwards events both ways until
// ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	close(r.ready)
	r.logger.Info("relay subscribed", "channel", r.channel)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.forward(ctx)
	})
	g.Go(func() error {
		return r.receive(ctx, sub.Channel())
	})
	return g.Wait()
}

func (r *Relay) forward(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-r.out:
			data, err := json.Marshal(env)
			if err != nil {
				r.logger.Error("failed to marshal relay envelope", "error", err)
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
			err = r.client.Publish(pubCtx, r.channel, data).Err()
			cancel()
			if err != nil && ctx.Err() == nil {
				r.logger.Warn("failed to publish to relay", "board", env.BoardID, "error", err)
			}
		}
	}
}

func (r *Relay) receive(ctx context.Context, messages <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("ignoring malformed relay message", "error", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.local.PublishEncoded(env.BoardID, env.Message)
		}
	}
}
