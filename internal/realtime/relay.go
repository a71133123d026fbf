package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel shared by every API instance.
const Channel = "kanban:events"

const (
	envelopeFrame  = "frame"
	envelopeRevoke = "revoke"
)

// relayEnvelope is either a broadcast frame or a revocation. Both travel on
// one channel so a revocation is applied after the events published before it.
type relayEnvelope struct {
	Kind      string          `json:"kind"`
	BoardID   int64           `json:"boardId"`
	ExcludeID string          `json:"excludeId,omitempty"`
	UserID    int64           `json:"userId,omitempty"`
	Frame     json.RawMessage `json:"frame,omitempty"`
}

// Relay routes board messages through Redis so subscribers connected to any
// instance receive them. Publish never delivers locally; Run does, once per
// message.
type Relay struct {
	client  *redis.Client
	hub     *Hub
	channel string
	log     *slog.Logger
}

func NewRelay(client *redis.Client, hub *Hub) *Relay {
	return &Relay{
		client:  client,
		hub:     hub,
		channel: Channel,
		log:     hub.log.With("relay", Channel),
	}
}

// DialRedis parses redisURL and checks the server answers.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func (r *Relay) Publish(ctx context.Context, boardID int64, msg Message, excludeID string) error {
	msg.BoardID = boardID
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return r.send(ctx, relayEnvelope{Kind: envelopeFrame, BoardID: boardID, ExcludeID: excludeID, Frame: frame})
}

// Revoke asks every instance to drop userID's subscriptions to boardID, or
// all of the board's subscriptions when userID is 0.
func (r *Relay) Revoke(ctx context.Context, boardID, userID int64) error {
	return r.send(ctx, relayEnvelope{Kind: envelopeRevoke, BoardID: boardID, UserID: userID})
}

func (r *Relay) send(ctx context.Context, env relayEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the channel and feeds the local hub until ctx ends.
// ready, when non-nil, is closed once the subscription is confirmed.
func (r *Relay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case m, ok := <-messages:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				r.log.Warn("dropping malformed relay message", "error", err)
				continue
			}
			switch env.Kind {
			case envelopeRevoke:
				_ = r.hub.Revoke(ctx, env.BoardID, env.UserID)
			default:
				r.hub.BroadcastFrame(env.BoardID, env.Frame, env.ExcludeID)
			}
		}
	}
}
