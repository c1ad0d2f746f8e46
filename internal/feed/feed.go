// Package feed fans ride change events out to listening clients. Events
// travel through Redis pub/sub between processes and through a WebSocket
// hub to browsers; delivery is best-effort and ordering is not guaranteed.
package feed

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-hail/internal/models"
)

const channelPrefix = "ride-events:"

// Publisher emits a ride insert/update event.
type Publisher interface {
	PublishRideEvent(ctx context.Context, ev models.RideEvent) error
}

// RedisPublisher publishes events on a per-ride channel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishRideEvent(ctx context.Context, ev models.RideEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, channelPrefix+ev.RideID, b).Err()
}

// Subscriber pumps events from Redis into the local hub.
type Subscriber struct {
	client *redis.Client
	hub    *Hub
}

func NewSubscriber(client *redis.Client, hub *Hub) *Subscriber {
	return &Subscriber{client: client, hub: hub}
}

// Run blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.RideEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			s.hub.Broadcast(ev)
		}
	}
}
