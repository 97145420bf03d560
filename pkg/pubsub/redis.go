package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/graham924/blog-feng-yu/pkg/log"
	"github.com/redis/go-redis/v9"
)

// RedisPubSub implements PubSub interface using Redis.
type RedisPubSub struct {
	client        *redis.Client
	subscriptions map[string]*redis.PubSub
	mu            sync.Mutex
}

// NewRedisPubSub wraps an existing client. Closing the RedisPubSub closes
// its subscriptions but not the client.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
	}
}

// Publish publishes an event to the specified channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to a specific channel. The returned channel is closed
// when ctx is done or the subscription is removed.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.subscriptions[channel]; ok {
		existing.Close()
	}

	sub := r.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so publishes right after
	// Subscribe returns are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	r.subscriptions[channel] = sub

	eventCh := make(chan *Event, 100)

	go r.processMessages(ctx, sub, eventCh)

	return eventCh, nil
}

// Unsubscribe unsubscribes from a channel.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subscriptions[channel]; ok {
		if err := sub.Close(); err != nil {
			return err
		}
		delete(r.subscriptions, channel)
	}

	return nil
}

// Close closes all subscriptions.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subscriptions {
		sub.Close()
	}
	r.subscriptions = make(map[string]*redis.PubSub)

	return nil
}

// processMessages reads messages from the Redis pubsub and sends them to the event channel.
func (r *RedisPubSub) processMessages(ctx context.Context, sub *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)

	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				l := log.L()
				l.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed pubsub event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				// Channel full, skip message
			}
		}
	}
}
