package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries invalidations over Redis PUBLISH/SUBSCRIBE.
type RedisBus struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	local   *EventBus
	done    chan struct{}
}

var _ Bus = (*RedisBus)(nil)

// NewRedisClient connects to the server named by a redis:// URL and pings it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// NewRedisBus subscribes to channel and waits for the server to confirm
// the subscription before returning.
func NewRedisBus(ctx context.Context, client *redis.Client, channel string) (*RedisBus, error) {
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}
	b := &RedisBus{
		client:  client,
		pubsub:  pubsub,
		channel: channel,
		local:   NewEventBus(),
		done:    make(chan struct{}),
	}
	go b.run(context.WithoutCancel(ctx))
	log(ctx).Info("Listening for invalidations", slog.String("driver", "redis"), slog.String("channel", channel))
	return b, nil
}

// run relays messages until the subscription closes. The client
// resubscribes on its own after a dropped connection; the fresh
// subscription confirmation is the signal to resync.
func (b *RedisBus) run(ctx context.Context) {
	defer close(b.done)
	for m := range b.pubsub.ChannelWithSubscriptions() {
		switch m := m.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				log(ctx).Info("Invalidation listener reconnected", slog.String("channel", b.channel))
				_ = b.local.Publish(ctx, resyncMessage())
			}
		case *redis.Message:
			var msg Invalidation
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log(ctx).Warn("Dropping malformed invalidation", slog.Any("error", err))
				continue
			}
			_ = b.local.Publish(ctx, msg)
		}
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg Invalidation) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding invalidation: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe() (<-chan Invalidation, func()) {
	return b.local.Subscribe()
}

// Close stops the subscription. The client stays open and is owned by
// the caller.
func (b *RedisBus) Close() error {
	err := b.pubsub.Close()
	<-b.done
	if cerr := b.local.Close(); err == nil {
		err = cerr
	}
	return err
}
