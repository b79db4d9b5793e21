package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChannel is the pub/sub channel carrying change signals.
const RedisChannel = "lostfound:items"

// Redis carries change signals over redis pub/sub so that several server
// processes sharing one store see each other's writes.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis connects to the redis server at rawURL and verifies it answers.
func NewRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Redis{client: client, channel: RedisChannel}, nil
}

func (r *Redis) Watch(ctx context.Context) (<-chan struct{}, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}

	ch := make(chan struct{}, 1)
	msgs := ps.Channel()
	go func() {
		defer close(ch)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(ch)
			}
		}
	}()
	return ch, nil
}

// Publish announces a change to every subscribed process, this one included.
func (r *Redis) Publish(ctx context.Context) error {
	if err := r.client.Publish(ctx, r.channel, "changed").Err(); err != nil {
		return fmt.Errorf("publishing change: %w", err)
	}
	return nil
}

func (r *Redis) Mode() Mode { return ModeRedis }

func (r *Redis) Close() error {
	return r.client.Close()
}
