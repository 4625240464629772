package notifications

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"bulletin/internal/observability"

	"github.com/redis/go-redis/v9"
)

// errorCounter feeds RedisErrorRate from every command the bus client runs.
// A missing key is not a failure.
type errorCounter struct{}

func countFailure(name string, err error) error {
	if err != nil && !errors.Is(err, redis.Nil) {
		observability.RedisErrorRate.WithLabelValues(name).Inc()
	}
	return err
}

func (errorCounter) DialHook(next redis.DialHook) redis.DialHook { return next }

func (errorCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		return countFailure(cmd.Name(), next(ctx, cmd))
	}
}

func (errorCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		return countFailure("pipeline", next(ctx, cmds))
	}
}

// NewRedisClient connects to addr, which is either a redis:// url or host:port,
// and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url %q: %w", addr, err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	client.AddHook(errorCounter{})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// RedisBus publishes on a redis pub/sub channel.
type RedisBus struct {
	rdb     *redis.Client
	channel string
}

// NewRedisBus creates a bus on InvalidationChannel. A nil client yields a no-op bus.
func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb, channel: InvalidationChannel}
}

func (b *RedisBus) Name() string { return "redis" }

func (b *RedisBus) Publish(ctx context.Context, payload []byte) error {
	if b.rdb == nil {
		return nil
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, onMessage func(payload []byte)) error {
	if b.rdb == nil {
		return nil
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				deliver(b.Name(), onMessage, []byte(msg.Payload))
			}
		}
	}()

	return nil
}

// deliver hands payload to onMessage. A panicking handler is logged and the
// subscription keeps running.
func deliver(transport string, onMessage func([]byte), payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.Error("invalidation handler panicked",
				"transport", transport, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	onMessage(payload)
}

func (b *RedisBus) Close() error {
	if b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
