package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisChannel is used when RedisOptions.Channel is empty.
const DefaultRedisChannel = "jetstream"

// RedisOptions configures NewRedisBus.
type RedisOptions struct {
	Addr        string
	Channel     string
	DialTimeout time.Duration
}

// RedisBus publishes envelopes as JSON on a Redis pub/sub channel.
type RedisBus struct {
	log     zerolog.Logger
	rdb     *goredis.Client
	channel string
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus connects and pings the server.
func NewRedisBus(ctx context.Context, o RedisOptions, log zerolog.Logger) (*RedisBus, error) {
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	ch := strings.TrimSpace(o.Channel)
	if ch == "" {
		ch = DefaultRedisChannel
	}
	timeout := o.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: timeout,
	})

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{
		log:     log.With().Str("service", "redis-bus").Str("channel", ch).Logger(),
		rdb:     rdb,
		channel: ch,
	}, nil
}

// Publish sends env on the channel.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	if b == nil || b.rdb == nil {
		return ErrClosed
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Subscribe starts a forwarding goroutine that runs until ctx is done or the
// subscription channel closes. Payloads that do not decode are logged and
// skipped.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	if b == nil || b.rdb == nil {
		return ErrClosed
	}
	if fn == nil {
		return fmt.Errorf("subscriber callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				env, err := decodeEnvelope([]byte(m.Payload))
				if err != nil {
					b.log.Warn().Err(err).Msg("bad envelope payload")
					continue
				}
				fn(env)
			}
		}
	}()
	return nil
}

// Close closes the client.
func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
