// Package redis provides an idempotency ledger backed by Redis. It is meant
// to sit next to any message store when several channelmesh processes share
// one trigger stream.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a claimed trigger key is remembered.
const DefaultTTL = 7 * 24 * time.Hour

// Options configures a Ledger.
type Options struct {
	TTL       time.Duration
	KeyPrefix string
}

// Ledger implements core.IdempotencyLedger with SET NX.
type Ledger struct {
	client goredis.UniversalClient
	opts   Options
}

// New connects to redisURL and returns a ledger.
func New(ctx context.Context, redisURL string, optFns ...func(o *Options)) (*Ledger, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := goredis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewFromClient(client, optFns...), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client goredis.UniversalClient, optFns ...func(o *Options)) *Ledger {
	opts := Options{
		TTL:       DefaultTTL,
		KeyPrefix: "channelmesh:processed:",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Ledger{client: client, opts: opts}
}

// Close closes the Redis connection.
func (l *Ledger) Close() error {
	return l.client.Close()
}

// Ping checks the Redis connection.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Ledger) key(k string) string {
	return l.opts.KeyPrefix + k
}

// Claim implements core.IdempotencyLedger.
func (l *Ledger) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(key), time.Now().UTC().Format(time.RFC3339Nano), l.opts.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	return ok, nil
}
