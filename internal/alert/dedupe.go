package alert

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/formguard/internal/store"
)

// Dedupe is the cooldown gate. ShouldNotify reports true for a new key or
// one whose last send is at least the cooldown old, and records now when it
// does. Implementations must decide atomically per key.
type Dedupe interface {
	ShouldNotify(ctx context.Context, key string, now time.Time) (bool, error)
}

// StoreDedupe keeps dedupe rows in the primary store.
type StoreDedupe struct {
	store    store.AlertStore
	cooldown time.Duration
}

// NewStoreDedupe creates a store-backed gate.
func NewStoreDedupe(s store.AlertStore, cooldown time.Duration) *StoreDedupe {
	return &StoreDedupe{store: s, cooldown: cooldown}
}

// ShouldNotify implements Dedupe.
func (d *StoreDedupe) ShouldNotify(ctx context.Context, key string, now time.Time) (bool, error) {
	ok, err := d.store.TouchAlert(ctx, key, now, d.cooldown)
	if err != nil {
		return false, eris.Wrap(err, "alert: touch dedupe row")
	}
	return ok, nil
}

// redisSetter is the slice of *redis.Client the gate needs.
type redisSetter interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

const redisKeyPrefix = "formguard:alert:"

// RedisDedupe lets keys expire after the cooldown, so SET NX succeeds exactly
// when the previous send has aged out.
type RedisDedupe struct {
	client   redisSetter
	cooldown time.Duration
}

// NewRedisDedupe creates a Redis-backed gate.
func NewRedisDedupe(client redisSetter, cooldown time.Duration) *RedisDedupe {
	return &RedisDedupe{client: client, cooldown: cooldown}
}

// ShouldNotify implements Dedupe.
func (d *RedisDedupe) ShouldNotify(ctx context.Context, key string, now time.Time) (bool, error) {
	if d.cooldown <= 0 {
		return true, nil
	}
	ok, err := d.client.SetNX(ctx, redisKeyPrefix+key, now.UTC().UnixMilli(), d.cooldown).Result()
	if err != nil {
		return false, eris.Wrap(err, "alert: redis setnx")
	}
	return ok, nil
}

// ConnectRedis opens a client from a redis:// URL or a bare host:port and
// checks it with PING.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, eris.Wrap(err, "alert: parse redis url")
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "alert: ping redis")
	}
	return client, nil
}
