package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/redis/go-redis/v9"
)

// RedisTracker keeps one sorted set per kind. Members are preparer ids and
// scores are the unix millisecond time of the last heartbeat, so several
// server instances share a single view of who is online.
type RedisTracker struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string

	now func() time.Time
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{Client: client, TTL: ttl, Prefix: "kds:presence:", now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (t *RedisTracker) WithClock(now func() time.Time) *RedisTracker {
	t.now = now
	return t
}

func (t *RedisTracker) key(kind enum.Kind) string {
	return t.Prefix + strings.ToLower(string(kind))
}

func (t *RedisTracker) cutoff() int64 {
	return t.now().Add(-t.TTL).UnixMilli()
}

func (t *RedisTracker) Heartbeat(ctx context.Context, p Preparer) (bool, error) {
	key := t.key(p.Kind)
	now := t.now().UnixMilli()
	cutoff := t.cutoff()

	pipe := t.Client.TxPipeline()
	prev := pipe.ZScore(ctx, key, p.ID.String())
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: p.ID.String()})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("presence heartbeat: %w", err)
	}

	score, err := prev.Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("presence heartbeat: %w", err)
	}
	return int64(score) < cutoff, nil
}

func (t *RedisTracker) IsActive(ctx context.Context, p Preparer) (bool, error) {
	score, err := t.Client.ZScore(ctx, t.key(p.Kind), p.ID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return int64(score) >= t.cutoff(), nil
}

func (t *RedisTracker) ListActive(ctx context.Context, kind enum.Kind) ([]uuid.UUID, error) {
	members, err := t.Client.ZRangeByScore(ctx, t.key(kind), &redis.ZRangeBy{
		Min: strconv.FormatInt(t.cutoff(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
