package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newRedisTracker(t *testing.T, clock *fakeClock) *RedisTracker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTracker(client, 30*time.Second).WithClock(clock.Now)
}

// trackerCases runs the same behaviour checks against every implementation.
func trackerCases(t *testing.T, build func(t *testing.T, clock *fakeClock) Tracker) {
	ctx := context.Background()

	t.Run("first heartbeat activates", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		tr := build(t, clock)
		cook := Preparer{ID: uuid.New(), Kind: enum.KindDish}

		became, err := tr.Heartbeat(ctx, cook)
		require.NoError(t, err)
		assert.True(t, became)

		active, err := tr.IsActive(ctx, cook)
		require.NoError(t, err)
		assert.True(t, active)

		clock.Advance(10 * time.Second)
		became, err = tr.Heartbeat(ctx, cook)
		require.NoError(t, err)
		assert.False(t, became, "repeat beat inside the window")
	})

	t.Run("lapsed heartbeat demotes", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		tr := build(t, clock)
		cook := Preparer{ID: uuid.New(), Kind: enum.KindDish}

		_, err := tr.Heartbeat(ctx, cook)
		require.NoError(t, err)

		clock.Advance(31 * time.Second)
		active, err := tr.IsActive(ctx, cook)
		require.NoError(t, err)
		assert.False(t, active)

		ids, err := tr.ListActive(ctx, enum.KindDish)
		require.NoError(t, err)
		assert.Empty(t, ids)

		became, err := tr.Heartbeat(ctx, cook)
		require.NoError(t, err)
		assert.True(t, became, "beat after lapse re-activates")
	})

	t.Run("list is scoped by kind", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		tr := build(t, clock)
		cookA := Preparer{ID: uuid.New(), Kind: enum.KindDish}
		cookB := Preparer{ID: uuid.New(), Kind: enum.KindDish}
		bartender := Preparer{ID: uuid.New(), Kind: enum.KindDrink}

		for _, p := range []Preparer{cookA, cookB, bartender} {
			_, err := tr.Heartbeat(ctx, p)
			require.NoError(t, err)
		}

		dish, err := tr.ListActive(ctx, enum.KindDish)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{cookA.ID, cookB.ID}, dish)

		drink, err := tr.ListActive(ctx, enum.KindDrink)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{bartender.ID}, drink)
	})

	t.Run("unknown preparer is inactive", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		tr := build(t, clock)

		active, err := tr.IsActive(ctx, Preparer{ID: uuid.New(), Kind: enum.KindDrink})
		require.NoError(t, err)
		assert.False(t, active)
	})
}

func TestRedisTracker(t *testing.T) {
	trackerCases(t, func(t *testing.T, clock *fakeClock) Tracker {
		return newRedisTracker(t, clock)
	})
}

func TestMemoryTracker(t *testing.T) {
	trackerCases(t, func(t *testing.T, clock *fakeClock) Tracker {
		return NewMemoryTracker(30 * time.Second).WithClock(clock.Now)
	})
}

func TestRedisTracker_TrimsStaleMembers(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tr := newRedisTracker(t, clock)

	stale := Preparer{ID: uuid.New(), Kind: enum.KindDish}
	_, err := tr.Heartbeat(ctx, stale)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = tr.Heartbeat(ctx, Preparer{ID: uuid.New(), Kind: enum.KindDish})
	require.NoError(t, err)

	n, err := tr.Client.ZCard(ctx, tr.key(enum.KindDish)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
