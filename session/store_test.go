package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest exposes both store interfaces plus a way to move time forward
type storeUnderTest struct {
	states   StateStore
	sessions SessionStore
	advance  func(time.Duration)
}

func newStores(t *testing.T) map[string]storeUnderTest {
	t.Helper()

	mem := NewMemoryStore()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mem.now = func() time.Time { return clock }

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rs := NewRedisStoreWithClient(client, "portal:test:")

	return map[string]storeUnderTest{
		"memory": {states: mem, sessions: mem, advance: func(d time.Duration) { clock = clock.Add(d) }},
		"redis":  {states: rs, sessions: rs, advance: mr.FastForward},
	}
}

func TestStores_StateIsSingleUse(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.states.SaveState(ctx, "state-1", 5*time.Minute))

			ok, err := s.states.ConsumeState(ctx, "state-1")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.states.ConsumeState(ctx, "state-1")
			require.NoError(t, err)
			assert.False(t, ok, "replayed state must be rejected")

			ok, err = s.states.ConsumeState(ctx, "never-issued")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStores_StateExpires(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.states.SaveState(ctx, "state-1", 5*time.Minute))

			s.advance(6 * time.Minute)

			ok, err := s.states.ConsumeState(ctx, "state-1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStores_Sessions(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

			require.NoError(t, s.sessions.Create(ctx, "sid-1", Record{Username: "ada", CreatedAt: created}, time.Hour))

			rec, err := s.sessions.Get(ctx, "sid-1")
			require.NoError(t, err)
			assert.Equal(t, "ada", rec.Username)
			assert.True(t, created.Equal(rec.CreatedAt))

			_, err = s.sessions.Get(ctx, "sid-unknown")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.sessions.Delete(ctx, "sid-1"))
			require.NoError(t, s.sessions.Delete(ctx, "sid-1"))
			_, err = s.sessions.Get(ctx, "sid-1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.sessions.Create(ctx, "sid-2", Record{Username: "grace"}, time.Hour))
			s.advance(2 * time.Hour)
			_, err = s.sessions.Get(ctx, "sid-2")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStore_SweepsExpiredEntries(t *testing.T) {
	mem := NewMemoryStore()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mem.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, mem.SaveState(ctx, "a", time.Minute))
	require.NoError(t, mem.Create(ctx, "s", Record{Username: "ada"}, time.Minute))
	states, sessions := mem.Len()
	assert.Equal(t, 1, states)
	assert.Equal(t, 1, sessions)

	clock = clock.Add(2 * time.Minute)
	states, sessions = mem.Len()
	assert.Equal(t, 0, states)
	assert.Equal(t, 0, sessions)
}

func TestMemoryStore_SweepsPeriodically(t *testing.T) {
	mem := NewMemoryStore()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mem.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, mem.SaveState(ctx, "stale", time.Second))
	clock = clock.Add(time.Minute)

	// Writes between sweeps leave the expired entry in place
	for i := 2; i < sweepEvery; i++ {
		require.NoError(t, mem.SaveState(ctx, fmt.Sprintf("s-%d", i), time.Hour))
	}
	assert.Contains(t, mem.states, "stale")

	require.NoError(t, mem.SaveState(ctx, "trigger", time.Hour))
	assert.NotContains(t, mem.states, "stale")
	assert.Len(t, mem.states, sweepEvery-1)
}

func TestMemoryStore_PendingStateLimit(t *testing.T) {
	mem := NewMemoryStore()
	mem.maxStates = 2
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mem.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, mem.SaveState(ctx, "a", time.Minute))
	require.NoError(t, mem.SaveState(ctx, "b", time.Minute))
	assert.ErrorIs(t, mem.SaveState(ctx, "c", time.Minute), ErrTooManyStates)

	// Consuming or expiring a state frees room
	ok, err := mem.ConsumeState(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mem.SaveState(ctx, "c", time.Minute))

	clock = clock.Add(2 * time.Minute)
	require.NoError(t, mem.SaveState(ctx, "d", time.Minute))
	states, _ := mem.Len()
	assert.Equal(t, 1, states)
}

func TestNewRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr()+"/0", "portal:")
	require.NoError(t, err)
	defer store.Close()
	assert.NoError(t, store.Ping(context.Background()))

	require.NoError(t, store.SaveState(context.Background(), "s1", time.Minute))
	assert.True(t, mr.Exists("portal:state:s1"))

	_, err = NewRedisStore(context.Background(), "not a url", "portal:")
	assert.Error(t, err)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisStoreWithClient(client, "portal:")
	mr.Close()

	_, err := store.ConsumeState(context.Background(), "s1")
	assert.Error(t, err)

	_, err = store.Get(context.Background(), "sid")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
