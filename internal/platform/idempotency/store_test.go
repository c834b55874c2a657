package idempotency

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func storesUnderTest(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}
}

func TestStoreReservationLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := fixedTime

			first, err := store.Reserve(ctx, "order-1|session:user-1", "fp-1", now, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, ReservationStateNew, first.State)
			assert.Equal(t, StatusPending, first.Record.Status)

			second, err := store.Reserve(ctx, "order-1|session:user-1", "fp-1", now.Add(time.Second), time.Hour)
			require.NoError(t, err)
			assert.Equal(t, ReservationStatePending, second.State)

			_, err = store.Reserve(ctx, "order-1|session:user-1", "fp-other", now, time.Hour)
			assert.ErrorIs(t, err, ErrFingerprintMismatch)

			headers := http.Header{"Content-Type": {"application/json"}, "Content-Length": {"11"}}
			require.NoError(t, store.SaveResponse(ctx, "order-1|session:user-1", "fp-1", Response{
				Status:  http.StatusCreated,
				Headers: headers,
				Body:    []byte(`{"ok":true}`),
			}, now.Add(2*time.Second), time.Hour))

			replay, err := store.Reserve(ctx, "order-1|session:user-1", "fp-1", now.Add(3*time.Second), time.Hour)
			require.NoError(t, err)
			assert.Equal(t, ReservationStateCompleted, replay.State)
			assert.Equal(t, http.StatusCreated, replay.Record.ResponseStatus)
			assert.Equal(t, `{"ok":true}`, string(replay.Record.ResponseBody))
			assert.Equal(t, []string{"application/json"}, replay.Record.ResponseHeaders["Content-Type"])
			assert.NotContains(t, replay.Record.ResponseHeaders, "Content-Length")

			require.NoError(t, store.Release(ctx, "order-1|session:user-1", "fp-1"))
			fresh, err := store.Reserve(ctx, "order-1|session:user-1", "fp-other", now.Add(4*time.Second), time.Hour)
			require.NoError(t, err)
			assert.Equal(t, ReservationStateNew, fresh.State)
		})
	}
}

func TestStoreConcurrentReserveHasSingleOwner(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				owners int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := store.Reserve(context.Background(), "race", "fp", fixedTime, time.Hour)
					if err != nil {
						return
					}
					if res.State == ReservationStateNew {
						mu.Lock()
						owners++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, owners)
		})
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := store.Reserve(ctx, "a", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	_, err = store.Reserve(ctx, "b", "fp", fixedTime, time.Hour)
	require.NoError(t, err)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	res, err := store.Reserve(ctx, "b", "fp", fixedTime.Add(2*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, res.State)
}

func TestRedisStoreExpiresWithTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "ttl-key", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 1)
	assert.Equal(t, time.Minute, mr.TTL(mr.Keys()[0]))

	mr.FastForward(2 * time.Minute)
	assert.Empty(t, mr.Keys())

	res, err := store.Reserve(ctx, "ttl-key", "other-fp", fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	removed, err := store.CleanupExpired(ctx, fixedTime, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
