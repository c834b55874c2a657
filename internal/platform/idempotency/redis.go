package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix   = "idempotency:"
	defaultRedisAttempts = 5
)

// ErrReservationContended is returned when optimistic Redis transactions keep losing the race.
var ErrReservationContended = errors.New("idempotency: reservation contended")

// RedisOption customises the RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// RedisStore keeps records as JSON values whose Redis TTL matches ExpiresAt, so expired keys vanish on
// their own. Reserve and SaveResponse use WATCH/MULTI so concurrent instances never both own a key.
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	attempts int
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	store := &RedisStore{client: client, prefix: defaultRedisPrefix, attempts: defaultRedisAttempts}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	redisKey := s.key(key)
	var result Reservation
	err := s.watch(ctx, redisKey, func(tx *redis.Tx) error {
		existing, err := s.load(ctx, tx, redisKey)
		if err != nil {
			return err
		}
		reservation, claim, err := decideReservation(existing, key, fingerprint, now.UTC(), ttl)
		if err != nil {
			return err
		}
		if claim != nil {
			if err := s.write(ctx, tx, redisKey, *claim, now.UTC()); err != nil {
				return err
			}
		}
		result = reservation
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return result, nil
}

// SaveResponse implements Store.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	redisKey := s.key(key)
	return s.watch(ctx, redisKey, func(tx *redis.Tx) error {
		existing, err := s.load(ctx, tx, redisKey)
		if err != nil {
			return err
		}
		record, err := completeRecord(existing, key, fingerprint, resp, now.UTC(), ttl)
		if err != nil {
			return err
		}
		return s.write(ctx, tx, redisKey, record, now.UTC())
	})
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis release: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis evicts expired keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + recordID(key)
}

func (s *RedisStore) watch(ctx context.Context, redisKey string, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < s.attempts; attempt++ {
		err := s.client.Watch(ctx, fn, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrFingerprintMismatch) {
			return fmt.Errorf("idempotency: redis: %w", err)
		}
		return err
	}
	return ErrReservationContended
}

func (s *RedisStore) load(ctx context.Context, tx *redis.Tx, redisKey string) (*Record, error) {
	raw, err := tx.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) write(ctx context.Context, tx *redis.Tx, redisKey string, record Record, now time.Time) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	expiry := record.ExpiresAt.Sub(now)
	if expiry <= 0 {
		expiry = time.Second
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKey, payload, expiry)
		return nil
	})
	return err
}
