package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "idem:"

// reserveScript atomically claims a key: when absent it stores the pending
// record with a TTL, otherwise it returns the existing record untouched.
var reserveScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
  return existing
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return ''
`)

// RedisOption customises the RedisStore behaviour.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the key namespace used for idempotency records.
func WithKeyPrefix(prefix string) RedisOption {
	return func(store *RedisStore) {
		if prefix != "" {
			store.prefix = prefix
		}
	}
}

// RedisStore implements Store backed by Redis. Record expiry rides on the
// key TTL, so CleanupExpired has nothing to do.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Reserve ensures the key is uniquely associated with the fingerprint and returns any stored response.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	pending := redisRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      string(StatusPending),
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	payload, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	raw, err := reserveScript.Run(ctx, s.client, []string{s.key(key)}, payload, ttl.Milliseconds()).Text()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if raw == "" {
		return Reservation{State: ReservationStateNew, Record: pending.toRecord()}, nil
	}

	var record redisRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Reservation{}, fmt.Errorf("decode idempotency record: %w", err)
	}
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == string(StatusCompleted) {
		return Reservation{State: ReservationStateCompleted, Record: record.toRecord()}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record.toRecord()}, nil
}

// SaveResponse persists the completed HTTP response associated with the key.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	raw, err := s.client.Get(ctx, s.key(key)).Result()
	record := redisRecord{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	switch {
	case errors.Is(err, redis.Nil):
		// Reservation expired mid-request; store the response anyway.
	case err != nil:
		return fmt.Errorf("load idempotency record: %w", err)
	default:
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return fmt.Errorf("decode idempotency record: %w", err)
		}
		if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
	}

	record.Status = string(StatusCompleted)
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = sanitizeHeaders(resp.Headers)
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	} else {
		record.ResponseBody = nil
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}

// Release removes the reservation to allow callers to retry.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op; Redis evicts records when their TTL lapses.
func (s *RedisStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	return 0, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + compositeKey(key, "")
}

type redisRecord struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Status          string              `json:"status"`
	ResponseStatus  int                 `json:"responseStatus"`
	ResponseHeaders map[string][]string `json:"responseHeaders"`
	ResponseBody    []byte              `json:"responseBody"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

func (r redisRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
