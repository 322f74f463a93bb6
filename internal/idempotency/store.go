package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	responseKeyPrefix = "idempotency:"
	lockKeyPrefix     = "idempotency:lock:"

	// ProcessingLockTTL bounds how long a request can hold the processing
	// lock before a retry is allowed through.
	ProcessingLockTTL = 60 * time.Second
)

// Result is the outcome of an idempotency check.
type Result struct {
	// IsNew is true when no cached response exists for the key.
	IsNew bool
	// CachedResponse is the stored response body for a replayed key.
	CachedResponse []byte
}

// Store caches responses of idempotent HTTP operations and serializes
// concurrent retries of the same key with a short-lived processing lock.
type Store interface {
	Check(ctx context.Context, key string) (*Result, error)
	StoreResponse(ctx context.Context, key string, body []byte, ttl time.Duration) error
	AcquireProcessingLock(ctx context.Context, key string) (bool, error)
	ReleaseProcessingLock(ctx context.Context, key string) error
}

// GenerateKey derives a fallback idempotency key for clients that omit the
// Idempotency-Key header: sha256 over body, path, and a one-minute time
// bucket. Two identical requests in the same minute collapse to one key.
// This is a weak stand-in; callers should send an explicit key.
func GenerateKey(body []byte, path string, now time.Time) string {
	h := sha256.New()
	h.Write(body)
	h.Write([]byte(path))
	h.Write([]byte(fmt.Sprintf("%d", now.Unix()/60)))
	return hex.EncodeToString(h.Sum(nil))
}

// RedisStore implements Store on Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed idempotency store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Check looks up a cached response for the key.
func (s *RedisStore) Check(ctx context.Context, key string) (*Result, error) {
	body, err := s.client.Get(ctx, responseKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return &Result{IsNew: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}
	return &Result{IsNew: false, CachedResponse: body}, nil
}

// StoreResponse caches the response body for replays of the key.
func (s *RedisStore) StoreResponse(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, responseKeyPrefix+key, body, ttl).Err(); err != nil {
		return fmt.Errorf("store idempotent response: %w", err)
	}
	return nil
}

// AcquireProcessingLock claims the in-flight marker for the key.
func (s *RedisStore) AcquireProcessingLock(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKeyPrefix+key, "1", ProcessingLockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire processing lock: %w", err)
	}
	return ok, nil
}

// ReleaseProcessingLock clears the in-flight marker.
func (s *RedisStore) ReleaseProcessingLock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, lockKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release processing lock: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu        sync.Mutex
	responses map[string]memoryEntry
	locks     map[string]time.Time
	clock     func() time.Time
}

type memoryEntry struct {
	body      []byte
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		responses: make(map[string]memoryEntry),
		locks:     make(map[string]time.Time),
		clock:     time.Now,
	}
}

// Check looks up a cached response for the key.
func (s *MemoryStore) Check(_ context.Context, key string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.responses[key]
	if !ok || s.clock().After(entry.expiresAt) {
		delete(s.responses, key)
		return &Result{IsNew: true}, nil
	}
	return &Result{IsNew: false, CachedResponse: entry.body}, nil
}

// StoreResponse caches the response body for replays of the key.
func (s *MemoryStore) StoreResponse(_ context.Context, key string, body []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[key] = memoryEntry{body: body, expiresAt: s.clock().Add(ttl)}
	return nil
}

// AcquireProcessingLock claims the in-flight marker for the key.
func (s *MemoryStore) AcquireProcessingLock(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if expiry, ok := s.locks[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.locks[key] = now.Add(ProcessingLockTTL)
	return true, nil
}

// ReleaseProcessingLock clears the in-flight marker.
func (s *MemoryStore) ReleaseProcessingLock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}
