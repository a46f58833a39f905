package preference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a farmer has no stored preference.
var ErrNotFound = errors.New("preference not found")

// Store persists per-farmer onboarding preferences.
type Store interface {
	Language(ctx context.Context, farmerID string) (string, error)
	SetLanguage(ctx context.Context, farmerID, language string) error
}

// MemoryStore keeps preferences for the lifetime of the process.
type MemoryStore struct {
	mu        sync.RWMutex
	languages map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{languages: make(map[string]string)}
}

func (s *MemoryStore) Language(_ context.Context, farmerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lang, ok := s.languages[farmerID]
	if !ok {
		return "", ErrNotFound
	}
	return lang, nil
}

func (s *MemoryStore) SetLanguage(_ context.Context, farmerID, language string) error {
	s.mu.Lock()
	s.languages[farmerID] = language
	s.mu.Unlock()
	return nil
}

const keyPrefix = "kisan:pref:"

// RedisStore keeps preferences in a Redis hash per farmer.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Language(ctx context.Context, farmerID string) (string, error) {
	lang, err := s.rdb.HGet(ctx, keyPrefix+farmerID, "language").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load preference: %w", err)
	}
	return lang, nil
}

func (s *RedisStore) SetLanguage(ctx context.Context, farmerID, language string) error {
	if err := s.rdb.HSet(ctx, keyPrefix+farmerID, "language", language).Err(); err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}
