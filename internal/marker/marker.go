// Package marker holds the alerted (fixture, tier) marker set. TryMark is the
// compare-and-set that guarantees a fixture alerts at most once per tier.
package marker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rewired-gh/cornerwatch/internal/models"
)

// Set records which tiers have alerted for which fixtures.
type Set interface {
	// TryMark atomically marks (fixtureID, tier). It returns true when this call
	// created the mark and false when it already existed.
	TryMark(ctx context.Context, fixtureID int64, tier models.Tier) (bool, error)
	// Release removes a mark so the alert can be retried, e.g. after a failed send.
	Release(ctx context.Context, fixtureID int64, tier models.Tier) error
	// Clear drops every mark of a retired fixture.
	Clear(ctx context.Context, fixtureID int64) error
	IsMarked(ctx context.Context, fixtureID int64, tier models.Tier) (bool, error)
}

// Config selects and configures the backend.
type Config struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	KeyPrefix     string
}

// New builds the configured Set. The Redis backend is pinged before use.
func New(ctx context.Context, cfg Config) (Set, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedis(client, cfg.KeyPrefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown marker backend %q", cfg.Backend)
	}
}

type key struct {
	fixtureID int64
	tier      models.Tier
}

// Memory is a process-local Set.
type Memory struct {
	mu    sync.Mutex
	marks map[key]struct{}
}

// NewMemory creates an empty in-memory Set.
func NewMemory() *Memory {
	return &Memory{marks: make(map[key]struct{})}
}

func (m *Memory) TryMark(_ context.Context, fixtureID int64, tier models.Tier) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{fixtureID, tier}
	if _, ok := m.marks[k]; ok {
		return false, nil
	}
	m.marks[k] = struct{}{}
	return true, nil
}

func (m *Memory) Release(_ context.Context, fixtureID int64, tier models.Tier) error {
	m.mu.Lock()
	delete(m.marks, key{fixtureID, tier})
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context, fixtureID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tier := range models.AllTiers {
		delete(m.marks, key{fixtureID, tier})
	}
	return nil
}

func (m *Memory) IsMarked(_ context.Context, fixtureID int64, tier models.Tier) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.marks[key{fixtureID, tier}]
	return ok, nil
}

// Len returns the number of marks held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.marks)
}

const defaultPrefix = "cornerwatch:alerted"

// Redis shares marks between processes with SETNX. Marks expire after ttl so
// abandoned fixtures do not accumulate.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps an existing client. An empty prefix uses "cornerwatch:alerted".
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the Redis key for a mark.
func (r *Redis) Key(fixtureID int64, tier models.Tier) string {
	return r.prefix + ":" + strconv.FormatInt(fixtureID, 10) + ":" + string(tier)
}

func (r *Redis) TryMark(ctx context.Context, fixtureID int64, tier models.Tier) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.Key(fixtureID, tier), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set marker for fixture %d tier %s: %w", fixtureID, tier, err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, fixtureID int64, tier models.Tier) error {
	if err := r.client.Del(ctx, r.Key(fixtureID, tier)).Err(); err != nil {
		return fmt.Errorf("failed to release marker for fixture %d tier %s: %w", fixtureID, tier, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context, fixtureID int64) error {
	keys := make([]string, 0, len(models.AllTiers))
	for _, tier := range models.AllTiers {
		keys = append(keys, r.Key(fixtureID, tier))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear markers for fixture %d: %w", fixtureID, err)
	}
	return nil
}

func (r *Redis) IsMarked(ctx context.Context, fixtureID int64, tier models.Tier) (bool, error) {
	n, err := r.client.Exists(ctx, r.Key(fixtureID, tier)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check marker for fixture %d tier %s: %w", fixtureID, tier, err)
	}
	return n > 0, nil
}

// Close releases the Redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
