package domain

import (
	"context"
	"time"
)

// Cache holds finished run reports for fast GET /runs/{id} reads and the
// per-tenant upload counters. Keys are namespaced by tenant.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, tenantID, key string) ([]byte, error)
	Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID, key string) error

	// GetReport returns nil, nil when the run's report is not cached.
	GetReport(ctx context.Context, tenantID, runID string) (*Report, error)
	SetReport(ctx context.Context, tenantID, runID string, report *Report, ttl time.Duration) error

	// IncrementCounter bumps a fixed-window counter and returns the count
	// within the current window. The window starts at the first increment.
	IncrementCounter(ctx context.Context, tenantID, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Type string // "memory" or "redis"

	// In-process LRU, also the L1 of the two-phase cache.
	LocalMaxSize int
	LocalTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase fronts Redis with the local LRU. Counters always go to Redis.
	EnableTwoPhase bool
}
