package cache

import (
	"context"
	"time"
)

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error

	// SetVersioned stores value unless key already holds a newer version or a
	// fence at or above version was raised for it. Reports whether it stored.
	SetVersioned(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error)
	// Fence drops key unless it holds a version above fence, and keeps rejecting
	// SetVersioned calls with version <= fence for ttl.
	Fence(ctx context.Context, key string, fence int64, ttl time.Duration) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}
