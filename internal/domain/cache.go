package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of progress events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// MetadataCache stores decoded metadata documents by content hash.
type MetadataCache interface {
	// GetMetadata returns ErrNotFound on a cache miss.
	GetMetadata(ctx context.Context, hash string) (Metadata, error)
	SetMetadata(ctx context.Context, hash string, m Metadata) error
}
