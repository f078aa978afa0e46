package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// MetadataTTL bounds how long a decoded document is kept. Documents are
// content-addressed, so the TTL only limits memory use.
const MetadataTTL = 24 * time.Hour

// MetadataCache implements domain.MetadataCache.
//
// Key schema:
//
//	metadata:{hash} - JSON-encoded domain.Metadata
type MetadataCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMetadataCache creates a MetadataCache backed by c.
func NewMetadataCache(c *Client) *MetadataCache {
	return &MetadataCache{rdb: c.Underlying(), ttl: MetadataTTL}
}

func metadataKey(hash string) string { return "metadata:" + hash }

// GetMetadata returns domain.ErrNotFound on a miss.
func (mc *MetadataCache) GetMetadata(ctx context.Context, hash string) (domain.Metadata, error) {
	data, err := mc.rdb.Get(ctx, metadataKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Metadata{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("redis: get metadata %s: %w", hash, err)
	}

	var m domain.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Metadata{}, fmt.Errorf("redis: decode metadata %s: %w", hash, err)
	}
	return m, nil
}

// SetMetadata stores m under hash.
func (mc *MetadataCache) SetMetadata(ctx context.Context, hash string, m domain.Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal metadata %s: %w", hash, err)
	}
	if err := mc.rdb.Set(ctx, metadataKey(hash), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set metadata %s: %w", hash, err)
	}
	return nil
}

var _ domain.MetadataCache = (*MetadataCache)(nil)
