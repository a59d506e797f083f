package cache

import (
	"context"
	"time"
)

// EntityCache caches serialized entity payloads keyed by
// "<entityType>:<entityId>". Entries are invalidated whenever a sync
// batch touches the entity.
type EntityCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopEntityCache struct{}

func (NoopEntityCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopEntityCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (NoopEntityCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

func Key(entityType, entityID string) string {
	return entityType + ":" + entityID
}
