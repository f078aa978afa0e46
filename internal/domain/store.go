package domain

import "context"

// SyncStatusStore persists the per-job sync_status row.
type SyncStatusStore interface {
	// GetSyncStatus returns ErrNotFound when the job has never run.
	GetSyncStatus(ctx context.Context, serviceName, subgraphName string) (SyncStatus, error)
	SaveSyncStatus(ctx context.Context, status SyncStatus) error
}

// SyncStatusLister lists every persisted sync_status row.
type SyncStatusLister interface {
	ListSyncStatuses(ctx context.Context) ([]SyncStatus, error)
}

// ConditionStore persists on-chain conditions.
type ConditionStore interface {
	// LatestCursor returns the cursor of the most recently created stored
	// condition, or nil when no condition has been stored yet.
	LatestCursor(ctx context.Context) (*SyncCursor, error)
	UpsertCondition(ctx context.Context, c Condition) error
	// ExistingMarkets returns the subset of ids that already have a
	// materialized market.
	ExistingMarkets(ctx context.Context, conditionIDs []string) (map[string]bool, error)
}

// CatalogStore persists events, markets, outcomes and tags.
type CatalogStore interface {
	// GetEventBySlug returns ErrNotFound when no event has the slug.
	GetEventBySlug(ctx context.Context, slug string) (Event, error)
	// CreateEvent inserts e and returns the stored row. When another writer
	// created the slug first, the existing row is returned.
	CreateEvent(ctx context.Context, e Event) (Event, error)
	// UpsertTag returns the tag stored under t.Slug, creating it if needed.
	UpsertTag(ctx context.Context, t Tag) (Tag, error)
	LinkEventTag(ctx context.Context, eventID, tagID int64) error
	MarketExists(ctx context.Context, conditionID string) (bool, error)
	// CreateMarket inserts the market and its outcomes atomically. It is a
	// no-op when the market already exists.
	CreateMarket(ctx context.Context, m Market, outcomes []Outcome) error
}

// SyncStore bundles every store the condition sync writes to.
type SyncStore interface {
	SyncStatusStore
	ConditionStore
	CatalogStore
}
