package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

var _ domain.SyncStore = (*Store)(nil)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func cond(id string, ts int64) domain.Condition {
	return domain.Condition{
		ID: id, Oracle: "0xo", QuestionID: "q", ArweaveHash: "h", Creator: "0xc",
		CreationTimestamp: ts, CreatedAt: time.Now(),
	}
}

func TestSyncStatusRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, err := s.GetSyncStatus(ctx, "events_sync", "conditions")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveSyncStatus(ctx, domain.SyncStatus{
		ServiceName: "events_sync", SubgraphName: "conditions",
		Status: domain.SyncStateRunning, UpdatedAt: updated,
	}))
	st, err := s.GetSyncStatus(ctx, "events_sync", "conditions")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateRunning, st.Status)
	assert.Nil(t, st.Cursor)
	assert.True(t, updated.Equal(st.UpdatedAt))

	require.NoError(t, s.SaveSyncStatus(ctx, domain.SyncStatus{
		ServiceName: "events_sync", SubgraphName: "conditions",
		Status: domain.SyncStateError, ErrorMessage: "boom", TotalProcessed: 4,
		Cursor:    &domain.SyncCursor{ConditionID: "0xa", CreationTimestamp: 9},
		UpdatedAt: updated.Add(time.Minute),
	}))
	st, err = s.GetSyncStatus(ctx, "events_sync", "conditions")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateError, st.Status)
	assert.Equal(t, "boom", st.ErrorMessage)
	assert.Equal(t, 4, st.TotalProcessed)
	assert.Equal(t, &domain.SyncCursor{ConditionID: "0xa", CreationTimestamp: 9}, st.Cursor)

	all, err := s.ListSyncStatuses(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLatestCursorOrdersByTimestampThenID(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	latest, err := s.LatestCursor(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for _, c := range []domain.Condition{cond("0xb", 20), cond("0xa", 20), cond("0xz", 10)} {
		require.NoError(t, s.UpsertCondition(ctx, c))
	}
	require.NoError(t, s.UpsertCondition(ctx, cond("0xb", 99)), "existing condition is not rewritten")

	latest, err = s.LatestCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, &domain.SyncCursor{ConditionID: "0xb", CreationTimestamp: 20}, latest)
}

func TestCatalog(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, err := s.GetEventBySlug(ctx, "e")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ev, err := s.CreateEvent(ctx, domain.Event{Slug: "e", Title: "E", IconURL: "https://cdn/e", ShowMarketIcons: true})
	require.NoError(t, err)
	assert.NotZero(t, ev.ID)
	assert.True(t, ev.ShowMarketIcons)
	assert.Equal(t, "https://cdn/e", ev.IconURL)

	dup, err := s.CreateEvent(ctx, domain.Event{Slug: "e", Title: "other"})
	require.NoError(t, err)
	assert.Equal(t, ev.ID, dup.ID)
	assert.Equal(t, "E", dup.Title)

	t1, err := s.UpsertTag(ctx, domain.Tag{Name: "Politics", Slug: "politics"})
	require.NoError(t, err)
	t2, err := s.UpsertTag(ctx, domain.Tag{Name: "POLITICS", Slug: "politics"})
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
	require.NoError(t, s.LinkEventTag(ctx, ev.ID, t1.ID))
	require.NoError(t, s.LinkEventTag(ctx, ev.ID, t1.ID))

	require.NoError(t, s.UpsertCondition(ctx, cond("0xa", 1)))
	outcomes := []domain.Outcome{
		{ConditionID: "0xa", Index: 0, Text: "Yes"},
		{ConditionID: "0xa", Index: 1, Text: "No"},
	}
	mkt := domain.Market{ConditionID: "0xa", EventID: ev.ID, Name: "M", Slug: "m"}
	require.NoError(t, s.CreateMarket(ctx, mkt, outcomes))
	require.NoError(t, s.CreateMarket(ctx, mkt, []domain.Outcome{{ConditionID: "0xa", Index: 2, Text: "Maybe"}}))

	got, err := s.Outcomes(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, outcomes, got, "second create is a no-op")

	exists, err := s.MarketExists(ctx, "0xa")
	require.NoError(t, err)
	assert.True(t, exists)

	found, err := s.ExistingMarkets(ctx, []string{"0xa", "0xb"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"0xa": true}, found)

	empty, err := s.ExistingMarkets(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
