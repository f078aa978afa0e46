package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

var _ domain.SyncStore = (*Store)(nil)
var _ domain.SyncStatusLister = (*Store)(nil)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/hub?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "hub", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/hub?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "hub", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullString(""))
	assert.Equal(t, "x", *nullString("x"))
	assert.Equal(t, "", derefString(nil))

	id, ts := cursorColumns(nil)
	assert.Nil(t, id)
	assert.Nil(t, ts)
	id, ts = cursorColumns(&domain.SyncCursor{ConditionID: "0xa", CreationTimestamp: 5})
	assert.Equal(t, "0xa", *id)
	assert.EqualValues(t, 5, *ts)
}

// TestStoreIntegration runs against a real database when
// PREDICTIONHUB_TEST_DATABASE_DSN is set.
func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("PREDICTIONHUB_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("PREDICTIONHUB_TEST_DATABASE_DSN not set")
	}
	ctx := context.Background()

	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.RunMigrations(ctx))
	require.NoError(t, client.RunMigrations(ctx), "migrations are idempotent")

	_, err = client.Pool().Exec(ctx, `TRUNCATE event_tags, tags, outcomes, markets, events, conditions, sync_status`)
	require.NoError(t, err)

	s := client.Store()
	now := time.Now().UTC().Truncate(time.Second)

	_, err = s.GetSyncStatus(ctx, "svc", "sub")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cursor := &domain.SyncCursor{ConditionID: "0xb", CreationTimestamp: 20}
	require.NoError(t, s.SaveSyncStatus(ctx, domain.SyncStatus{
		ServiceName: "svc", SubgraphName: "sub", Status: domain.SyncStateCompleted,
		TotalProcessed: 3, Cursor: cursor, UpdatedAt: now,
	}))
	st, err := s.GetSyncStatus(ctx, "svc", "sub")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateCompleted, st.Status)
	assert.Equal(t, cursor, st.Cursor)

	latest, err := s.LatestCursor(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for _, c := range []domain.Condition{
		{ID: "0xa", Oracle: "o", QuestionID: "q", ArweaveHash: "h", Creator: "c", CreationTimestamp: 20, CreatedAt: now},
		{ID: "0xb", Oracle: "o", QuestionID: "q", ArweaveHash: "h", Creator: "c", CreationTimestamp: 20, CreatedAt: now},
		{ID: "0xc", Oracle: "o", QuestionID: "q", ArweaveHash: "h", Creator: "c", CreationTimestamp: 10, CreatedAt: now},
	} {
		require.NoError(t, s.UpsertCondition(ctx, c))
	}
	latest, err = s.LatestCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, cursor, latest)

	ev, err := s.CreateEvent(ctx, domain.Event{Slug: "e", Title: "E", CreatedAt: now})
	require.NoError(t, err)
	again, err := s.CreateEvent(ctx, domain.Event{Slug: "e", Title: "other", CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, ev.ID, again.ID)
	assert.Equal(t, "E", again.Title)

	tag1, err := s.UpsertTag(ctx, domain.Tag{Name: "Politics", Slug: "politics"})
	require.NoError(t, err)
	tag2, err := s.UpsertTag(ctx, domain.Tag{Name: "politics", Slug: "politics"})
	require.NoError(t, err)
	assert.Equal(t, tag1, tag2)
	require.NoError(t, s.LinkEventTag(ctx, ev.ID, tag1.ID))
	require.NoError(t, s.LinkEventTag(ctx, ev.ID, tag1.ID))

	m := domain.Market{ConditionID: "0xa", EventID: ev.ID, Name: "M", Slug: "m", CreatedAt: now}
	outcomes := []domain.Outcome{{ConditionID: "0xa", Index: 0, Text: "Yes"}, {ConditionID: "0xa", Index: 1, Text: "No"}}
	require.NoError(t, s.CreateMarket(ctx, m, outcomes))
	require.NoError(t, s.CreateMarket(ctx, m, outcomes))

	exists, err := s.MarketExists(ctx, "0xa")
	require.NoError(t, err)
	assert.True(t, exists)

	found, err := s.ExistingMarkets(ctx, []string{"0xa", "0xb", "0xz"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"0xa": true}, found)

	all, err := s.ListSyncStatuses(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
