package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

const (
	allowed    = "0xallowed"
	disallowed = "0xother"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rawCondition builds a fully populated upstream record.
func rawCondition(id, ts, creator string) domain.RawCondition {
	return domain.RawCondition{
		ID:                id,
		Oracle:            "0xoracle",
		QuestionID:        "q-" + id,
		ArweaveHash:       "hash-" + id,
		Creator:           creator,
		CreationTimestamp: ts,
	}
}

// keysetSource mimics the subgraph: records sorted by (ts, id) and filtered
// strictly after the cursor.
type keysetSource struct {
	mu      sync.Mutex
	records []domain.RawCondition
	calls   []*domain.SyncCursor
	err     error
}

func (s *keysetSource) FetchConditions(_ context.Context, cursor *domain.SyncCursor, first int) ([]domain.RawCondition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cursor)
	if s.err != nil {
		return nil, s.err
	}

	var out []domain.RawCondition
	for _, r := range s.records {
		if cursor != nil {
			ts, err := strconv.ParseInt(r.CreationTimestamp, 10, 64)
			if err != nil {
				continue
			}
			if !cursor.Less(domain.SyncCursor{ConditionID: r.ID, CreationTimestamp: ts}) {
				continue
			}
		}
		out = append(out, r)
		if len(out) == first {
			break
		}
	}
	return out, nil
}

// fixedSource returns the same page on every call.
type fixedSource struct {
	page  []domain.RawCondition
	calls int
}

func (s *fixedSource) FetchConditions(context.Context, *domain.SyncCursor, int) ([]domain.RawCondition, error) {
	s.calls++
	return s.page, nil
}

// memStore is an in-memory domain.SyncStore that counts catalog writes.
type memStore struct {
	mu          sync.Mutex
	status      map[string]domain.SyncStatus
	conditions  map[string]domain.Condition
	events      map[string]domain.Event
	markets     map[string]domain.Market
	outcomes    map[string][]domain.Outcome
	tags        map[string]domain.Tag
	links       map[[2]int64]bool
	nextID      int64
	rowWrites   int
	statusSaves []domain.SyncStatus
	existCalls  []int
}

func newMemStore() *memStore {
	return &memStore{
		status:     map[string]domain.SyncStatus{},
		conditions: map[string]domain.Condition{},
		events:     map[string]domain.Event{},
		markets:    map[string]domain.Market{},
		outcomes:   map[string][]domain.Outcome{},
		tags:       map[string]domain.Tag{},
		links:      map[[2]int64]bool{},
	}
}

func statusKey(service, subgraph string) string { return service + "/" + subgraph }

func (m *memStore) GetSyncStatus(_ context.Context, service, subgraph string) (domain.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[statusKey(service, subgraph)]
	if !ok {
		return domain.SyncStatus{}, domain.ErrNotFound
	}
	return st, nil
}

func (m *memStore) SaveSyncStatus(_ context.Context, st domain.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[statusKey(st.ServiceName, st.SubgraphName)] = st
	m.statusSaves = append(m.statusSaves, st)
	return nil
}

func (m *memStore) LatestCursor(context.Context) (*domain.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.SyncCursor
	for _, c := range m.conditions {
		cur := domain.SyncCursor{ConditionID: c.ID, CreationTimestamp: c.CreationTimestamp}
		if latest == nil || latest.Less(cur) {
			latest = &cur
		}
	}
	return latest, nil
}

func (m *memStore) UpsertCondition(_ context.Context, c domain.Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conditions[c.ID]; !ok {
		m.conditions[c.ID] = c
	}
	return nil
}

func (m *memStore) ExistingMarkets(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existCalls = append(m.existCalls, len(ids))
	out := map[string]bool{}
	for _, id := range ids {
		if _, ok := m.markets[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memStore) GetEventBySlug(_ context.Context, slug string) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[slug]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return e, nil
}

func (m *memStore) CreateEvent(_ context.Context, e domain.Event) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.events[e.Slug]; ok {
		return existing, nil
	}
	m.nextID++
	e.ID = m.nextID
	m.events[e.Slug] = e
	m.rowWrites++
	return e, nil
}

func (m *memStore) UpsertTag(_ context.Context, t domain.Tag) (domain.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tags[t.Slug]; ok {
		return existing, nil
	}
	m.nextID++
	t.ID = m.nextID
	m.tags[t.Slug] = t
	return t, nil
}

func (m *memStore) LinkEventTag(_ context.Context, eventID, tagID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[[2]int64{eventID, tagID}] = true
	return nil
}

func (m *memStore) MarketExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.markets[id]
	return ok, nil
}

func (m *memStore) CreateMarket(_ context.Context, mk domain.Market, outcomes []domain.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markets[mk.ConditionID]; ok {
		return nil
	}
	m.markets[mk.ConditionID] = mk
	m.outcomes[mk.ConditionID] = outcomes
	m.rowWrites += 1 + len(outcomes)
	return nil
}

func (m *memStore) marketIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.markets))
	for id := range m.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// fakeMetadata serves a document per hash; unknown hashes fail.
type fakeMetadata struct {
	docs map[string]domain.Metadata
}

func (f *fakeMetadata) Fetch(_ context.Context, hash string) (domain.Metadata, error) {
	d, ok := f.docs[hash]
	if !ok {
		return domain.Metadata{}, fmt.Errorf("gateway: %s: %w", hash, domain.ErrNotFound)
	}
	return d, nil
}

func docFor(id, eventSlug string, tags ...string) domain.Metadata {
	return domain.Metadata{
		Name:     "Market " + id,
		Slug:     "market-" + id,
		Icon:     "icon-" + id,
		Outcomes: []domain.MetadataOutcome{{Outcome: "Yes"}, {Outcome: "No"}},
		Event: &domain.EventMetadata{
			Slug:  eventSlug,
			Title: "Event " + eventSlug,
			Icon:  "event-icon",
			Tags:  tags,
		},
	}
}

// metadataFor returns docs for every record, all under one event.
func metadataFor(records ...domain.RawCondition) *fakeMetadata {
	f := &fakeMetadata{docs: map[string]domain.Metadata{}}
	for _, r := range records {
		f.docs[r.ArweaveHash] = docFor(r.ID, "event")
	}
	return f
}

// countingMaterializer records every attempt and optionally fails some ids.
// With a store set it writes the condition row before failing, the way the
// real materializer does when metadata is unavailable.
type countingMaterializer struct {
	mu       sync.Mutex
	store    *memStore
	attempts map[string]int
	fail     map[string]bool
}

func (c *countingMaterializer) Materialize(ctx context.Context, cond domain.Condition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempts == nil {
		c.attempts = map[string]int{}
	}
	c.attempts[cond.ID]++
	if c.store != nil {
		if err := c.store.UpsertCondition(ctx, cond); err != nil {
			return err
		}
	}
	if c.fail[cond.ID] {
		return errors.New("boom")
	}
	return nil
}

// cancellingMaterializer cancels the run's context on the first attempt at
// id and fails with the context error before anything is stored.
type cancellingMaterializer struct {
	countingMaterializer
	id     string
	cancel context.CancelFunc
	fired  bool
}

func (c *cancellingMaterializer) Materialize(ctx context.Context, cond domain.Condition) error {
	if cond.ID == c.id && !c.fired {
		c.fired = true
		c.mu.Lock()
		if c.attempts == nil {
			c.attempts = map[string]int{}
		}
		c.attempts[cond.ID]++
		c.mu.Unlock()
		c.cancel()
		return fmt.Errorf("fetch metadata: %w", ctx.Err())
	}
	return c.countingMaterializer.Materialize(ctx, cond)
}

// stepClock advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type fakeLocks struct {
	err      error
	acquired []string
	released int
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, key)
	return func() { l.released++ }, nil
}

type recordingBus struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

type fakeImages struct {
	err   error
	calls []string
}

func (f *fakeImages) StoreImage(_ context.Context, kind, key, _ string) (string, error) {
	f.calls = append(f.calls, kind+"/"+key)
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.test/images/" + kind + "/" + key, nil
}
