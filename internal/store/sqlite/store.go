// Package sqlite implements the sync and catalog stores on an embedded
// SQLite database (pure Go, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_status (
    service_name              TEXT    NOT NULL,
    subgraph_name             TEXT    NOT NULL,
    status                    TEXT    NOT NULL DEFAULT 'idle',
    error_message             TEXT,
    total_processed           INTEGER NOT NULL DEFAULT 0,
    cursor_condition_id       TEXT,
    cursor_creation_timestamp INTEGER,
    updated_at                TEXT    NOT NULL,
    PRIMARY KEY (service_name, subgraph_name)
);

CREATE TABLE IF NOT EXISTS conditions (
    id                 TEXT    PRIMARY KEY,
    oracle             TEXT    NOT NULL,
    question_id        TEXT    NOT NULL,
    resolved           INTEGER NOT NULL DEFAULT 0,
    arweave_hash       TEXT    NOT NULL,
    creator            TEXT    NOT NULL,
    creation_timestamp INTEGER NOT NULL,
    created_at         TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conditions_cursor ON conditions(creation_timestamp DESC, id DESC);

CREATE TABLE IF NOT EXISTS events (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    slug              TEXT    NOT NULL UNIQUE,
    title             TEXT    NOT NULL,
    description       TEXT    NOT NULL DEFAULT '',
    icon_url          TEXT,
    rules             TEXT    NOT NULL DEFAULT '',
    show_market_icons INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
    condition_id TEXT    PRIMARY KEY REFERENCES conditions(id),
    event_id     INTEGER NOT NULL REFERENCES events(id),
    name         TEXT    NOT NULL,
    slug         TEXT    NOT NULL,
    description  TEXT    NOT NULL DEFAULT '',
    icon_url     TEXT,
    created_at   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_markets_event ON markets(event_id);

CREATE TABLE IF NOT EXISTS outcomes (
    condition_id  TEXT    NOT NULL REFERENCES markets(condition_id) ON DELETE CASCADE,
    outcome_index INTEGER NOT NULL,
    text          TEXT    NOT NULL,
    PRIMARY KEY (condition_id, outcome_index)
);

CREATE TABLE IF NOT EXISTS tags (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT    NOT NULL,
    slug TEXT    NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS event_tags (
    event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    tag_id   INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    PRIMARY KEY (event_id, tag_id)
);
`

// Store implements domain.SyncStore on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// SQLite is single-writer; one connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const syncStatusColumns = `service_name, subgraph_name, status, COALESCE(error_message, ''), total_processed,
	cursor_condition_id, cursor_creation_timestamp, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSyncStatus(row scanner) (domain.SyncStatus, error) {
	var (
		st        domain.SyncStatus
		status    string
		cursorID  sql.NullString
		cursorTS  sql.NullInt64
		updatedAt string
	)
	if err := row.Scan(&st.ServiceName, &st.SubgraphName, &status, &st.ErrorMessage, &st.TotalProcessed,
		&cursorID, &cursorTS, &updatedAt); err != nil {
		return domain.SyncStatus{}, err
	}
	st.Status = domain.SyncState(status)
	if cursorID.Valid && cursorTS.Valid {
		st.Cursor = &domain.SyncCursor{ConditionID: cursorID.String, CreationTimestamp: cursorTS.Int64}
	}
	st.UpdatedAt = parseTime(updatedAt)
	return st, nil
}

// GetSyncStatus returns the status row for (service, subgraph).
func (s *Store) GetSyncStatus(ctx context.Context, serviceName, subgraphName string) (domain.SyncStatus, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syncStatusColumns+` FROM sync_status WHERE service_name = ? AND subgraph_name = ?`,
		serviceName, subgraphName,
	)
	st, err := scanSyncStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SyncStatus{}, fmt.Errorf("sqlite: get sync status %s/%s: %w", serviceName, subgraphName, err)
	}
	return st, nil
}

// SaveSyncStatus upserts the status row.
func (s *Store) SaveSyncStatus(ctx context.Context, st domain.SyncStatus) error {
	var cursorID, cursorTS any
	if st.Cursor != nil {
		cursorID, cursorTS = st.Cursor.ConditionID, st.Cursor.CreationTimestamp
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (
			service_name, subgraph_name, status, error_message, total_processed,
			cursor_condition_id, cursor_creation_timestamp, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (service_name, subgraph_name) DO UPDATE SET
			status                    = excluded.status,
			error_message             = excluded.error_message,
			total_processed           = excluded.total_processed,
			cursor_condition_id       = excluded.cursor_condition_id,
			cursor_creation_timestamp = excluded.cursor_creation_timestamp,
			updated_at                = excluded.updated_at`,
		st.ServiceName, st.SubgraphName, string(st.Status), nullString(st.ErrorMessage), st.TotalProcessed,
		cursorID, cursorTS, formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save sync status %s/%s: %w", st.ServiceName, st.SubgraphName, err)
	}
	return nil
}

// ListSyncStatuses returns every status row ordered by service.
func (s *Store) ListSyncStatuses(ctx context.Context) ([]domain.SyncStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+syncStatusColumns+` FROM sync_status ORDER BY service_name, subgraph_name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sync status: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncStatus
	for rows.Next() {
		st, err := scanSyncStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan sync status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// LatestCursor returns the position of the newest stored condition.
func (s *Store) LatestCursor(ctx context.Context) (*domain.SyncCursor, error) {
	var c domain.SyncCursor
	err := s.db.QueryRowContext(ctx,
		`SELECT id, creation_timestamp FROM conditions ORDER BY creation_timestamp DESC, id DESC LIMIT 1`,
	).Scan(&c.ConditionID, &c.CreationTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: latest cursor: %w", err)
	}
	return &c, nil
}

// UpsertCondition inserts c; an existing row is left untouched.
func (s *Store) UpsertCondition(ctx context.Context, c domain.Condition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conditions (id, oracle, question_id, resolved, arweave_hash, creator, creation_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.Oracle, c.QuestionID, c.Resolved, c.ArweaveHash, c.Creator, c.CreationTimestamp, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert condition %s: %w", c.ID, err)
	}
	return nil
}

// ExistingMarkets returns the subset of conditionIDs with a market row.
func (s *Store) ExistingMarkets(ctx context.Context, conditionIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(conditionIDs))
	if len(conditionIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(conditionIDs))
	for i, id := range conditionIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(conditionIDs)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT condition_id FROM markets WHERE condition_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: existing markets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan market id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

const eventColumns = `id, slug, title, description, icon_url, rules, show_market_icons, created_at`

func scanEvent(row scanner) (domain.Event, error) {
	var (
		e         domain.Event
		icon      sql.NullString
		createdAt string
	)
	if err := row.Scan(&e.ID, &e.Slug, &e.Title, &e.Description, &icon, &e.Rules, &e.ShowMarketIcons, &createdAt); err != nil {
		return domain.Event{}, err
	}
	e.IconURL = icon.String
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// GetEventBySlug returns the event stored under slug.
func (s *Store) GetEventBySlug(ctx context.Context, slug string) (domain.Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("sqlite: get event %s: %w", slug, err)
	}
	return e, nil
}

// CreateEvent inserts e. When the slug is taken the existing row is returned.
func (s *Store) CreateEvent(ctx context.Context, e domain.Event) (domain.Event, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (slug, title, description, icon_url, rules, show_market_icons, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO NOTHING`,
		e.Slug, e.Title, e.Description, nullString(e.IconURL), e.Rules, e.ShowMarketIcons, formatTime(e.CreatedAt),
	)
	if err != nil {
		return domain.Event{}, fmt.Errorf("sqlite: create event %s: %w", e.Slug, err)
	}
	return s.GetEventBySlug(ctx, e.Slug)
}

// UpsertTag returns the tag stored under t.Slug, inserting it first if needed.
func (s *Store) UpsertTag(ctx context.Context, t domain.Tag) (domain.Tag, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (name, slug) VALUES (?, ?) ON CONFLICT (slug) DO NOTHING`, t.Name, t.Slug,
	); err != nil {
		return domain.Tag{}, fmt.Errorf("sqlite: upsert tag %s: %w", t.Slug, err)
	}

	var out domain.Tag
	if err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug FROM tags WHERE slug = ?`, t.Slug,
	).Scan(&out.ID, &out.Name, &out.Slug); err != nil {
		return domain.Tag{}, fmt.Errorf("sqlite: read tag %s: %w", t.Slug, err)
	}
	return out, nil
}

// LinkEventTag attaches a tag to an event.
func (s *Store) LinkEventTag(ctx context.Context, eventID, tagID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO event_tags (event_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, eventID, tagID,
	); err != nil {
		return fmt.Errorf("sqlite: link event %d tag %d: %w", eventID, tagID, err)
	}
	return nil
}

// MarketExists reports whether a market exists for the condition.
func (s *Store) MarketExists(ctx context.Context, conditionID string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM markets WHERE condition_id = ?)`, conditionID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("sqlite: market exists %s: %w", conditionID, err)
	}
	return exists, nil
}

// CreateMarket inserts the market and its outcomes in one transaction. An
// existing market is left untouched.
func (s *Store) CreateMarket(ctx context.Context, m domain.Market, outcomes []domain.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin create market %s: %w", m.ConditionID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO markets (condition_id, event_id, name, slug, description, icon_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (condition_id) DO NOTHING`,
		m.ConditionID, m.EventID, m.Name, m.Slug, m.Description, nullString(m.IconURL), formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert market %s: %w", m.ConditionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for _, o := range outcomes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO outcomes (condition_id, outcome_index, text) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
			o.ConditionID, o.Index, o.Text,
		); err != nil {
			return fmt.Errorf("sqlite: insert outcome %d of %s: %w", o.Index, m.ConditionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit market %s: %w", m.ConditionID, err)
	}
	return nil
}

// Outcomes returns the outcomes of a market ordered by index.
func (s *Store) Outcomes(ctx context.Context, conditionID string) ([]domain.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT condition_id, outcome_index, text FROM outcomes WHERE condition_id = ? ORDER BY outcome_index`,
		conditionID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: outcomes %s: %w", conditionID, err)
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		if err := rows.Scan(&o.ConditionID, &o.Index, &o.Text); err != nil {
			return nil, fmt.Errorf("sqlite: scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
