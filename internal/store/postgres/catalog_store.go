package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

const eventColumns = `id, slug, title, description, icon_url, rules, show_market_icons, created_at`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		e    domain.Event
		icon *string
	)
	if err := row.Scan(&e.ID, &e.Slug, &e.Title, &e.Description, &icon, &e.Rules, &e.ShowMarketIcons, &e.CreatedAt); err != nil {
		return domain.Event{}, err
	}
	e.IconURL = derefString(icon)
	return e, nil
}

// GetEventBySlug returns the event stored under slug.
func (s *Store) GetEventBySlug(ctx context.Context, slug string) (domain.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("postgres: get event %s: %w", slug, err)
	}
	return e, nil
}

// CreateEvent inserts e. When the slug is taken the existing row is returned.
func (s *Store) CreateEvent(ctx context.Context, e domain.Event) (domain.Event, error) {
	const query = `
		INSERT INTO events (slug, title, description, icon_url, rules, show_market_icons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (slug) DO NOTHING
		RETURNING ` + eventColumns

	created, err := scanEvent(s.pool.QueryRow(ctx, query,
		e.Slug, e.Title, e.Description, nullString(e.IconURL), e.Rules, e.ShowMarketIcons, e.CreatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetEventBySlug(ctx, e.Slug)
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("postgres: create event %s: %w", e.Slug, err)
	}
	return created, nil
}

// UpsertTag returns the tag stored under t.Slug, inserting it first if needed.
func (s *Store) UpsertTag(ctx context.Context, t domain.Tag) (domain.Tag, error) {
	// DO UPDATE on a no-op column makes RETURNING yield the existing row.
	const query = `
		INSERT INTO tags (name, slug) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id, name, slug`

	var out domain.Tag
	if err := s.pool.QueryRow(ctx, query, t.Name, t.Slug).Scan(&out.ID, &out.Name, &out.Slug); err != nil {
		return domain.Tag{}, fmt.Errorf("postgres: upsert tag %s: %w", t.Slug, err)
	}
	return out, nil
}

// LinkEventTag attaches a tag to an event.
func (s *Store) LinkEventTag(ctx context.Context, eventID, tagID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO event_tags (event_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		eventID, tagID,
	)
	if err != nil {
		return fmt.Errorf("postgres: link event %d tag %d: %w", eventID, tagID, err)
	}
	return nil
}

// MarketExists reports whether a market exists for the condition.
func (s *Store) MarketExists(ctx context.Context, conditionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM markets WHERE condition_id = $1)`, conditionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: market exists %s: %w", conditionID, err)
	}
	return exists, nil
}

// CreateMarket inserts the market and its outcomes in one transaction. An
// existing market is left untouched.
func (s *Store) CreateMarket(ctx context.Context, m domain.Market, outcomes []domain.Outcome) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create market %s: %w", m.ConditionID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertMarket = `
		INSERT INTO markets (condition_id, event_id, name, slug, description, icon_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (condition_id) DO NOTHING`

	tag, err := tx.Exec(ctx, insertMarket,
		m.ConditionID, m.EventID, m.Name, m.Slug, m.Description, nullString(m.IconURL), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.ConditionID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if len(outcomes) > 0 {
		batch := &pgx.Batch{}
		for _, o := range outcomes {
			batch.Queue(`
				INSERT INTO outcomes (condition_id, outcome_index, text)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`,
				o.ConditionID, o.Index, o.Text,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range outcomes {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert outcome %d of %s: %w", i, m.ConditionID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close outcome batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit market %s: %w", m.ConditionID, err)
	}
	return nil
}
