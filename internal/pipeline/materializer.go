package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// MetadataFetcher resolves a content hash to a validated metadata document.
type MetadataFetcher interface {
	Fetch(ctx context.Context, hash string) (domain.Metadata, error)
}

// ImageStore persists an icon and returns its public URL.
type ImageStore interface {
	StoreImage(ctx context.Context, kind, key, ref string) (string, error)
}

// CatalogWriter is the storage the materializer writes through.
type CatalogWriter interface {
	UpsertCondition(ctx context.Context, c domain.Condition) error
	domain.CatalogStore
}

// Materializer writes the condition, event, tags, market and outcomes for one
// condition. Each step checks for an existing row before inserting, so a
// repeated call is harmless.
type Materializer struct {
	store    CatalogWriter
	metadata MetadataFetcher
	images   ImageStore
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

// NewMaterializer creates a Materializer. images may be nil, in which case
// every icon URL is left empty.
func NewMaterializer(store CatalogWriter, metadata MetadataFetcher, images ImageStore, logger *slog.Logger) *Materializer {
	return &Materializer{
		store:    store,
		metadata: metadata,
		images:   images,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "materializer")),
	}
}

// Materialize ingests c. Missing required condition fields wrap
// domain.ErrInvalidCondition.
func (m *Materializer) Materialize(ctx context.Context, c domain.Condition) error {
	if err := m.validate.Struct(c); err != nil {
		return fmt.Errorf("condition %s: %v: %w", c.ID, err, domain.ErrInvalidCondition)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now().UTC()
	}
	if err := m.store.UpsertCondition(ctx, c); err != nil {
		return fmt.Errorf("upsert condition: %w", err)
	}

	meta, err := m.metadata.Fetch(ctx, c.ArweaveHash)
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}

	event, err := m.resolveEvent(ctx, meta)
	if err != nil {
		return err
	}
	return m.createMarket(ctx, c, event, meta)
}

func (m *Materializer) resolveEvent(ctx context.Context, meta domain.Metadata) (domain.Event, error) {
	slug := strings.TrimSpace(meta.Event.Slug)

	event, err := m.store.GetEventBySlug(ctx, slug)
	if err == nil {
		return event, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Event{}, fmt.Errorf("get event %s: %w", slug, err)
	}

	event, err = m.store.CreateEvent(ctx, domain.Event{
		Slug:            slug,
		Title:           meta.Event.Title,
		Description:     meta.Event.Description,
		IconURL:         m.icon(ctx, "events", domain.NormalizeSlug(slug), meta.Event.Icon),
		Rules:           meta.Event.Rules,
		ShowMarketIcons: meta.Event.ShowMarketIcons,
		CreatedAt:       m.now().UTC(),
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("create event %s: %w", slug, err)
	}

	seen := make(map[string]bool, len(meta.Event.Tags))
	for _, name := range meta.Event.Tags {
		tagSlug := domain.NormalizeSlug(name)
		if tagSlug == "" || seen[tagSlug] {
			continue
		}
		seen[tagSlug] = true

		tag, err := m.store.UpsertTag(ctx, domain.Tag{Name: strings.TrimSpace(name), Slug: tagSlug})
		if err != nil {
			return domain.Event{}, fmt.Errorf("upsert tag %s: %w", tagSlug, err)
		}
		if err := m.store.LinkEventTag(ctx, event.ID, tag.ID); err != nil {
			return domain.Event{}, fmt.Errorf("link tag %s: %w", tagSlug, err)
		}
	}
	return event, nil
}

func (m *Materializer) createMarket(ctx context.Context, c domain.Condition, event domain.Event, meta domain.Metadata) error {
	exists, err := m.store.MarketExists(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("market exists %s: %w", c.ID, err)
	}
	if exists {
		return nil
	}

	outcomes := make([]domain.Outcome, 0, len(meta.Outcomes))
	for i, o := range meta.Outcomes {
		outcomes = append(outcomes, domain.Outcome{ConditionID: c.ID, Index: i, Text: o.Outcome})
	}

	market := domain.Market{
		ConditionID: c.ID,
		EventID:     event.ID,
		Name:        meta.Name,
		Slug:        meta.Slug,
		Description: meta.Description,
		IconURL:     m.icon(ctx, "markets", c.ID, meta.Icon),
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.CreateMarket(ctx, market, outcomes); err != nil {
		return fmt.Errorf("create market %s: %w", c.ID, err)
	}
	return nil
}

// icon stores ref and returns its URL. Failures are logged and yield "".
func (m *Materializer) icon(ctx context.Context, kind, key, ref string) string {
	ref = strings.TrimSpace(ref)
	if m.images == nil || ref == "" || key == "" {
		return ""
	}
	url, err := m.images.StoreImage(ctx, kind, key, ref)
	if err != nil {
		m.logger.Warn("icon upload failed",
			slog.String("kind", kind),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return url
}
