// Package pipeline runs the incremental condition sync that materializes
// on-chain conditions into events, markets and outcomes.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predictionhub/internal/domain"
	"github.com/alanyoungcy/predictionhub/internal/notify"
)

// SyncChannel is the signal bus channel sync progress is published on.
const SyncChannel = "ch:sync"

const (
	DefaultPageSize   = 200
	DefaultTimeBudget = 250 * time.Second
	DefaultStaleAfter = 15 * time.Minute

	existenceChunk  = 200
	maxErrorDetails = 100
	finalizeTimeout = 10 * time.Second
)

// ConditionSource pages through upstream conditions in (creationTimestamp, id)
// order strictly after cursor.
type ConditionSource interface {
	FetchConditions(ctx context.Context, cursor *domain.SyncCursor, first int) ([]domain.RawCondition, error)
}

// ConditionMaterializer turns one condition into catalog rows.
type ConditionMaterializer interface {
	Materialize(ctx context.Context, c domain.Condition) error
}

// SyncConfig tunes a ConditionSync.
type SyncConfig struct {
	ServiceName     string
	SubgraphName    string
	AllowedCreators map[string]bool // lower-cased addresses
	PageSize        int
	TimeBudget      time.Duration
	StaleAfter      time.Duration
	Now             func() time.Time
}

// SyncEvent is published on SyncChannel.
type SyncEvent struct {
	Type    string            `json:"type"` // started, progress, completed, error
	RunID   string            `json:"run_id"`
	Service string            `json:"service"`
	Result  domain.SyncResult `json:"result"`
	Error   string            `json:"error,omitempty"`
	At      time.Time         `json:"at"`
}

// SyncOption configures optional collaborators of a ConditionSync.
type SyncOption func(*ConditionSync)

// WithLocks adds a distributed lock around each run.
func WithLocks(locks domain.LockManager) SyncOption {
	return func(s *ConditionSync) { s.locks = locks }
}

// WithSignalBus publishes SyncEvents on SyncChannel.
func WithSignalBus(bus domain.SignalBus) SyncOption {
	return func(s *ConditionSync) { s.bus = bus }
}

// WithNotifier sends operator alerts when a run finishes.
func WithNotifier(n *notify.Notifier) SyncOption {
	return func(s *ConditionSync) { s.notifier = n }
}

// ConditionSync pulls new conditions from the subgraph and materializes each
// exactly once. Every run resumes from the newest condition in storage.
type ConditionSync struct {
	source       ConditionSource
	store        domain.SyncStore
	materializer ConditionMaterializer
	locks        domain.LockManager
	bus          domain.SignalBus
	notifier     *notify.Notifier
	cfg          SyncConfig
	logger       *slog.Logger
}

// NewConditionSync creates a ConditionSync. Zero config values fall back to
// the package defaults.
func NewConditionSync(source ConditionSource, store domain.SyncStore, materializer ConditionMaterializer, cfg SyncConfig, logger *slog.Logger, opts ...SyncOption) *ConditionSync {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = DefaultTimeBudget
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &ConditionSync{
		source:       source,
		store:        store,
		materializer: materializer,
		cfg:          cfg,
		logger: logger.With(
			slog.String("component", "condition_sync"),
			slog.String("service", cfg.ServiceName),
		),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LockKey names the distributed lock for this job.
func (s *ConditionSync) LockKey() string {
	return fmt.Sprintf("sync:%s:%s", s.cfg.ServiceName, s.cfg.SubgraphName)
}

// Status returns the persisted status row.
func (s *ConditionSync) Status(ctx context.Context) (domain.SyncStatus, error) {
	return s.store.GetSyncStatus(ctx, s.cfg.ServiceName, s.cfg.SubgraphName)
}

// Run executes one sync run. It returns domain.ErrSyncInProgress without
// touching the status row when another run is alive. Any other error is
// fatal to the run and is persisted as the error status; the partial result
// is still returned.
func (s *ConditionSync) Run(ctx context.Context) (domain.SyncResult, error) {
	status, err := s.Status(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = domain.SyncStatus{}
	case err != nil:
		return domain.SyncResult{}, fmt.Errorf("pipeline: read sync status: %w", err)
	}

	if status.Status == domain.SyncStateRunning {
		age := s.cfg.Now().Sub(status.UpdatedAt)
		if age < s.cfg.StaleAfter {
			return domain.SyncResult{}, domain.ErrSyncInProgress
		}
		s.logger.Warn("recovering stale running status", slog.Duration("age", age))
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, s.LockKey(), s.cfg.StaleAfter)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			return domain.SyncResult{}, domain.ErrSyncInProgress
		case err != nil:
			s.logger.Warn("sync lock unavailable, relying on status row",
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	runID := uuid.NewString()
	logger := s.logger.With(slog.String("run_id", runID))
	start := s.cfg.Now()

	running := domain.SyncStatus{
		ServiceName:    s.cfg.ServiceName,
		SubgraphName:   s.cfg.SubgraphName,
		Status:         domain.SyncStateRunning,
		TotalProcessed: 0,
		Cursor:         status.Cursor,
		UpdatedAt:      start,
	}
	if err := s.store.SaveSyncStatus(ctx, running); err != nil {
		return domain.SyncResult{}, fmt.Errorf("pipeline: mark running: %w", err)
	}
	s.publish(ctx, SyncEvent{Type: "started", RunID: runID})
	logger.Info("sync started")

	res, runErr := s.sync(ctx, runID, start, logger)

	// The final status must land even when ctx was cancelled mid-run.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	final := running
	final.Cursor = s.storedCursor(finalCtx, running.Cursor, logger)
	final.TotalProcessed = res.Processed
	final.UpdatedAt = s.cfg.Now()
	if runErr != nil {
		final.Status = domain.SyncStateError
		final.ErrorMessage = runErr.Error()
	} else {
		final.Status = domain.SyncStateCompleted
	}
	if err := s.store.SaveSyncStatus(finalCtx, final); err != nil {
		logger.Error("failed to persist final sync status", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = fmt.Errorf("pipeline: persist final status: %w", err)
		}
	}

	res.Success = runErr == nil
	if runErr != nil {
		logger.Error("sync failed",
			slog.Int("processed", res.Processed),
			slog.String("error", runErr.Error()),
		)
		s.publish(finalCtx, SyncEvent{Type: "error", RunID: runID, Result: res, Error: runErr.Error()})
	} else {
		logger.Info("sync completed",
			slog.Int("fetched", res.Fetched),
			slog.Int("processed", res.Processed),
			slog.Int("skipped_existing", res.SkippedExisting),
			slog.Int("skipped_creators", res.SkippedCreators),
			slog.Int("skipped_invalid", res.SkippedInvalid),
			slog.Int("errors", res.Errors),
			slog.Bool("time_limit_reached", res.TimeLimitReached),
			slog.Duration("elapsed", s.cfg.Now().Sub(start)),
		)
		s.publish(finalCtx, SyncEvent{Type: "completed", RunID: runID, Result: res})
	}
	if err := s.notifier.Notify(finalCtx, notify.SyncMessage(s.cfg.ServiceName, res, runErr)); err != nil {
		logger.Warn("sync notification failed", slog.String("error", err.Error()))
	}

	return res, runErr
}

// storedCursor reads the high-water mark of stored conditions for the status
// row. It keeps prev when storage cannot be read.
func (s *ConditionSync) storedCursor(ctx context.Context, prev *domain.SyncCursor, logger *slog.Logger) *domain.SyncCursor {
	latest, err := s.store.LatestCursor(ctx)
	if err != nil {
		logger.Warn("failed to read stored cursor", slog.String("error", err.Error()))
		return prev
	}
	return latest
}

// sync is the page loop. The returned result always carries the last examined
// position, including on error.
func (s *ConditionSync) sync(ctx context.Context, runID string, start time.Time, logger *slog.Logger) (res domain.SyncResult, err error) {
	res.ErrorDetails = []domain.SyncRecordError{}

	latest, err := s.store.LatestCursor(ctx)
	if err != nil {
		return res, fmt.Errorf("pipeline: resume cursor: %w", err)
	}
	cur := NewCursor(latest)
	defer func() { res.Cursor = cur.Position() }()

	deadline := start.Add(s.cfg.TimeBudget)

	for {
		if !s.cfg.Now().Before(deadline) {
			res.TimeLimitReached = true
			return res, nil
		}

		page, err := s.source.FetchConditions(ctx, cur.Position(), s.cfg.PageSize)
		if err != nil {
			return res, fmt.Errorf("pipeline: fetch conditions: %w", err)
		}
		if len(page) == 0 {
			return res, nil
		}
		res.Fetched += len(page)

		existing, err := s.existing(ctx, page)
		if err != nil {
			return res, fmt.Errorf("pipeline: existence check: %w", err)
		}

		pageStart := cur
		for _, rec := range page {
			if err := ctx.Err(); err != nil {
				return res, fmt.Errorf("pipeline: %w", err)
			}

			var out recordOutcome
			out, cur = s.handleRecord(ctx, cur, rec, existing, deadline)
			switch out.kind {
			case outcomeDeferred:
				res.TimeLimitReached = true
				return res, nil
			case outcomeInterrupted:
				return res, fmt.Errorf("pipeline: materialize %s: %w", rec.ID, out.err)
			}
			out.apply(&res)
			if out.err != nil {
				logger.Warn("condition failed to materialize",
					slog.String("condition_id", rec.ID),
					slog.String("error", out.err.Error()),
				)
			}
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("pipeline: %w", err)
		}

		s.publish(ctx, SyncEvent{Type: "progress", RunID: runID, Result: withCursor(res, cur)})

		if len(page) < s.cfg.PageSize {
			return res, nil
		}
		if cur.Equal(pageStart) {
			logger.Warn("full page did not advance the cursor, stopping",
				slog.Int("page_size", len(page)),
			)
			return res, nil
		}
	}
}

type outcomeKind int

const (
	outcomeProcessed outcomeKind = iota
	outcomeSkippedExisting
	outcomeSkippedCreator
	outcomeSkippedInvalid
	outcomeFailed
	outcomeDeferred
	outcomeInterrupted
)

type recordOutcome struct {
	kind outcomeKind
	id   string
	err  error
}

func (o recordOutcome) apply(res *domain.SyncResult) {
	switch o.kind {
	case outcomeProcessed:
		res.Processed++
	case outcomeSkippedExisting:
		res.SkippedExisting++
	case outcomeSkippedCreator:
		res.SkippedCreators++
	case outcomeSkippedInvalid:
		res.SkippedInvalid++
	case outcomeFailed:
		res.Errors++
		if len(res.ErrorDetails) < maxErrorDetails {
			res.ErrorDetails = append(res.ErrorDetails, domain.SyncRecordError{
				ConditionID: o.id,
				Error:       o.err.Error(),
			})
		}
	}
}

// handleRecord classifies one record and returns the cursor to continue from.
// Every examined record with a valid position advances the cursor, whatever
// its outcome. Records without a parseable timestamp have no position and
// leave it untouched. So does a record deferred by the time budget or cut off
// by cancellation of ctx.
func (s *ConditionSync) handleRecord(ctx context.Context, cur Cursor, rec domain.RawCondition, existing map[string]bool, deadline time.Time) (recordOutcome, Cursor) {
	ts, err := parseTimestamp(rec.CreationTimestamp)
	if err != nil {
		s.logger.Warn("skipping condition with invalid timestamp",
			slog.String("condition_id", rec.ID),
			slog.String("creation_timestamp", rec.CreationTimestamp),
		)
		return recordOutcome{kind: outcomeSkippedInvalid, id: rec.ID}, cur
	}
	next := cur.Advance(rec.ID, ts)

	creator := strings.ToLower(strings.TrimSpace(rec.Creator))
	switch {
	case creator == "":
		s.logger.Warn("skipping condition without creator", slog.String("condition_id", rec.ID))
		return recordOutcome{kind: outcomeSkippedInvalid, id: rec.ID}, next
	case !s.cfg.AllowedCreators[creator]:
		return recordOutcome{kind: outcomeSkippedCreator, id: rec.ID}, next
	case existing[rec.ID]:
		return recordOutcome{kind: outcomeSkippedExisting, id: rec.ID}, next
	case !s.cfg.Now().Before(deadline):
		return recordOutcome{kind: outcomeDeferred, id: rec.ID}, cur
	}

	c := domain.Condition{
		ID:                rec.ID,
		Oracle:            rec.Oracle,
		QuestionID:        rec.QuestionID,
		Resolved:          rec.Resolved,
		ArweaveHash:       rec.ArweaveHash,
		Creator:           creator,
		CreationTimestamp: ts,
	}
	if err := s.materializer.Materialize(ctx, c); err != nil {
		if ctx.Err() != nil {
			return recordOutcome{kind: outcomeInterrupted, id: rec.ID, err: err}, cur
		}
		return recordOutcome{kind: outcomeFailed, id: rec.ID, err: err}, next
	}
	return recordOutcome{kind: outcomeProcessed, id: rec.ID}, next
}

// existing looks up which page ids already have a market, in bounded chunks.
func (s *ConditionSync) existing(ctx context.Context, page []domain.RawCondition) (map[string]bool, error) {
	out := make(map[string]bool, len(page))
	for i := 0; i < len(page); i += existenceChunk {
		end := min(i+existenceChunk, len(page))
		ids := make([]string, 0, end-i)
		for _, rec := range page[i:end] {
			ids = append(ids, rec.ID)
		}
		found, err := s.store.ExistingMarkets(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id := range found {
			out[id] = true
		}
	}
	return out, nil
}

func (s *ConditionSync) publish(ctx context.Context, ev SyncEvent) {
	if s.bus == nil {
		return
	}
	ev.Service = s.cfg.ServiceName
	ev.At = s.cfg.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, SyncChannel, payload); err != nil {
		s.logger.Debug("sync event publish failed", slog.String("error", err.Error()))
	}
}

// RunLoop runs the job immediately and then on every interval tick until ctx
// is cancelled. Overlapping runs elsewhere are logged, not treated as errors.
func (s *ConditionSync) RunLoop(ctx context.Context, interval time.Duration) error {
	s.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *ConditionSync) runLogged(ctx context.Context) {
	_, err := s.Run(ctx)
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, domain.ErrSyncInProgress):
		s.logger.Info("sync skipped, another run is active")
	default:
		s.logger.Error("sync run failed", slog.String("error", err.Error()))
	}
}

func parseTimestamp(raw string) (int64, error) {
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: creation timestamp %q", domain.ErrInvalidCondition, raw)
	}
	if ts <= 0 {
		return 0, fmt.Errorf("%w: creation timestamp %d", domain.ErrInvalidCondition, ts)
	}
	return ts, nil
}

func withCursor(res domain.SyncResult, cur Cursor) domain.SyncResult {
	res.Cursor = cur.Position()
	return res
}
