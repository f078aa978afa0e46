package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// DefaultSyncTimeout caps one HTTP-triggered run.
const DefaultSyncTimeout = 300 * time.Second

// SyncRunner runs and reports the condition sync.
type SyncRunner interface {
	Run(ctx context.Context) (domain.SyncResult, error)
	Status(ctx context.Context) (domain.SyncStatus, error)
}

// SyncHandler exposes the sync job to the cron trigger.
type SyncHandler struct {
	runner  SyncRunner
	timeout time.Duration
	logger  *slog.Logger
}

// NewSyncHandler creates a SyncHandler. A non-positive timeout uses
// DefaultSyncTimeout.
func NewSyncHandler(runner SyncRunner, timeout time.Duration, logger *slog.Logger) *SyncHandler {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	return &SyncHandler{
		runner:  runner,
		timeout: timeout,
		logger:  logger.With(slog.String("handler", "sync")),
	}
}

// RunSync runs one sync and returns its result.
// GET /api/sync/events
func (h *SyncHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.runner.Run(ctx)
	switch {
	case errors.Is(err, domain.ErrSyncInProgress):
		writeJSON(w, http.StatusConflict, failure{Skipped: true, Error: err.Error()})
	case err != nil:
		h.logger.ErrorContext(ctx, "sync run failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, failure{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// GetStatus returns the persisted status row.
// GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.runner.Status(r.Context())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, failure{Error: "no sync has run yet"})
	case err != nil:
		h.logger.ErrorContext(r.Context(), "load sync status", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, failure{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, status)
	}
}
