package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/predictionhub/internal/domain"
	"github.com/alanyoungcy/predictionhub/internal/server/handler"
)

type stubRunner struct{ runs int }

func (s *stubRunner) Run(context.Context) (domain.SyncResult, error) {
	s.runs++
	return domain.SyncResult{Success: true, ErrorDetails: []domain.SyncRecordError{}}, nil
}

func (s *stubRunner) Status(context.Context) (domain.SyncStatus, error) {
	return domain.SyncStatus{Status: domain.SyncStateIdle}, nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func newTestServer(runner *stubRunner, limiter domain.RateLimiter) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(
		Config{Port: 8080, CronSecret: "cron", RateLimit: 5},
		Handlers{
			Health: handler.NewHealthHandler(nil, logger),
			Sync:   handler.NewSyncHandler(runner, 0, logger),
		},
		nil, limiter, logger,
	).Handler()
}

func TestRoutes(t *testing.T) {
	runner := &stubRunner{}
	h := newTestServer(runner, nil)

	tests := []struct {
		name string
		path string
		auth string
		code int
	}{
		{"health is public", "/api/health", "", http.StatusOK},
		{"sync needs secret", "/api/sync/events", "", http.StatusUnauthorized},
		{"sync wrong secret", "/api/sync/events", "Bearer nope", http.StatusUnauthorized},
		{"sync authorized", "/api/sync/events", "Bearer cron", http.StatusOK},
		{"status needs secret", "/api/sync/status", "", http.StatusUnauthorized},
		{"status authorized", "/api/sync/status", "Bearer cron", http.StatusOK},
		{"ws absent without hub", "/ws", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
	assert.Equal(t, 1, runner.runs)
}

func TestRoutes_RejectsOtherMethods(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync/events", nil)
	req.Header.Set("Authorization", "Bearer cron")
	newTestServer(&stubRunner{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRoutes_RateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&stubRunner{}, denyAll{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
