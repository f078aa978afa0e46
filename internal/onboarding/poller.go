package onboarding

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// Default poll timings.
const (
	DefaultPollInterval  = 6 * time.Second
	DefaultRetryInterval = 10 * time.Second
)

// ProxyFetcher reads the backend's proxy wallet record.
type ProxyFetcher interface {
	GetProxyWallet(ctx context.Context) (domain.ProxyWallet, error)
}

// PollerConfig tunes a Poller. Zero values fall back to the defaults and
// time.After.
type PollerConfig struct {
	PollInterval  time.Duration
	RetryInterval time.Duration
	After         func(time.Duration) <-chan time.Time
}

// Poller reconciles the stored proxy wallet record with the backend until the
// backend reports the wallet deployed. Transport failures are retried on a
// fixed interval with no attempt limit.
type Poller struct {
	source        ProxyFetcher
	store         *UserStore
	pollInterval  time.Duration
	retryInterval time.Duration
	after         func(time.Duration) <-chan time.Time
	logger        *slog.Logger
}

// NewPoller creates a Poller writing into store.
func NewPoller(source ProxyFetcher, store *UserStore, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	return &Poller{
		source:        source,
		store:         store,
		pollInterval:  cfg.PollInterval,
		retryInterval: cfg.RetryInterval,
		after:         cfg.After,
		logger:        logger.With(slog.String("component", "proxy_poller")),
	}
}

// PollHandle controls a running poll task.
type PollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the task and waits for it to exit. No state is written after
// Stop returns. Stop is safe to call more than once.
func (h *PollHandle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed when the task has exited, either because the wallet is
// deployed or because it was stopped.
func (h *PollHandle) Done() <-chan struct{} {
	return h.done
}

// Start launches the poll loop unless the stored wallet already has an
// address and is deployed, in which case the returned handle is already done.
func (p *Poller) Start(ctx context.Context) *PollHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &PollHandle{cancel: cancel, done: make(chan struct{})}

	if pw := p.store.Snapshot().ProxyWallet; pw.HasAddress() && pw.Deployed() {
		close(h.done)
		return h
	}

	go func() {
		defer close(h.done)
		p.run(ctx)
	}()
	return h
}

// run performs one fetch at a time; the next wait starts only after the
// previous response has been applied.
func (p *Poller) run(ctx context.Context) {
	p.logger.DebugContext(ctx, "proxy poll started")
	for {
		pw, err := p.source.GetProxyWallet(ctx)
		if ctx.Err() != nil {
			// Stopped while the fetch was in flight: drop its result.
			return
		}

		wait := p.pollInterval
		if err != nil {
			p.logger.WarnContext(ctx, "proxy poll failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", p.retryInterval),
			)
			wait = p.retryInterval
		} else {
			if p.store.ApplyProxyWalletUpdate(pw) {
				p.logger.InfoContext(ctx, "proxy wallet updated",
					slog.String("status", string(pw.Status)),
				)
			}
			if pw.Deployed() {
				p.logger.InfoContext(ctx, "proxy wallet deployed, polling stopped")
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.after(wait):
		}
	}
}
