package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictionhub/internal/crypto"
	"github.com/alanyoungcy/predictionhub/internal/domain"
	"github.com/alanyoungcy/predictionhub/internal/onboarding"
	"github.com/alanyoungcy/predictionhub/internal/pipeline"
	"github.com/alanyoungcy/predictionhub/internal/platform/backend"
	"github.com/alanyoungcy/predictionhub/internal/server"
	"github.com/alanyoungcy/predictionhub/internal/server/handler"
	"github.com/alanyoungcy/predictionhub/internal/server/ws"
)

const (
	shutdownTimeout = 10 * time.Second
	wsReplay        = 20
)

// ServerMode serves the HTTP API until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, newConditionSync(a.cfg, deps, a.logger))
	return g.Wait()
}

// SyncMode runs the sync job once and exits.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	res, err := newConditionSync(a.cfg, deps, a.logger).Run(ctx)
	if err != nil {
		return fmt.Errorf("app: sync: %w", err)
	}
	a.logger.InfoContext(ctx, "sync finished",
		slog.Int("processed", res.Processed),
		slog.Int("fetched", res.Fetched),
		slog.Int("errors", res.Errors),
		slog.Bool("time_limit_reached", res.TimeLimitReached),
	)
	return nil
}

// SchedulerMode runs the sync job on the configured cron schedule, or on the
// interval when no schedule is set.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	return a.runScheduler(ctx, newConditionSync(a.cfg, deps, a.logger))
}

func (a *App) runScheduler(ctx context.Context, job *pipeline.ConditionSync) error {
	if expr := a.cfg.Sync.Schedule; expr != "" {
		sched, err := pipeline.ParseSchedule(expr)
		if err != nil {
			return fmt.Errorf("app: sync schedule: %w", err)
		}
		a.logger.InfoContext(ctx, "scheduler started", slog.String("schedule", expr))
		return job.RunCron(ctx, sched)
	}
	a.logger.InfoContext(ctx, "scheduler started", slog.Duration("interval", a.cfg.Sync.Interval.Duration))
	return job.RunLoop(ctx, a.cfg.Sync.Interval.Duration)
}

// FullMode serves the HTTP API and runs the scheduler side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	job := newConditionSync(a.cfg, deps, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, job)
	}
	g.Go(func() error { return a.runScheduler(ctx, job) })
	return g.Wait()
}

// StatusMode prints every sync_status row as a table.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	statuses, err := deps.Store.ListSyncStatuses(ctx)
	if err != nil {
		return fmt.Errorf("app: list sync status: %w", err)
	}
	renderStatuses(a.out, statuses)
	return nil
}

func renderStatuses(w io.Writer, statuses []domain.SyncStatus) {
	if len(statuses) == 0 {
		fmt.Fprintln(w, "no sync has run yet")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Service", "Subgraph", "Status", "Processed", "Cursor", "Updated", "Error")
	for _, s := range statuses {
		cursor := "-"
		if s.Cursor != nil {
			cursor = s.Cursor.ConditionID + "@" + strconv.FormatInt(s.Cursor.CreationTimestamp, 10)
		}
		table.Append(
			s.ServiceName,
			s.SubgraphName,
			string(s.Status),
			strconv.Itoa(s.TotalProcessed),
			cursor,
			s.UpdatedAt.UTC().Format(time.RFC3339),
			s.ErrorMessage,
		)
	}
	table.Render()
}

// OnboardMode walks the configured wallet through proxy deployment, trading
// auth and token approvals, skipping steps the backend already reports done.
func (a *App) OnboardMode(ctx context.Context) error {
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: load signer: %w", err)
	}
	var wallet onboarding.Wallet = signer
	if a.cfg.Wallet.ConfirmSignatures {
		wallet = crypto.NewConfirmingWallet(signer, os.Stdin, a.out)
	}

	api := backend.NewClient(a.cfg.Backend.BaseURL, a.cfg.Backend.SessionToken, a.cfg.Backend.RequestTimeout.Duration)
	users := onboarding.NewUserStore(domain.UserState{Address: wallet.Address().Hex()})
	if pw, err := api.GetProxyWallet(ctx); err == nil {
		users.ApplyProxyWalletUpdate(pw)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("app: fetch proxy wallet: %w", err)
	}

	flow := onboarding.NewFlow(users, wallet, api, onboarding.FlowConfig{
		ChainID:      int64(a.cfg.Chain.ChainID),
		ProxyFactory: common.HexToAddress(a.cfg.Chain.ProxyFactory),
		Contracts: crypto.ApprovalContracts{
			Collateral:        common.HexToAddress(a.cfg.Chain.CollateralToken),
			ConditionalTokens: common.HexToAddress(a.cfg.Chain.ConditionalTokens),
			Exchange:          common.HexToAddress(a.cfg.Chain.Exchange),
			NegRiskExchange:   common.HexToAddress(a.cfg.Chain.NegRiskExchange),
			MultiSend:         common.HexToAddress(a.cfg.Chain.MultiSend),
		},
	}, a.logger)
	defer flow.Close()

	unsubscribe := users.Subscribe(func(u domain.UserState) {
		a.logger.Info("user state changed",
			slog.String("proxy_status", string(u.ProxyWallet.Status)),
			slog.Bool("trading_auth", u.HasTradingAuth()),
			slog.Bool("approvals", u.HasTokenApprovals()),
		)
	})
	defer unsubscribe()

	if flow.Readiness().Proxy.Phase == onboarding.ProxyIdle {
		if err := flow.HandleProxyWalletSignature(ctx); err != nil {
			return fmt.Errorf("app: proxy wallet: %w", err)
		}
	}

	poller := onboarding.NewPoller(api, users, onboarding.PollerConfig{
		PollInterval:  a.cfg.Backend.PollInterval.Duration,
		RetryInterval: a.cfg.Backend.RetryInterval.Duration,
	}, a.logger)
	handle := poller.Start(ctx)
	defer handle.Stop()

	a.logger.InfoContext(ctx, "waiting for proxy wallet deployment")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-handle.Done():
	}
	if !flow.CanStartTradingAuth() {
		return fmt.Errorf("app: proxy wallet not deployed")
	}

	if !flow.CanApproveTokens() {
		if err := flow.HandleTradingAuthSignature(ctx); err != nil {
			return fmt.Errorf("app: trading auth: %w", err)
		}
	}
	if !users.Snapshot().HasTokenApprovals() && flow.Readiness().Approvals.Phase != onboarding.StepCompleted {
		if err := flow.HandleApproveTokens(ctx); err != nil {
			return fmt.Errorf("app: token approvals: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "onboarding finished", slog.Bool("trading_ready", flow.TradingReady()))
	return nil
}

// startHTTPServer adds the API server, and the WebSocket hub when Redis is
// wired, to g. The server shuts down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, job *pipeline.ConditionSync) {
	checks := map[string]handler.HealthCheck{"database": deps.Store.Ping}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			Channels: []string{pipeline.SyncChannel},
			Replay:   wsReplay,
		}, a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		CronSecret:      a.cfg.Server.CronSecret,
		SyncTimeout:     a.cfg.Server.SyncTimeout.Duration,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(checks, a.logger),
		Sync:   handler.NewSyncHandler(job, a.cfg.Server.SyncTimeout.Duration, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
