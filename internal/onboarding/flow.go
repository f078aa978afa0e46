// Package onboarding implements the trading-readiness flow: proxy wallet
// deployment, trading-auth signature and token approvals, plus the poller
// that keeps the proxy wallet record in sync with the backend.
package onboarding

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/alanyoungcy/predictionhub/internal/crypto"
	"github.com/alanyoungcy/predictionhub/internal/domain"
)

const sessionRefreshTimeout = 30 * time.Second

// Wallet signs on behalf of the user.
type Wallet interface {
	Address() common.Address
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// Backend is the platform API the flow submits signatures to.
type Backend interface {
	SubmitProxySignature(ctx context.Context, req domain.ProxySignatureRequest) (domain.ProxyWallet, error)
	ExchangeTradingAuth(ctx context.Context, req domain.TradingAuthRequest) (domain.TradingAuth, error)
	GetApprovalNonce(ctx context.Context) (*big.Int, error)
	SubmitApprovals(ctx context.Context, req domain.ApprovalsRequest) (domain.TokenApprovals, error)
	RefreshSession(ctx context.Context) error
}

// FlowConfig holds chain parameters for the signed messages.
type FlowConfig struct {
	ChainID      int64
	ProxyFactory common.Address
	Contracts    crypto.ApprovalContracts
	// Now defaults to time.Now.
	Now func() time.Time
}

// Flow drives the three onboarding steps for one user. Handlers hold their
// step's error text in the step state and also return it.
type Flow struct {
	mu        sync.Mutex
	readiness Readiness

	store   *UserStore
	wallet  Wallet
	backend Backend
	cfg     FlowConfig
	logger  *slog.Logger

	unsubscribe func()
	refreshes   sync.WaitGroup
}

// NewFlow creates a Flow and subscribes it to store so proxy status changes
// and server-side completion flags are reflected in the local steps.
func NewFlow(store *UserStore, wallet Wallet, backend Backend, cfg FlowConfig, logger *slog.Logger) *Flow {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	f := &Flow{
		readiness: NewReadiness(),
		store:     store,
		wallet:    wallet,
		backend:   backend,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "onboarding")),
	}
	f.reconcile(store.Snapshot())
	f.unsubscribe = store.Subscribe(f.reconcile)
	return f
}

// Close unsubscribes from the store and waits for pending session refreshes.
func (f *Flow) Close() {
	f.unsubscribe()
	f.refreshes.Wait()
}

// Readiness returns a snapshot of the local step states.
func (f *Flow) Readiness() Readiness {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readiness
}

// TradingReady reports whether trading is unlocked by either the local steps
// or the server flags.
func (f *Flow) TradingReady() bool {
	return TradingReady(f.Readiness(), f.store.Snapshot())
}

// CanStartTradingAuth reports whether the proxy wallet step is done.
func (f *Flow) CanStartTradingAuth() bool {
	return f.Readiness().Proxy.Phase == ProxyCompleted || f.store.Snapshot().HasDeployedProxyWallet()
}

// CanApproveTokens reports whether both earlier steps are done.
func (f *Flow) CanApproveTokens() bool {
	u := f.store.Snapshot()
	auth := f.Readiness().Auth.Phase == StepCompleted || u.HasTradingAuth()
	return f.CanStartTradingAuth() && auth
}

// Dismiss resets every step that is neither completed nor deploying and
// clears its error.
func (f *Flow) Dismiss() {
	reset := Event{Kind: EventReset}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readiness.Proxy, _ = f.readiness.Proxy.Apply(reset)
	f.readiness.Auth, _ = f.readiness.Auth.Apply(reset)
	f.readiness.Approvals, _ = f.readiness.Approvals.Apply(reset)
}

// HandleProxyWalletSignature signs the create-proxy message and submits it.
func (f *Flow) HandleProxyWalletSignature(ctx context.Context) (err error) {
	if err := f.applyProxy(Event{Kind: EventBegin}); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
		if err != nil {
			f.fail(ctx, "proxy", err, f.applyProxy)
		}
	}()

	td := crypto.CreateProxyTypedData(f.cfg.ChainID, f.cfg.ProxyFactory)
	sig, err := f.wallet.SignTypedData(ctx, td)
	if err != nil {
		return stepFailed("sign create proxy", err)
	}

	pw, err := f.backend.SubmitProxySignature(ctx, domain.ProxySignatureRequest{
		Address:   f.wallet.Address().Hex(),
		Signature: hexutil.Encode(sig),
	})
	if err != nil {
		return stepFailed("submit proxy signature", err)
	}

	if err := f.applyProxy(Event{Kind: EventSubmitted, Status: pw.Status}); err != nil {
		f.logger.WarnContext(ctx, "proxy step not advanced", slog.String("error", err.Error()))
	}
	f.store.ApplyProxyWalletUpdate(pw)
	f.logger.InfoContext(ctx, "proxy wallet signature accepted", slog.String("status", string(pw.Status)))
	f.refreshSession()
	return nil
}

// HandleTradingAuthSignature signs a ClobAuth attestation for the current
// time and exchanges it for trading credentials. Callers should gate it on
// CanStartTradingAuth.
func (f *Flow) HandleTradingAuthSignature(ctx context.Context) (err error) {
	if err := f.applyAuth(Event{Kind: EventBegin}); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
		if err != nil {
			f.fail(ctx, "trading_auth", err, f.applyAuth)
		}
	}()

	addr := f.wallet.Address()
	ts := f.cfg.Now().Unix()
	sig, err := f.wallet.SignTypedData(ctx, crypto.ClobAuthTypedData(f.cfg.ChainID, addr, ts, 0))
	if err != nil {
		return stepFailed("sign trading auth", err)
	}

	ta, err := f.backend.ExchangeTradingAuth(ctx, domain.TradingAuthRequest{
		Address:   addr.Hex(),
		Signature: hexutil.Encode(sig),
		Timestamp: ts,
	})
	if err != nil {
		return stepFailed("exchange trading auth", err)
	}

	if err := f.applyAuth(Event{Kind: EventSucceeded}); err != nil {
		f.logger.WarnContext(ctx, "trading auth step not advanced", slog.String("error", err.Error()))
	}
	f.store.ApplyTradingAuthUpdate(ta)
	f.logger.InfoContext(ctx, "trading credentials obtained")
	f.refreshSession()
	return nil
}

// HandleApproveTokens signs and submits the batched token approvals. Callers
// should gate it on CanApproveTokens.
func (f *Flow) HandleApproveTokens(ctx context.Context) (err error) {
	if err := f.applyApprovals(Event{Kind: EventBegin}); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
		if err != nil {
			f.fail(ctx, "approvals", err, f.applyApprovals)
		}
	}()

	nonce, err := f.backend.GetApprovalNonce(ctx)
	if err != nil {
		return stepFailed("fetch approval nonce", err)
	}
	batch, err := crypto.NewApprovalBatch(f.cfg.Contracts)
	if err != nil {
		return stepFailed("build approvals", err)
	}
	hash, err := batch.StructHash(nonce)
	if err != nil {
		return stepFailed("hash approvals", err)
	}
	sig, err := f.wallet.SignMessage(ctx, hash.Bytes())
	if err != nil {
		return stepFailed("sign approvals", err)
	}

	var from string
	if pw := f.store.Snapshot().ProxyWallet; pw.HasAddress() {
		from = *pw.Address
	}
	approvals, err := f.backend.SubmitApprovals(ctx, domain.ApprovalsRequest{
		From:       from,
		To:         batch.To.Hex(),
		Data:       hexutil.Encode(batch.Data),
		Operation:  uint8(batch.Operation),
		Nonce:      nonce.String(),
		StructHash: hash.Hex(),
		Signature:  hexutil.Encode(sig),
		Metadata:   domain.ApproveTokensMetadata,
	})
	if err != nil {
		return stepFailed("submit approvals", err)
	}

	if err := f.applyApprovals(Event{Kind: EventSucceeded}); err != nil {
		f.logger.WarnContext(ctx, "approvals step not advanced", slog.String("error", err.Error()))
	}
	f.store.ApplyApprovalsUpdate(approvals)
	f.logger.InfoContext(ctx, "token approvals submitted", slog.String("nonce", nonce.String()))
	f.refreshSession()
	return nil
}

func (f *Flow) fail(ctx context.Context, step string, err error, apply func(Event) error) {
	msg := errorMessage(err)
	if applyErr := apply(Event{Kind: EventFailed, Err: msg}); applyErr != nil {
		f.logger.DebugContext(ctx, "failure not recorded on step",
			slog.String("step", step),
			slog.String("error", applyErr.Error()),
		)
	}
	f.logger.WarnContext(ctx, "onboarding step failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}

func (f *Flow) applyProxy(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, err := f.readiness.Proxy.Apply(ev)
	f.readiness.Proxy = next
	return err
}

func (f *Flow) applyAuth(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, err := f.readiness.Auth.Apply(ev)
	f.readiness.Auth = next
	return err
}

func (f *Flow) applyApprovals(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, err := f.readiness.Approvals.Apply(ev)
	f.readiness.Approvals = next
	return err
}

// reconcile moves local steps forward from the shared user state. It never
// moves a step backward.
func (f *Flow) reconcile(u domain.UserState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ProxyWallet.Status != "" {
		f.readiness.Proxy, _ = f.readiness.Proxy.Apply(Event{Kind: EventPolled, Status: u.ProxyWallet.Status})
	}
	if u.HasTradingAuth() {
		f.readiness.Auth, _ = f.readiness.Auth.Apply(Event{Kind: EventServerSynced})
	}
	if u.HasTokenApprovals() {
		f.readiness.Approvals, _ = f.readiness.Approvals.Apply(Event{Kind: EventServerSynced})
	}
}

// refreshSession asks the backend to reissue the session so server-side
// flags pick up the new state. Failures are logged only.
func (f *Flow) refreshSession() {
	f.refreshes.Add(1)
	go func() {
		defer f.refreshes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sessionRefreshTimeout)
		defer cancel()
		if err := f.backend.RefreshSession(ctx); err != nil {
			f.logger.WarnContext(ctx, "session refresh failed", slog.String("error", err.Error()))
		}
	}()
}
