package onboarding

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionhub/internal/crypto"
	"github.com/alanyoungcy/predictionhub/internal/domain"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeWallet struct {
	signer    *crypto.Signer
	reject    bool
	panicWith any
}

func (w *fakeWallet) Address() common.Address { return w.signer.Address() }

func (w *fakeWallet) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	if w.panicWith != nil {
		panic(w.panicWith)
	}
	if w.reject {
		return nil, ErrUserRejected
	}
	return w.signer.SignTypedData(ctx, td)
}

func (w *fakeWallet) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if w.reject {
		return nil, ErrUserRejected
	}
	return w.signer.SignMessage(ctx, msg)
}

type fakeBackend struct {
	mu sync.Mutex

	proxyResp  domain.ProxyWallet
	proxyErr   error
	authResp   domain.TradingAuth
	authErr    error
	nonce      *big.Int
	approvals  domain.TokenApprovals
	refreshErr error

	lastProxy     domain.ProxySignatureRequest
	lastAuth      domain.TradingAuthRequest
	lastApprovals domain.ApprovalsRequest
	refreshes     int
}

func (b *fakeBackend) SubmitProxySignature(_ context.Context, req domain.ProxySignatureRequest) (domain.ProxyWallet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastProxy = req
	return b.proxyResp, b.proxyErr
}

func (b *fakeBackend) ExchangeTradingAuth(_ context.Context, req domain.TradingAuthRequest) (domain.TradingAuth, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastAuth = req
	return b.authResp, b.authErr
}

func (b *fakeBackend) GetApprovalNonce(context.Context) (*big.Int, error) {
	return b.nonce, nil
}

func (b *fakeBackend) SubmitApprovals(_ context.Context, req domain.ApprovalsRequest) (domain.TokenApprovals, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastApprovals = req
	return b.approvals, nil
}

func (b *fakeBackend) RefreshSession(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshes++
	return b.refreshErr
}

type flowFixture struct {
	flow    *Flow
	store   *UserStore
	wallet  *fakeWallet
	backend *fakeBackend
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	store := NewUserStore(domain.UserState{Address: signer.Address().Hex()})
	wallet := &fakeWallet{signer: signer}
	backend := &fakeBackend{nonce: big.NewInt(7)}
	cfg := FlowConfig{
		ChainID:      137,
		ProxyFactory: common.HexToAddress("0xaacFeEa03eb1561C4e67d661e40682Bd20E3541b"),
		Contracts: crypto.ApprovalContracts{
			Collateral:        common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
			ConditionalTokens: common.HexToAddress("0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"),
			Exchange:          common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"),
			NegRiskExchange:   common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a"),
			MultiSend:         common.HexToAddress("0xA238CBeb142c10Ef7Ad8442C6D1f9E89e07e7761"),
		},
		Now: func() time.Time { return time.Unix(1700000000, 0) },
	}
	f := NewFlow(store, wallet, backend, cfg, discardLogger())
	t.Cleanup(f.Close)
	return &flowFixture{flow: f, store: store, wallet: wallet, backend: backend}
}

func deployedWallet() domain.ProxyWallet {
	pw := deployingWallet()
	pw.Status = domain.ProxyWalletStatusDeployed
	return pw
}

func TestFlow_ProxyRejectedLeavesStepRetryable(t *testing.T) {
	fx := newFlowFixture(t)
	fx.wallet.reject = true

	err := fx.flow.HandleProxyWalletSignature(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUserRejected)

	step := fx.flow.Readiness().Proxy
	assert.Equal(t, ProxyIdle, step.Phase)
	assert.Equal(t, MsgUserRejected, step.Err)

	// Manual retry works once the user accepts.
	fx.wallet.reject = false
	fx.backend.proxyResp = deployedWallet()
	require.NoError(t, fx.flow.HandleProxyWalletSignature(context.Background()))
	assert.Equal(t, ProxyStep{Phase: ProxyCompleted}, fx.flow.Readiness().Proxy)
}

func TestFlow_ProxyDeployedCompletes(t *testing.T) {
	fx := newFlowFixture(t)
	fx.backend.proxyResp = deployedWallet()

	require.NoError(t, fx.flow.HandleProxyWalletSignature(context.Background()))
	fx.flow.Close()

	assert.Equal(t, ProxyCompleted, fx.flow.Readiness().Proxy.Phase)
	assert.True(t, fx.store.Snapshot().HasDeployedProxyWallet())
	assert.Equal(t, fx.wallet.Address().Hex(), fx.backend.lastProxy.Address)

	sig, err := hexutil.Decode(fx.backend.lastProxy.Signature)
	require.NoError(t, err)
	digest, _, err := apitypes.TypedDataAndHash(crypto.CreateProxyTypedData(137, fx.flow.cfg.ProxyFactory))
	require.NoError(t, err)
	signer, err := crypto.RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, fx.wallet.Address(), signer)

	assert.Equal(t, 1, fx.backend.refreshes)
}

func TestFlow_ProxyDeployingThenPolled(t *testing.T) {
	fx := newFlowFixture(t)
	fx.backend.proxyResp = deployingWallet()

	require.NoError(t, fx.flow.HandleProxyWalletSignature(context.Background()))
	assert.Equal(t, ProxyDeploying, fx.flow.Readiness().Proxy.Phase)
	assert.False(t, fx.flow.CanStartTradingAuth())

	// The poller writes the deployed record into the shared store.
	fx.store.ApplyProxyWalletUpdate(deployedWallet())
	assert.Equal(t, ProxyCompleted, fx.flow.Readiness().Proxy.Phase)
	assert.True(t, fx.flow.CanStartTradingAuth())

	// Dismiss never regresses a completed step.
	fx.flow.Dismiss()
	assert.Equal(t, ProxyCompleted, fx.flow.Readiness().Proxy.Phase)
}

func TestFlow_BackendErrorMessage(t *testing.T) {
	fx := newFlowFixture(t)
	fx.backend.proxyErr = errors.New("backend: status 500")

	err := fx.flow.HandleProxyWalletSignature(context.Background())
	require.Error(t, err)
	assert.EqualError(t, err, "onboarding: submit proxy signature: backend: status 500")

	step := fx.flow.Readiness().Proxy
	assert.Equal(t, ProxyIdle, step.Phase)
	assert.Equal(t, "backend: status 500", step.Err)

	fx.flow.Dismiss()
	assert.Equal(t, ProxyStep{Phase: ProxyIdle}, fx.flow.Readiness().Proxy)
}

func TestFlow_NonErrorPanicUsesDefaultMessage(t *testing.T) {
	fx := newFlowFixture(t)
	fx.wallet.panicWith = 42

	err := fx.flow.HandleProxyWalletSignature(context.Background())
	require.Error(t, err)
	assert.Equal(t, ProxyStep{Phase: ProxyIdle, Err: MsgUnexpected}, fx.flow.Readiness().Proxy)
}

func TestFlow_TradingAuth(t *testing.T) {
	fx := newFlowFixture(t)
	fx.backend.authResp = domain.TradingAuth{APIKey: "k", APISecret: "s", APIPassphrase: "p"}
	fx.backend.refreshErr = errors.New("session refresh unavailable")

	require.NoError(t, fx.flow.HandleTradingAuthSignature(context.Background()))
	fx.flow.Close()

	assert.Equal(t, StepCompleted, fx.flow.Readiness().Auth.Phase)
	assert.True(t, fx.store.Snapshot().HasTradingAuth())
	assert.Equal(t, int64(1700000000), fx.backend.lastAuth.Timestamp)

	sig, err := hexutil.Decode(fx.backend.lastAuth.Signature)
	require.NoError(t, err)
	td := crypto.ClobAuthTypedData(137, fx.wallet.Address(), 1700000000, 0)
	digest, _, err := apitypes.TypedDataAndHash(td)
	require.NoError(t, err)
	signer, err := crypto.RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, fx.wallet.Address(), signer)
}

func TestFlow_TradingAuthFailure(t *testing.T) {
	fx := newFlowFixture(t)
	fx.backend.authErr = errors.New("relayer unavailable")

	require.Error(t, fx.flow.HandleTradingAuthSignature(context.Background()))
	step := fx.flow.Readiness().Auth
	assert.Equal(t, StepIdle, step.Phase)
	assert.Equal(t, "relayer unavailable", step.Err)
}

func TestFlow_ApproveTokens(t *testing.T) {
	fx := newFlowFixture(t)
	fx.store.ApplyProxyWalletUpdate(deployedWallet())
	fx.backend.approvals = domain.TokenApprovals{Enabled: true, TxHash: "0xapprove"}

	require.NoError(t, fx.flow.HandleApproveTokens(context.Background()))

	req := fx.backend.lastApprovals
	assert.Equal(t, domain.ApproveTokensMetadata, req.Metadata)
	assert.Equal(t, "7", req.Nonce)
	assert.Equal(t, *deployedWallet().Address, req.From)
	assert.Equal(t, uint8(crypto.OperationDelegateCall), req.Operation)

	// The signature is a personal-sign over the struct hash.
	hash, err := hexutil.Decode(req.StructHash)
	require.NoError(t, err)
	sig, err := hexutil.Decode(req.Signature)
	require.NoError(t, err)
	signer, err := crypto.RecoverAddress(accounts.TextHash(hash), sig)
	require.NoError(t, err)
	assert.Equal(t, fx.wallet.Address(), signer)

	assert.Equal(t, StepCompleted, fx.flow.Readiness().Approvals.Phase)
	assert.True(t, fx.store.Snapshot().HasTokenApprovals())
}

func TestFlow_ReadyThroughAllSteps(t *testing.T) {
	fx := newFlowFixture(t)
	fx.backend.proxyResp = deployedWallet()
	fx.backend.authResp = domain.TradingAuth{APIKey: "k", APISecret: "s", APIPassphrase: "p"}
	fx.backend.approvals = domain.TokenApprovals{Enabled: true}
	ctx := context.Background()

	assert.False(t, fx.flow.TradingReady())
	require.NoError(t, fx.flow.HandleProxyWalletSignature(ctx))
	require.NoError(t, fx.flow.HandleTradingAuthSignature(ctx))
	assert.True(t, fx.flow.CanApproveTokens())
	require.NoError(t, fx.flow.HandleApproveTokens(ctx))

	assert.True(t, fx.flow.Readiness().LocalReady())
	assert.True(t, fx.flow.TradingReady())
}

func TestFlow_ServerStateSeedsSteps(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	store := NewUserStore(domain.UserState{
		ProxyWallet: deployedWallet(),
		TradingAuth: &domain.TradingAuth{APIKey: "k", APISecret: "s", APIPassphrase: "p"},
	})
	f := NewFlow(store, &fakeWallet{signer: signer}, &fakeBackend{}, FlowConfig{ChainID: 137}, discardLogger())
	defer f.Close()

	r := f.Readiness()
	assert.Equal(t, ProxyCompleted, r.Proxy.Phase)
	assert.Equal(t, StepCompleted, r.Auth.Phase)
	assert.Equal(t, StepIdle, r.Approvals.Phase)
}
