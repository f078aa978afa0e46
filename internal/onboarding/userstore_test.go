package onboarding

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

func TestUserStore_MergesAndSuppresses(t *testing.T) {
	s := NewUserStore(domain.UserState{})
	var seen []domain.UserState
	unsubscribe := s.Subscribe(func(u domain.UserState) { seen = append(seen, u) })

	assert.True(t, s.ApplyTradingAuthUpdate(domain.TradingAuth{APIKey: "k", APISecret: "s"}))
	assert.True(t, s.ApplyTradingAuthUpdate(domain.TradingAuth{APIPassphrase: "p"}))
	assert.False(t, s.ApplyTradingAuthUpdate(domain.TradingAuth{APIKey: "k"}))

	ta := s.Snapshot().TradingAuth
	assert.Equal(t, "k", ta.APIKey, "merge keeps earlier fields")
	assert.Equal(t, "p", ta.APIPassphrase)
	assert.Equal(t, 2, s.Writes())
	assert.Len(t, seen, 2)

	unsubscribe()
	assert.True(t, s.SetAddress("0xabc"))
	assert.Len(t, seen, 2)
}

func TestUserStore_Approvals(t *testing.T) {
	s := NewUserStore(domain.UserState{})
	assert.True(t, s.ApplyApprovalsUpdate(domain.TokenApprovals{Enabled: true, Nonce: big.NewInt(3)}))
	assert.False(t, s.ApplyApprovalsUpdate(domain.TokenApprovals{Enabled: true, Nonce: big.NewInt(3)}))
	assert.True(t, s.Snapshot().HasTokenApprovals())
}

func TestUserStore_SnapshotIsolated(t *testing.T) {
	s := NewUserStore(domain.UserState{})
	s.ApplyProxyWalletUpdate(deployingWallet())

	snap := s.Snapshot()
	*snap.ProxyWallet.Address = "mutated"
	assert.NotEqual(t, "mutated", *s.Snapshot().ProxyWallet.Address)
}
