package domain

import (
	"math/big"
	"time"
)

// ProxyWalletStatus is the deployment state of a user's proxy wallet as
// reported by the backend.
type ProxyWalletStatus string

const (
	ProxyWalletStatusNone      ProxyWalletStatus = "none"
	ProxyWalletStatusSigning   ProxyWalletStatus = "signing"
	ProxyWalletStatusDeploying ProxyWalletStatus = "deploying"
	ProxyWalletStatusDeployed  ProxyWalletStatus = "deployed"
)

// ProxyWallet is the backend-owned record of a user's smart-contract wallet.
// Clients hold a read-only copy refreshed by polling.
type ProxyWallet struct {
	Address   *string           `json:"proxy_wallet_address"`
	Signature string            `json:"proxy_wallet_signature"`
	SignedAt  *time.Time        `json:"proxy_wallet_signed_at"`
	Status    ProxyWalletStatus `json:"proxy_wallet_status"`
	TxHash    string            `json:"proxy_wallet_tx_hash"`
}

// Equal reports whether every field of p matches other.
func (p ProxyWallet) Equal(other ProxyWallet) bool {
	if !equalStringPtr(p.Address, other.Address) {
		return false
	}
	if (p.SignedAt == nil) != (other.SignedAt == nil) {
		return false
	}
	if p.SignedAt != nil && !p.SignedAt.Equal(*other.SignedAt) {
		return false
	}
	return p.Signature == other.Signature &&
		p.Status == other.Status &&
		p.TxHash == other.TxHash
}

// Deployed reports whether the backend considers the wallet fully deployed.
func (p ProxyWallet) Deployed() bool {
	return p.Status == ProxyWalletStatusDeployed
}

// HasAddress reports whether the wallet has a known address.
func (p ProxyWallet) HasAddress() bool {
	return p.Address != nil && *p.Address != ""
}

// TradingAuth holds the relayer/CLOB credentials obtained by exchanging a
// trading-auth signature.
type TradingAuth struct {
	APIKey        string    `json:"api_key"`
	APISecret     string    `json:"api_secret"`
	APIPassphrase string    `json:"api_passphrase"`
	RelayerAPIKey string    `json:"relayer_api_key"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Complete reports whether the CLOB credential triple is present.
func (t TradingAuth) Complete() bool {
	return t.APIKey != "" && t.APISecret != "" && t.APIPassphrase != ""
}

// TokenApprovals records the outcome of the batched token approval.
type TokenApprovals struct {
	Enabled   bool      `json:"enabled"`
	TxHash    string    `json:"tx_hash"`
	Nonce     *big.Int  `json:"nonce"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserState is the shared client-side view of the signed-in user.
type UserState struct {
	Address     string
	ProxyWallet ProxyWallet
	TradingAuth *TradingAuth
	Approvals   *TokenApprovals
}

// HasDeployedProxyWallet reports the server-side proxy flag.
func (u UserState) HasDeployedProxyWallet() bool {
	return u.ProxyWallet.HasAddress() && u.ProxyWallet.Deployed()
}

// HasTradingAuth reports the server-side trading-auth flag.
func (u UserState) HasTradingAuth() bool {
	return u.TradingAuth != nil && u.TradingAuth.Complete()
}

// HasTokenApprovals reports the server-side approvals flag.
func (u UserState) HasTokenApprovals() bool {
	return u.Approvals != nil && u.Approvals.Enabled
}

// ServerReady reports whether the server-reported flags alone allow trading.
func (u UserState) ServerReady() bool {
	return u.HasTradingAuth() && u.HasDeployedProxyWallet() && u.HasTokenApprovals()
}

// Clone returns a deep copy of u so callers can hold it without sharing
// pointers with the store.
func (u UserState) Clone() UserState {
	out := u
	out.ProxyWallet = u.ProxyWallet.Clone()
	if u.TradingAuth != nil {
		ta := *u.TradingAuth
		out.TradingAuth = &ta
	}
	if u.Approvals != nil {
		ap := *u.Approvals
		if u.Approvals.Nonce != nil {
			ap.Nonce = new(big.Int).Set(u.Approvals.Nonce)
		}
		out.Approvals = &ap
	}
	return out
}

// Clone returns a deep copy of p.
func (p ProxyWallet) Clone() ProxyWallet {
	out := p
	if p.Address != nil {
		a := *p.Address
		out.Address = &a
	}
	if p.SignedAt != nil {
		t := *p.SignedAt
		out.SignedAt = &t
	}
	return out
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
