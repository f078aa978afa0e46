package onboarding

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// UserStore is the shared, process-wide user state. Every mutation goes
// through a named Apply* method that merges into the current value and skips
// the write when nothing changed.
type UserStore struct {
	mu     sync.Mutex
	state  domain.UserState
	writes int
	subs   map[int]func(domain.UserState)
	nextID int
}

// NewUserStore returns a store seeded with initial.
func NewUserStore(initial domain.UserState) *UserStore {
	return &UserStore{
		state: initial.Clone(),
		subs:  make(map[int]func(domain.UserState)),
	}
}

// Snapshot returns a copy of the current state.
func (s *UserStore) Snapshot() domain.UserState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Writes returns how many updates were committed.
func (s *UserStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Subscribe registers fn to receive the new state after each committed write.
// fn is called without the store lock held. The returned func unsubscribes.
func (s *UserStore) Subscribe(fn func(domain.UserState)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// SetAddress records the signed-in wallet address.
func (s *UserStore) SetAddress(addr string) bool {
	return s.update(func(cur domain.UserState) (domain.UserState, bool) {
		if cur.Address == addr {
			return cur, false
		}
		cur.Address = addr
		return cur, true
	})
}

// ApplyProxyWalletUpdate replaces the proxy wallet record with pw when any
// field differs. The backend owns this record so every field is taken as is.
func (s *UserStore) ApplyProxyWalletUpdate(pw domain.ProxyWallet) bool {
	return s.update(func(cur domain.UserState) (domain.UserState, bool) {
		if cur.ProxyWallet.Equal(pw) {
			return cur, false
		}
		cur.ProxyWallet = pw.Clone()
		return cur, true
	})
}

// ApplyTradingAuthUpdate merges the non-empty fields of ta into the stored
// trading credentials.
func (s *UserStore) ApplyTradingAuthUpdate(ta domain.TradingAuth) bool {
	return s.update(func(cur domain.UserState) (domain.UserState, bool) {
		next := domain.TradingAuth{}
		if cur.TradingAuth != nil {
			next = *cur.TradingAuth
		}
		mergeString(&next.APIKey, ta.APIKey)
		mergeString(&next.APISecret, ta.APISecret)
		mergeString(&next.APIPassphrase, ta.APIPassphrase)
		mergeString(&next.RelayerAPIKey, ta.RelayerAPIKey)
		if !ta.UpdatedAt.IsZero() {
			next.UpdatedAt = ta.UpdatedAt
		}
		if cur.TradingAuth != nil && tradingAuthEqual(*cur.TradingAuth, next) {
			return cur, false
		}
		cur.TradingAuth = &next
		return cur, true
	})
}

// ApplyApprovalsUpdate merges a.Enabled and the non-empty fields of a into the
// stored approvals record.
func (s *UserStore) ApplyApprovalsUpdate(a domain.TokenApprovals) bool {
	return s.update(func(cur domain.UserState) (domain.UserState, bool) {
		next := domain.TokenApprovals{}
		if cur.Approvals != nil {
			next = *cur.Approvals
		}
		next.Enabled = a.Enabled
		mergeString(&next.TxHash, a.TxHash)
		if a.Nonce != nil {
			next.Nonce = a.Nonce
		}
		if !a.UpdatedAt.IsZero() {
			next.UpdatedAt = a.UpdatedAt
		}
		if cur.Approvals != nil && approvalsEqual(*cur.Approvals, next) {
			return cur, false
		}
		cur.Approvals = &next
		return cur, true
	})
}

// update runs fn against a private copy of the state and commits the result
// when fn reports a change.
func (s *UserStore) update(fn func(domain.UserState) (domain.UserState, bool)) bool {
	s.mu.Lock()
	next, changed := fn(s.state.Clone())
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.writes++
	snapshot := next.Clone()
	subs := s.subscribers()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return true
}

// subscribers returns the registered callbacks in registration order.
// Callers must hold s.mu.
func (s *UserStore) subscribers() []func(domain.UserState) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(domain.UserState), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func tradingAuthEqual(a, b domain.TradingAuth) bool {
	return a.APIKey == b.APIKey &&
		a.APISecret == b.APISecret &&
		a.APIPassphrase == b.APIPassphrase &&
		a.RelayerAPIKey == b.RelayerAPIKey &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

func approvalsEqual(a, b domain.TokenApprovals) bool {
	if (a.Nonce == nil) != (b.Nonce == nil) {
		return false
	}
	if a.Nonce != nil && a.Nonce.Cmp(b.Nonce) != 0 {
		return false
	}
	return a.Enabled == b.Enabled && a.TxHash == b.TxHash && a.UpdatedAt.Equal(b.UpdatedAt)
}
