package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionhub/internal/crypto"
	"github.com/alanyoungcy/predictionhub/internal/domain"
)

type recorded struct {
	method, path, auth string
	headers            http.Header
	body               []byte
}

func newServer(t *testing.T, routes map[string]string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{
			method:  r.Method,
			path:    r.URL.Path,
			auth:    r.Header.Get("Authorization"),
			headers: r.Header.Clone(),
			body:    body,
		})
		resp, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no route"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGetProxyWallet(t *testing.T) {
	srv, calls := newServer(t, map[string]string{
		"GET /api/user/proxy": `{"proxy_wallet_address":"0xproxy","proxy_wallet_status":"deploying","proxy_wallet_tx_hash":"0xtx"}`,
	})
	c := NewClient(srv.URL, "tok", time.Second)

	w, err := c.GetProxyWallet(context.Background())
	require.NoError(t, err)
	require.True(t, w.HasAddress())
	assert.Equal(t, "0xproxy", *w.Address)
	assert.Equal(t, domain.ProxyWalletStatusDeploying, w.Status)
	assert.Equal(t, "Bearer tok", (*calls)[0].auth)
}

func TestErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathProxy:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"session expired"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"relayer unavailable"}`))
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "", time.Second)

	_, err := c.GetProxyWallet(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Contains(t, err.Error(), "session expired")

	_, err = c.SubmitApprovals(context.Background(), domain.ApprovalsRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500: relayer unavailable")
}

func TestExchangeTradingAuthEnablesSignedApprovals(t *testing.T) {
	srv, calls := newServer(t, map[string]string{
		"POST /api/user/trading-auth": `{"api_key":"key-1","api_secret":"c2VjcmV0","api_passphrase":"pass"}`,
		"POST /api/user/approvals":    `{"enabled":true,"tx_hash":"0xabc","nonce":7}`,
	})
	c := NewClient(srv.URL, "tok", time.Second)

	ta, err := c.ExchangeTradingAuth(context.Background(), domain.TradingAuthRequest{
		Address: "0xeoa", Signature: "0xsig", Timestamp: 100, Nonce: 0,
	})
	require.NoError(t, err)
	assert.True(t, ta.Complete())

	var sent map[string]any
	require.NoError(t, json.Unmarshal((*calls)[0].body, &sent))
	assert.Equal(t, "0xeoa", sent["address"])
	assert.EqualValues(t, 100, sent["timestamp"])

	ap, err := c.SubmitApprovals(context.Background(), domain.ApprovalsRequest{From: "0xproxy", Nonce: "7"})
	require.NoError(t, err)
	assert.True(t, ap.Enabled)
	assert.EqualValues(t, 7, ap.Nonce.Int64())

	last := (*calls)[1]
	assert.Equal(t, "0xeoa", last.headers.Get("POLY_ADDRESS"))
	assert.Equal(t, "key-1", last.headers.Get("POLY_API_KEY"))
	assert.NotEmpty(t, last.headers.Get("POLY_SIGNATURE"))

	require.NoError(t, json.Unmarshal(last.body, &sent))
	assert.Equal(t, domain.ApproveTokensMetadata, sent["metadata"])
}

func TestSubmitApprovalsUnsignedWithoutCredentials(t *testing.T) {
	srv, calls := newServer(t, map[string]string{
		"POST /api/user/approvals": `{"enabled":true}`,
	})
	c := NewClient(srv.URL, "", time.Second)

	_, err := c.SubmitApprovals(context.Background(), domain.ApprovalsRequest{})
	require.NoError(t, err)
	assert.Empty(t, (*calls)[0].headers.Get("POLY_SIGNATURE"))

	c.SetCredentials("0xeoa", crypto.Credentials{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"})
	_, err = c.SubmitApprovals(context.Background(), domain.ApprovalsRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, (*calls)[1].headers.Get("POLY_SIGNATURE"))
}

func TestGetApprovalNonce(t *testing.T) {
	for name, body := range map[string]string{
		"number": `{"nonce":42}`,
		"string": `{"nonce":"42"}`,
		"hex":    `{"nonce":"0x2a"}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv, _ := newServer(t, map[string]string{"GET /api/user/approvals/nonce": body})
			n, err := NewClient(srv.URL, "", time.Second).GetApprovalNonce(context.Background())
			require.NoError(t, err)
			assert.EqualValues(t, 42, n.Int64())
		})
	}

	srv, _ := newServer(t, map[string]string{"GET /api/user/approvals/nonce": `{"nonce":"abc"}`})
	_, err := NewClient(srv.URL, "", time.Second).GetApprovalNonce(context.Background())
	assert.Error(t, err)
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	srv, calls := newServer(t, map[string]string{
		"POST /api/auth/session/refresh": `{"token":"fresh"}`,
		"GET /api/user/proxy":            `{"proxy_wallet_status":"none"}`,
	})
	c := NewClient(srv.URL, "stale", time.Second)

	require.NoError(t, c.RefreshSession(context.Background()))
	_, err := c.GetProxyWallet(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer stale", (*calls)[0].auth)
	assert.Equal(t, "Bearer fresh", (*calls)[1].auth)
}
