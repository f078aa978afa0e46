// Package backend is the HTTP client for the platform API that owns proxy
// wallet deployment, trading credentials and relayed approvals.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/predictionhub/internal/crypto"
	"github.com/alanyoungcy/predictionhub/internal/domain"
)

const (
	pathProxy          = "/api/user/proxy"
	pathTradingAuth    = "/api/user/trading-auth"
	pathApprovalNonce  = "/api/user/approvals/nonce"
	pathApprovals      = "/api/user/approvals"
	pathSessionRefresh = "/api/auth/session/refresh"
)

// Client calls the platform backend on behalf of one signed-in user.
//
// Approval submissions carry L2 HMAC headers once trading credentials are
// known, either from SetCredentials or from a successful ExchangeTradingAuth.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu           sync.RWMutex
	sessionToken string
	credAddress  string
	creds        *crypto.Credentials
}

// NewClient creates a backend client. sessionToken is sent as a bearer token
// on every request.
func NewClient(baseURL, sessionToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		sessionToken: sessionToken,
	}
}

// SetCredentials installs trading credentials for address.
func (c *Client) SetCredentials(address string, creds crypto.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credAddress = address
	c.creds = &creds
}

// GetProxyWallet returns the backend's proxy wallet record for the user.
func (c *Client) GetProxyWallet(ctx context.Context) (domain.ProxyWallet, error) {
	var w domain.ProxyWallet
	if err := c.do(ctx, http.MethodGet, pathProxy, nil, &w, false); err != nil {
		return domain.ProxyWallet{}, fmt.Errorf("backend: get proxy wallet: %w", err)
	}
	return w, nil
}

// SubmitProxySignature submits the signed create-proxy message and returns
// the updated record.
func (c *Client) SubmitProxySignature(ctx context.Context, req domain.ProxySignatureRequest) (domain.ProxyWallet, error) {
	var w domain.ProxyWallet
	if err := c.do(ctx, http.MethodPost, pathProxy, req, &w, false); err != nil {
		return domain.ProxyWallet{}, fmt.Errorf("backend: submit proxy signature: %w", err)
	}
	return w, nil
}

// ExchangeTradingAuth trades a ClobAuth signature for trading credentials.
func (c *Client) ExchangeTradingAuth(ctx context.Context, req domain.TradingAuthRequest) (domain.TradingAuth, error) {
	var ta domain.TradingAuth
	if err := c.do(ctx, http.MethodPost, pathTradingAuth, req, &ta, false); err != nil {
		return domain.TradingAuth{}, fmt.Errorf("backend: exchange trading auth: %w", err)
	}
	if creds, ok := crypto.CredentialsFromTradingAuth(&ta); ok {
		c.SetCredentials(req.Address, creds)
	}
	return ta, nil
}

// GetApprovalNonce returns the proxy wallet's current relay nonce.
func (c *Client) GetApprovalNonce(ctx context.Context) (*big.Int, error) {
	var resp struct {
		Nonce json.RawMessage `json:"nonce"`
	}
	if err := c.do(ctx, http.MethodGet, pathApprovalNonce, nil, &resp, false); err != nil {
		return nil, fmt.Errorf("backend: get approval nonce: %w", err)
	}
	raw := strings.Trim(strings.TrimSpace(string(resp.Nonce)), `"`)
	nonce, ok := new(big.Int).SetString(raw, 0)
	if !ok || nonce.Sign() < 0 {
		return nil, fmt.Errorf("backend: get approval nonce: invalid nonce %q", raw)
	}
	return nonce, nil
}

// SubmitApprovals relays the signed approval batch through the proxy wallet.
func (c *Client) SubmitApprovals(ctx context.Context, req domain.ApprovalsRequest) (domain.TokenApprovals, error) {
	if req.Metadata == "" {
		req.Metadata = domain.ApproveTokensMetadata
	}
	var ap domain.TokenApprovals
	if err := c.do(ctx, http.MethodPost, pathApprovals, req, &ap, true); err != nil {
		return domain.TokenApprovals{}, fmt.Errorf("backend: submit approvals: %w", err)
	}
	return ap, nil
}

// RefreshSession asks the backend to re-issue the session so server-side
// flags are reloaded. A returned token replaces the current one.
func (c *Client) RefreshSession(ctx context.Context) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, pathSessionRefresh, struct{}{}, &resp, false); err != nil {
		return fmt.Errorf("backend: refresh session: %w", err)
	}
	if resp.Token != "" {
		c.mu.Lock()
		c.sessionToken = resp.Token
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, signed bool) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	token, creds, credAddress := c.sessionToken, c.creds, c.credAddress
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if signed && creds != nil {
		for k, v := range creds.L2Headers(credAddress, method, path, string(body)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx responses to domain errors. The backend's
// {"error": "..."} message is surfaced so it can be shown to the user.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil {
		switch {
		case apiErr.Error != "":
			msg = apiErr.Error
		case apiErr.Message != "":
			msg = apiErr.Message
		}
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}
