package subgraph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

func serve(t *testing.T, handler func(req graphqlRequest, r *http.Request) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handler(req, r))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func page(nodes ...map[string]any) map[string]any {
	return map[string]any{"data": map[string]any{"conditions": nodes}}
}

func TestFetchConditions_FullSync(t *testing.T) {
	var got graphqlRequest
	var auth string
	srv := serve(t, func(req graphqlRequest, r *http.Request) any {
		got = req
		auth = r.Header.Get("Authorization")
		return page(
			map[string]any{"id": "0xa", "creator": "0xcreator", "owner": "0xOWNER", "creationTimestamp": "100"},
			map[string]any{"id": "0xb", "creator": "0xCREATOR", "owner": nil, "creationTimestamp": "100", "arweaveHash": "h1"},
			map[string]any{"id": "0x0", "creator": "0xc", "creationTimestamp": "101"},
		)
	})

	c := NewClient(srv.URL, "secret")
	conds, err := c.FetchConditions(context.Background(), nil, 200)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", auth)
	assert.NotContains(t, got.Query, "id_gt")
	assert.EqualValues(t, 200, got.Variables["first"])

	require.Len(t, conds, 3)
	// page order is kept as served
	assert.Equal(t, []string{"0xa", "0xb", "0x0"}, []string{conds[0].ID, conds[1].ID, conds[2].ID})
	assert.Equal(t, "0xowner", conds[0].Creator, "owner overrides creator")
	assert.Equal(t, "0xcreator", conds[1].Creator)
	assert.Equal(t, "h1", conds[1].ArweaveHash)
}

func TestFetchConditions_KeysetCursor(t *testing.T) {
	var got graphqlRequest
	srv := serve(t, func(req graphqlRequest, _ *http.Request) any {
		got = req
		return page()
	})

	c := NewClient(srv.URL, "")
	conds, err := c.FetchConditions(context.Background(), &domain.SyncCursor{ConditionID: "0xabc", CreationTimestamp: 1700}, 50)
	require.NoError(t, err)
	assert.Empty(t, conds)

	assert.Contains(t, got.Query, "creationTimestamp_gt: $ts")
	assert.Contains(t, got.Query, "id_gt: $id")
	assert.Equal(t, "1700", got.Variables["ts"])
	assert.Equal(t, "0xabc", got.Variables["id"])
}

func TestFetchConditions_Errors(t *testing.T) {
	t.Run("graphql error", func(t *testing.T) {
		srv := serve(t, func(graphqlRequest, *http.Request) any {
			return map[string]any{"errors": []map[string]any{{"message": "indexing error"}}}
		})
		_, err := NewClient(srv.URL, "").FetchConditions(context.Background(), nil, 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "indexing error")
	})

	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := NewClient(srv.URL, "").FetchConditions(context.Background(), nil, 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 502")
	})
}

func TestFetchConditions_RateLimitHonoursContext(t *testing.T) {
	srv := serve(t, func(graphqlRequest, *http.Request) any { return page() })
	c := NewClient(srv.URL, "", WithRateLimit(0.001))

	_, err := c.FetchConditions(context.Background(), nil, 1)
	require.NoError(t, err, "burst of one passes immediately")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.FetchConditions(ctx, nil, 1)
	assert.Error(t, err)
}
