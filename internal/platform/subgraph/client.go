// Package subgraph queries the conditions subgraph that indexes the
// conditional tokens contract.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

const conditionFields = `
	id
	oracle
	questionId
	resolved
	arweaveHash
	creator
	owner
	creationTimestamp
`

const conditionsQuery = `
	query Conditions($first: Int!) {
		conditions(first: $first, orderBy: creationTimestamp, orderDirection: asc) {` + conditionFields + `}
	}
`

// conditionsAfterQuery is the keyset page after (ts, id). graph-node breaks
// orderBy ties by id, which is the order the id_gt branch pages through.
const conditionsAfterQuery = `
	query ConditionsAfter($first: Int!, $ts: BigInt!, $id: ID!) {
		conditions(
			first: $first
			orderBy: creationTimestamp
			orderDirection: asc
			where: { or: [{ creationTimestamp_gt: $ts }, { creationTimestamp: $ts, id_gt: $id }] }
		) {` + conditionFields + `}
	}
`

// Client is a GraphQL client for the conditions subgraph.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests per second. Zero disables throttling.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewClient creates a subgraph client. apiKey, when set, is sent as a bearer
// token.
func NewClient(graphqlURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type conditionNode struct {
	ID                string  `json:"id"`
	Oracle            string  `json:"oracle"`
	QuestionID        string  `json:"questionId"`
	Resolved          bool    `json:"resolved"`
	ArweaveHash       string  `json:"arweaveHash"`
	Creator           string  `json:"creator"`
	Owner             *string `json:"owner"`
	CreationTimestamp string  `json:"creationTimestamp"`
}

// FetchConditions returns up to first conditions strictly after cursor in
// (creationTimestamp, id) order, as served by the subgraph. A nil cursor
// starts from the beginning.
func (c *Client) FetchConditions(ctx context.Context, cursor *domain.SyncCursor, first int) ([]domain.RawCondition, error) {
	query := conditionsQuery
	vars := map[string]any{"first": first}
	if cursor != nil {
		query = conditionsAfterQuery
		vars["ts"] = strconv.FormatInt(cursor.CreationTimestamp, 10)
		vars["id"] = cursor.ConditionID
	}

	data, err := c.doQuery(ctx, query, vars)
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch conditions: %w", err)
	}

	var result struct {
		Conditions []conditionNode `json:"conditions"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("subgraph: decode conditions: %w", err)
	}

	out := make([]domain.RawCondition, 0, len(result.Conditions))
	for _, n := range result.Conditions {
		creator := n.Creator
		if n.Owner != nil && strings.TrimSpace(*n.Owner) != "" {
			creator = *n.Owner
		}
		out = append(out, domain.RawCondition{
			ID:                n.ID,
			Oracle:            n.Oracle,
			QuestionID:        n.QuestionID,
			Resolved:          n.Resolved,
			ArweaveHash:       n.ArweaveHash,
			Creator:           strings.ToLower(strings.TrimSpace(creator)),
			CreationTimestamp: n.CreationTimestamp,
		})
	}
	return out, nil
}

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 512))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	return gqlResp.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
