package domain

import (
	"strings"
	"time"
)

// Condition is the on-chain primitive ingested from the subgraph. It is
// immutable once created.
type Condition struct {
	ID                string `validate:"required"`
	Oracle            string `validate:"required"`
	QuestionID        string `validate:"required"`
	Resolved          bool
	ArweaveHash       string `validate:"required"`
	Creator           string `validate:"required"`
	CreationTimestamp int64  `validate:"gt=0"`
	CreatedAt         time.Time
}

// RawCondition is a condition as returned by the subgraph, before the
// creation timestamp has been parsed.
type RawCondition struct {
	ID                string
	Oracle            string
	QuestionID        string
	Resolved          bool
	ArweaveHash       string
	Creator           string // already resolved: owner when present, lower-cased
	CreationTimestamp string
}

// Event groups one or more markets that share a slug.
type Event struct {
	ID              int64
	Slug            string
	Title           string
	Description     string
	IconURL         string // empty when the icon could not be stored
	Rules           string
	ShowMarketIcons bool
	CreatedAt       time.Time
}

// Market is a single tradable question, tied 1:1 to a condition.
type Market struct {
	ConditionID string
	EventID     int64
	Name        string
	Slug        string
	Description string
	IconURL     string
	CreatedAt   time.Time
}

// Outcome is one possible resolution value of a market.
type Outcome struct {
	ConditionID string
	Index       int
	Text        string
}

// Tag labels events. Tags are deduplicated by normalized slug.
type Tag struct {
	ID   int64
	Name string
	Slug string
}

// NormalizeSlug lower-cases s, trims it and collapses every run of
// non-alphanumeric characters into a single dash.
func NormalizeSlug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
