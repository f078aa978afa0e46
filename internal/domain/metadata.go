package domain

// Metadata is the off-chain JSON document a condition's content hash points
// to on the metadata gateway.
type Metadata struct {
	Name        string            `json:"name" validate:"required"`
	Slug        string            `json:"slug" validate:"required"`
	Description string            `json:"description"`
	Icon        string            `json:"icon"`
	Outcomes    []MetadataOutcome `json:"outcomes" validate:"dive"`
	Event       *EventMetadata    `json:"event" validate:"required"`
}

// MetadataOutcome is a single outcome entry; its array position is the
// outcome index.
type MetadataOutcome struct {
	Outcome string `json:"outcome" validate:"required"`
}

// EventMetadata describes the parent event of a market.
type EventMetadata struct {
	Slug            string   `json:"slug" validate:"required"`
	Title           string   `json:"title" validate:"required"`
	Description     string   `json:"description"`
	Icon            string   `json:"icon"`
	Rules           string   `json:"rules"`
	Tags            []string `json:"tags"`
	ShowMarketIcons bool     `json:"show_market_icons"`
}
