package domain

import (
	"strings"
	"time"
)

// SyncCursor marks the resume point of the condition sync. Cursors are totally
// ordered by creation timestamp, then by condition id; this composite order is
// the pagination contract with the subgraph.
type SyncCursor struct {
	ConditionID       string `json:"conditionId"`
	CreationTimestamp int64  `json:"creationTimestamp"`
}

// Compare returns -1, 0 or +1 depending on whether c sorts before, equal to or
// after other.
func (c SyncCursor) Compare(other SyncCursor) int {
	switch {
	case c.CreationTimestamp < other.CreationTimestamp:
		return -1
	case c.CreationTimestamp > other.CreationTimestamp:
		return 1
	}
	return strings.Compare(c.ConditionID, other.ConditionID)
}

// Less reports whether c sorts strictly before other.
func (c SyncCursor) Less(other SyncCursor) bool {
	return c.Compare(other) < 0
}

// SyncState is the lifecycle value of a sync_status row.
type SyncState string

const (
	SyncStateIdle      SyncState = "idle"
	SyncStateRunning   SyncState = "running"
	SyncStateCompleted SyncState = "completed"
	SyncStateError     SyncState = "error"
)

// SyncStatus is the persisted status row of one sync job, keyed by
// (ServiceName, SubgraphName).
type SyncStatus struct {
	ServiceName    string    `json:"service_name"`
	SubgraphName   string    `json:"subgraph_name"`
	Status         SyncState `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	TotalProcessed int       `json:"total_processed"`
	// Cursor is the last record the run examined. Nil until a run has
	// examined at least one record.
	Cursor    *SyncCursor `json:"cursor,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SyncRecordError identifies a condition that failed to materialize.
type SyncRecordError struct {
	ConditionID string `json:"conditionId"`
	Error       string `json:"error"`
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Success          bool              `json:"success"`
	Processed        int               `json:"processed"`
	Fetched          int               `json:"fetched"`
	SkippedExisting  int               `json:"skippedExisting"`
	SkippedCreators  int               `json:"skippedCreators"`
	SkippedInvalid   int               `json:"skippedInvalid"`
	Errors           int               `json:"errors"`
	ErrorDetails     []SyncRecordError `json:"errorDetails"`
	TimeLimitReached bool              `json:"timeLimitReached"`
	Cursor           *SyncCursor       `json:"cursor,omitempty"`
}
