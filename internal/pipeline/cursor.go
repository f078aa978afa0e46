package pipeline

import "github.com/alanyoungcy/predictionhub/internal/domain"

// Cursor is an immutable sync position. The zero value means "before the
// first condition".
type Cursor struct {
	pos *domain.SyncCursor
}

// NewCursor wraps an optional stored position.
func NewCursor(pos *domain.SyncCursor) Cursor {
	if pos == nil {
		return Cursor{}
	}
	p := *pos
	return Cursor{pos: &p}
}

// Position returns a copy of the position, or nil for the zero cursor.
func (c Cursor) Position() *domain.SyncCursor {
	if c.pos == nil {
		return nil
	}
	p := *c.pos
	return &p
}

// IsZero reports whether no record has been examined yet.
func (c Cursor) IsZero() bool { return c.pos == nil }

// Advance returns the cursor moved to (id, ts). Positions at or before the
// current one return c unchanged, so a cursor never moves backwards.
func (c Cursor) Advance(id string, ts int64) Cursor {
	next := domain.SyncCursor{ConditionID: id, CreationTimestamp: ts}
	if c.pos != nil && !c.pos.Less(next) {
		return c
	}
	return Cursor{pos: &next}
}

// Equal reports whether both cursors point at the same position.
func (c Cursor) Equal(other Cursor) bool {
	if c.pos == nil || other.pos == nil {
		return c.pos == other.pos
	}
	return c.pos.Compare(*other.pos) == 0
}
