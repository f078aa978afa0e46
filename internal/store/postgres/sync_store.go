package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// Store implements domain.SyncStore.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const syncStatusColumns = `
	service_name, subgraph_name, status, COALESCE(error_message, ''), total_processed,
	cursor_condition_id, cursor_creation_timestamp, updated_at`

// GetSyncStatus returns the status row for (service, subgraph).
func (s *Store) GetSyncStatus(ctx context.Context, serviceName, subgraphName string) (domain.SyncStatus, error) {
	query := `SELECT ` + syncStatusColumns + `
		FROM sync_status
		WHERE service_name = $1 AND subgraph_name = $2`

	st, err := scanSyncStatus(s.pool.QueryRow(ctx, query, serviceName, subgraphName))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SyncStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SyncStatus{}, fmt.Errorf("postgres: get sync status %s/%s: %w", serviceName, subgraphName, err)
	}
	return st, nil
}

// SaveSyncStatus upserts the status row.
func (s *Store) SaveSyncStatus(ctx context.Context, st domain.SyncStatus) error {
	const query = `
		INSERT INTO sync_status (
			service_name, subgraph_name, status, error_message, total_processed,
			cursor_condition_id, cursor_creation_timestamp, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (service_name, subgraph_name) DO UPDATE SET
			status                    = EXCLUDED.status,
			error_message             = EXCLUDED.error_message,
			total_processed           = EXCLUDED.total_processed,
			cursor_condition_id       = EXCLUDED.cursor_condition_id,
			cursor_creation_timestamp = EXCLUDED.cursor_creation_timestamp,
			updated_at                = EXCLUDED.updated_at`

	cursorID, cursorTS := cursorColumns(st.Cursor)
	_, err := s.pool.Exec(ctx, query,
		st.ServiceName, st.SubgraphName, string(st.Status), nullString(st.ErrorMessage),
		st.TotalProcessed, cursorID, cursorTS, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save sync status %s/%s: %w", st.ServiceName, st.SubgraphName, err)
	}
	return nil
}

// ListSyncStatuses returns every status row ordered by service.
func (s *Store) ListSyncStatuses(ctx context.Context) ([]domain.SyncStatus, error) {
	query := `SELECT ` + syncStatusColumns + `
		FROM sync_status
		ORDER BY service_name, subgraph_name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sync status: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncStatus
	for rows.Next() {
		st, err := scanSyncStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan sync status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanSyncStatus(row pgx.Row) (domain.SyncStatus, error) {
	var (
		st       domain.SyncStatus
		status   string
		cursorID *string
		cursorTS *int64
	)
	if err := row.Scan(
		&st.ServiceName, &st.SubgraphName, &status, &st.ErrorMessage, &st.TotalProcessed,
		&cursorID, &cursorTS, &st.UpdatedAt,
	); err != nil {
		return domain.SyncStatus{}, err
	}
	st.Status = domain.SyncState(status)
	if cursorID != nil && cursorTS != nil {
		st.Cursor = &domain.SyncCursor{ConditionID: *cursorID, CreationTimestamp: *cursorTS}
	}
	return st, nil
}

// LatestCursor returns the position of the newest stored condition.
func (s *Store) LatestCursor(ctx context.Context) (*domain.SyncCursor, error) {
	const query = `
		SELECT id, creation_timestamp
		FROM conditions
		ORDER BY creation_timestamp DESC, id DESC
		LIMIT 1`

	var c domain.SyncCursor
	err := s.pool.QueryRow(ctx, query).Scan(&c.ConditionID, &c.CreationTimestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: latest cursor: %w", err)
	}
	return &c, nil
}

// UpsertCondition inserts c. Conditions are immutable, so an existing row is
// left untouched.
func (s *Store) UpsertCondition(ctx context.Context, c domain.Condition) error {
	const query = `
		INSERT INTO conditions (
			id, oracle, question_id, resolved, arweave_hash, creator, creation_timestamp, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		c.ID, c.Oracle, c.QuestionID, c.Resolved, c.ArweaveHash, c.Creator,
		c.CreationTimestamp, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert condition %s: %w", c.ID, err)
	}
	return nil
}

// ExistingMarkets returns the subset of conditionIDs with a market row.
func (s *Store) ExistingMarkets(ctx context.Context, conditionIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(conditionIDs))
	if len(conditionIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT condition_id FROM markets WHERE condition_id = ANY($1)`,
		conditionIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: existing markets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan market id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func cursorColumns(c *domain.SyncCursor) (*string, *int64) {
	if c == nil {
		return nil, nil
	}
	id, ts := c.ConditionID, c.CreationTimestamp
	return &id, &ts
}

// nullString maps "" to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
