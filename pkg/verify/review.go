package verify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clearlane/tariffcore/pkg/sqldb"
)

// ReviewStore is the durable queue of failed verifications awaiting human
// action.
type ReviewStore struct {
	db *sqldb.DB
}

// NewReviewStore opens the store and ensures the schema exists.
func NewReviewStore(db *sqldb.DB) (*ReviewStore, error) {
	s := &ReviewStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ReviewStore) migrate() error {
	_, err := s.db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS needs_review_queue (
			id TEXT PRIMARY KEY,
			hts_code TEXT NOT NULL,
			query_type TEXT NOT NULL,
			material TEXT NOT NULL DEFAULT '',
			reader_output TEXT NOT NULL DEFAULT '',
			validator_output TEXT NOT NULL DEFAULT '',
			block_reason TEXT NOT NULL,
			block_details TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			priority INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("verify: migrate review queue: %w", err)
	}
	return nil
}

// Enqueue records a blocked verification attempt.
func (s *ReviewStore) Enqueue(ctx context.Context, item *ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = ReviewPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO needs_review_queue (
			id, hts_code, query_type, material, reader_output, validator_output,
			block_reason, block_details, status, priority, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		item.ID, item.HTSCode, item.QueryType, item.Material, item.ReaderOutput,
		item.ValidatorOutput, item.BlockReason, item.BlockDetails,
		string(item.Status), item.Priority, fmtTime(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("verify: enqueue review: %w", err)
	}
	return nil
}

// List returns queue items by status, highest priority first.
func (s *ReviewStore) List(ctx context.Context, status ReviewStatus, limit int) ([]ReviewItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, hts_code, query_type, material, reader_output, validator_output,
			block_reason, block_details, status, priority, created_at
		FROM needs_review_queue
		WHERE status = ?
		ORDER BY priority DESC, created_at
		LIMIT ?`),
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("verify: list review queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ReviewItem
	for rows.Next() {
		var item ReviewItem
		var st, created string
		if err := rows.Scan(&item.ID, &item.HTSCode, &item.QueryType, &item.Material,
			&item.ReaderOutput, &item.ValidatorOutput, &item.BlockReason,
			&item.BlockDetails, &st, &item.Priority, &created); err != nil {
			return nil, fmt.Errorf("verify: scan review item: %w", err)
		}
		item.Status = ReviewStatus(st)
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			item.CreatedAt = t
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verify: review rows: %w", err)
	}
	return out, nil
}

// SetStatus resolves or dismisses an item.
func (s *ReviewStore) SetStatus(ctx context.Context, id string, status ReviewStatus) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE needs_review_queue SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return fmt.Errorf("verify: set review status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PendingCount returns the number of pending items, for the stats CLI.
func (s *ReviewStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM needs_review_queue WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("verify: pending count: %w", err)
	}
	return n, nil
}
