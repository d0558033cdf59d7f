package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Retry queue operations. Division upserts carry the full replacement set;
// transaction inserts carry the single transaction.
const (
	OpUpsertDivisions = "upsert_divisions"
	OpAddTransaction  = "add_transaction"
)

// ErrQueueFull is returned when the bounded retry queue is at capacity.
// The optimistic local state is already saved, so callers only log it.
var ErrQueueFull = errors.New("retry queue full")

// RetryItem is one pending remote write awaiting replay.
type RetryItem struct {
	ID        int64
	Operation string
	Payload   []byte
	Attempts  int64
	LastError string
	CreatedAt time.Time
}

// QueueStats summarize the retry queue.
type QueueStats struct {
	Pending     int64
	MaxAttempts int64
}

// Enqueue appends a pending remote write. The queue is bounded by maxPending;
// at capacity the item is rejected rather than growing without limit.
func (s *Store) Enqueue(ctx context.Context, operation string, payload []byte, maxPending int64) (int64, error) {
	var pending int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retry_queue`).Scan(&pending); err != nil {
		return 0, fmt.Errorf("count retry queue: %w", err)
	}
	if maxPending > 0 && pending >= maxPending {
		return 0, ErrQueueFull
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO retry_queue (operation, payload) VALUES (?, ?)`,
		operation, payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", operation, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", operation, err)
	}
	return id, nil
}

// DequeueBatch returns up to limit pending items, oldest first. Items stay
// queued until marked done or dropped.
func (s *Store) DequeueBatch(ctx context.Context, limit int64) ([]RetryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, payload, attempts, last_error, created_at
		 FROM retry_queue ORDER BY created_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue retry batch: %w", err)
	}
	defer rows.Close()

	var items []RetryItem
	for rows.Next() {
		var item RetryItem
		if err := rows.Scan(&item.ID, &item.Operation, &item.Payload,
			&item.Attempts, &item.LastError, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan retry item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkDone removes a successfully replayed item.
func (s *Store) MarkDone(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM retry_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark retry done: %w", err)
	}
	return nil
}

// IncrementAttempt records a failed replay attempt.
func (s *Store) IncrementAttempt(ctx context.Context, id int64, lastError string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE retry_queue
		 SET attempts = attempts + 1, last_error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, lastError, id); err != nil {
		return fmt.Errorf("increment retry attempt: %w", err)
	}
	return nil
}

// Drop removes an item that exceeded its attempt budget.
func (s *Store) Drop(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM retry_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("drop retry item: %w", err)
	}
	return nil
}

// Stats returns the current queue depth and the highest attempt count seen.
func (s *Store) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	var maxAttempts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(attempts) FROM retry_queue`).
		Scan(&stats.Pending, &maxAttempts)
	if err != nil {
		return stats, fmt.Errorf("retry queue stats: %w", err)
	}
	stats.MaxAttempts = maxAttempts.Int64
	return stats, nil
}
