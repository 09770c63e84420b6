package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Queue names a durable FIFO buffer of work items.
type Queue string

const (
	// QueueConnection holds items needing relationship analysis.
	QueueConnection Queue = "connection"
	// QueueNurture holds nascent ideas needing encouragement.
	QueueNurture Queue = "nurture"
	// QueueSurfacing holds items needing user notification.
	QueueSurfacing Queue = "surfacing"
	// QueueObjectiveReview holds ideas needing review after objective changes.
	QueueObjectiveReview Queue = "objective_review"
)

// Queues returns every known queue, for maintenance sweeps.
func Queues() []Queue {
	return []Queue{QueueConnection, QueueNurture, QueueSurfacing, QueueObjectiveReview}
}

// ItemStatus is a queue item's lifecycle state. Transitions are
// pending→processing→{completed,failed}; failed→pending only via RetryFailed.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
)

// Payload is a queue item's JSON-decoded body. Numeric fields decode as
// float64.
type Payload map[string]any

// String returns the named field as a string, or "" if absent or not a string.
func (p Payload) String(key string) string {
	v, _ := p[key].(string)
	return v
}

// Float returns the named field as a float64, or 0.
func (p Payload) Float(key string) float64 {
	v, _ := p[key].(float64)
	return v
}

// QueueItem is one unit of background work. Delivery is at-least-once;
// consumers must tolerate re-processing.
type QueueItem struct {
	ID          string
	Queue       Queue
	Payload     Payload
	Status      ItemStatus
	Attempts    int
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func encodePayload(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}

func decodePayload(data string) Payload {
	if data == "" {
		return Payload{}
	}
	var out Payload
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return Payload{}
	}
	return out
}

// Enqueue appends a pending item to the named queue.
func (s *Store) Enqueue(ctx context.Context, queue Queue, payload map[string]any) (QueueItem, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return QueueItem{}, err
	}
	id := uuid.NewString()
	err = retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO queue_items (id, queue, payload, status, attempts)
			VALUES (?, ?, ?, ?, 0);
		`, id, queue, raw, StatusPending)
		return execErr
	})
	if err != nil {
		return QueueItem{}, fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return QueueItem{
		ID:        id,
		Queue:     queue,
		Payload:   decodePayload(raw),
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Dequeue atomically claims up to limit pending items, oldest first, and
// flips them to processing. The claim is a conditional update keyed by
// status, so two concurrent callers never receive the same item even if
// they selected overlapping candidates.
func (s *Store) Dequeue(ctx context.Context, queue Queue, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		limit = 10
	}

	var claimed []QueueItem
	err := retryOnBusy(ctx, 5, func() error {
		claimed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin dequeue tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT id, queue, payload, status, attempts, created_at, processed_at
			FROM queue_items
			WHERE queue = ? AND status = ?
			ORDER BY created_at ASC, rowid ASC
			LIMIT ?;
		`, queue, StatusPending, limit)
		if err != nil {
			return fmt.Errorf("select pending items: %w", err)
		}
		candidates, err := scanQueueItems(rows)
		if err != nil {
			return err
		}

		for _, item := range candidates {
			res, err := tx.ExecContext(ctx, `
				UPDATE queue_items
				SET status = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND status = ?;
			`, StatusProcessing, item.ID, StatusPending)
			if err != nil {
				return fmt.Errorf("claim item %s: %w", item.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("claim rows affected: %w", err)
			}
			if n != 1 {
				// Lost the race to another claimer.
				continue
			}
			item.Status = StatusProcessing
			claimed = append(claimed, item)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete marks a processing item completed.
func (s *Store) Complete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = ?, processed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?;
	`, StatusCompleted, id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("complete item %s: %w", id, errNotFound)
	}
	return nil
}

// Fail marks a processing item failed and increments its attempt count.
func (s *Store) Fail(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = ?, attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?;
	`, StatusFailed, id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("fail item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("fail item %s: %w", id, errNotFound)
	}
	return nil
}

// RetryFailed requeues failed items whose attempts are below maxAttempts.
// Items at or above the ceiling stay failed (dead letter). Returns the
// number requeued.
func (s *Store) RetryFailed(ctx context.Context, queue Queue, maxAttempts int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE queue = ? AND status = ? AND attempts < ?;
	`, StatusPending, queue, StatusFailed, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	return res.RowsAffected()
}

// RequeueStale returns processing items that have been untouched longer
// than olderThan to pending. This is the crash-recovery sweep: a consumer
// that died mid-item left it in processing with no owner.
func (s *Store) RequeueStale(ctx context.Context, queue Queue, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE queue = ? AND status = ? AND updated_at < ?;
	`, StatusPending, queue, StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale: %w", err)
	}
	return res.RowsAffected()
}

// RemoveByPayloadMatch deletes pending items whose payload contains every
// field of match with an equal value. Used to cancel work that became
// irrelevant, e.g. nurture items for an idea that gained structure.
func (s *Store) RemoveByPayloadMatch(ctx context.Context, queue Queue, match map[string]any) (int64, error) {
	if len(match) == 0 {
		return 0, nil
	}
	// Round-trip through JSON so numbers compare the same way as the
	// decoded payloads (float64).
	normalized := decodePayload(mustJSON(match))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM queue_items
		WHERE queue = ? AND status = ?;
	`, queue, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("select pending for match: %w", err)
	}
	defer rows.Close()

	var ids []any
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return 0, fmt.Errorf("scan pending item: %w", err)
		}
		if payloadMatches(decodePayload(raw), normalized) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("pending rows: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM queue_items WHERE id IN (%s) AND status = 'pending';`,
			strings.Join(placeholders, ", ")), ids...)
	if err != nil {
		return 0, fmt.Errorf("delete matched items: %w", err)
	}
	return res.RowsAffected()
}

// CleanupCompleted deletes completed items processed before the cutoff.
func (s *Store) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM queue_items
		WHERE status = ? AND processed_at IS NOT NULL AND processed_at < ?;
	`, StatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup completed: %w", err)
	}
	return res.RowsAffected()
}

// GetQueueItem fetches one item by id.
func (s *Store) GetQueueItem(ctx context.Context, id string) (QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, queue, payload, status, attempts, created_at, processed_at
		FROM queue_items WHERE id = ?;
	`, id)
	item, err := scanQueueItem(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return QueueItem{}, fmt.Errorf("queue item %s: %w", id, errNotFound)
		}
		return QueueItem{}, err
	}
	return item, nil
}

// CountPending counts pending items in a queue.
func (s *Store) CountPending(ctx context.Context, queue Queue) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM queue_items WHERE queue = ? AND status = ?;
	`, queue, StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// CountByStatus returns per-status item counts for a queue.
func (s *Store) CountByStatus(ctx context.Context, queue Queue) (map[ItemStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(1) FROM queue_items WHERE queue = ? GROUP BY status;
	`, queue)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	out := map[ItemStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[ItemStatus(status)] = n
	}
	return out, rows.Err()
}

func scanQueueItem(scan func(dest ...any) error) (QueueItem, error) {
	var (
		item        QueueItem
		queue       string
		payload     string
		status      string
		createdAt   string
		processedAt sql.NullString
	)
	if err := scan(&item.ID, &queue, &payload, &status, &item.Attempts, &createdAt, &processedAt); err != nil {
		return QueueItem{}, err
	}
	item.Queue = Queue(queue)
	item.Payload = decodePayload(payload)
	item.Status = ItemStatus(status)
	item.CreatedAt = parseTime(createdAt)
	item.ProcessedAt = nullableTime(processedAt)
	return item, nil
}

func scanQueueItems(rows *sql.Rows) ([]QueueItem, error) {
	defer rows.Close()
	var out []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func payloadMatches(payload, match map[string]any) bool {
	for k, want := range match {
		got, ok := payload[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func mustJSON(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

