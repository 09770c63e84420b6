package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID         string
	UserID     string
	Type       string
	Message    string
	SourceType string
	SourceID   string
	RelatedID  *string
	Read       bool
	CreatedAt  time.Time
}

// Notification types written by the surfacing agent.
const (
	NotifSimilarIdea     = "similar_idea"
	NotifRelevantUser    = "relevant_user"
	NotifReconnection    = "reconnection_suggestion"
	NotifOrphanedIdea    = "orphaned_idea"
	NotifWatchedActivity = "watched_activity"
)

func (s *Store) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, type, message, source_type, source_id, related_id)
			VALUES (?, ?, ?, ?, ?, ?, ?);
		`, n.ID, n.UserID, n.Type, n.Message, n.SourceType, n.SourceID, n.RelatedID)
		return execErr
	})
	if err != nil {
		return Notification{}, fmt.Errorf("create notification: %w", err)
	}
	n.CreatedAt = time.Now().UTC()
	return n, nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	query := `
		SELECT id, user_id, type, message, source_type, source_id, related_id, read, created_at
		FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC, rowid DESC;`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n         Notification
			relatedID *string
			read      int
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &n.SourceType, &n.SourceID, &relatedID, &read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.RelatedID = relatedID
		n.Read = read != 0
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("notification %s: %w", id, errNotFound)
	}
	return nil
}
