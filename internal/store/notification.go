package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/methminihima/medivault/internal/model"
)

// NotificationStore caches the reconciled notification collection so the
// last known view survives a restart.
type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var metadata string
	err := scanner.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.CreatedAt, &n.Read, &metadata)
	if err != nil {
		return nil, err
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &n.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
		}
	}
	return &n, nil
}

const notificationCols = `id, type, title, message, created_at, read, metadata`

// ListNotifications returns the cached notifications, newest first.
func (s *NotificationStore) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationCols+` FROM notifications ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, &StorageError{Op: "list notifications", Err: err}
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, &StorageError{Op: "scan notification", Err: err}
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list notifications", Err: err}
	}
	return out, nil
}

// ReplaceNotifications atomically swaps the cached collection for items.
func (s *NotificationStore) ReplaceNotifications(ctx context.Context, items []model.Notification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "replace notifications", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notifications`); err != nil {
		return &StorageError{Op: "replace notifications", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO notifications (`+notificationCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &StorageError{Op: "replace notifications", Err: err}
	}
	defer stmt.Close()

	for _, n := range items {
		metadata := []byte("{}")
		if len(n.Metadata) > 0 {
			metadata, err = json.Marshal(n.Metadata)
			if err != nil {
				return &StorageError{Op: "replace notifications", Key: n.ID, Err: err}
			}
		}
		if _, err := stmt.ExecContext(ctx, n.ID, n.Type, n.Title, n.Message, n.CreatedAt.UTC(), n.Read, string(metadata)); err != nil {
			return &StorageError{Op: "replace notifications", Key: n.ID, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "replace notifications", Err: err}
	}
	return nil
}

func (s *NotificationStore) ClearNotifications(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notifications`); err != nil {
		return &StorageError{Op: "clear notifications", Err: err}
	}
	return nil
}
