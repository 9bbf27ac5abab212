package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/paircal/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した蓄積通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// Insert は通知を追記する。
func (r *PostgresNotificationRepo) Insert(ctx context.Context, n *model.StoredNotification) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO stored_notifications (recipient_id, transition, event_id, title, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		n.RecipientID, n.Transition, n.EventID, n.Title, n.Body, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("failed to insert stored notification: %w", err)
	}
	return nil
}

// ListSince は指定ユーザー宛の通知をid昇順で返す。
func (r *PostgresNotificationRepo) ListSince(ctx context.Context, recipientID string, sinceID int64, limit int) ([]*model.StoredNotification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, recipient_id, transition, event_id, title, body, created_at
		 FROM stored_notifications
		 WHERE recipient_id = $1 AND id > $2
		 ORDER BY id ASC
		 LIMIT $3`,
		recipientID, sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.StoredNotification
	for rows.Next() {
		n := &model.StoredNotification{}
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Transition, &n.EventID, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stored notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stored notifications: %w", err)
	}

	return notifications, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
