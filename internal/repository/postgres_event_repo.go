package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/paircal/internal/model"
	"github.com/lib/pq"
)

// PostgresEventRepo はPostgreSQLを使用した予定リポジトリ。
// 書き込み系メソッドは変更フィードへの追記を同一トランザクションで行い、
// 「永続化された変更は必ず配信対象になる」ことを保証する。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

const eventColumns = `id, owner_id, type, title, description, event_date, location,
	priority, assigned_to, category, completed, reminder_enabled, reminder_lead_minutes,
	repeat, version, reminder_fired_at, overdue_notified_at, created_at, updated_at`

// FindByID は指定IDの予定を取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByID(ctx context.Context, id string) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event by ID: %w", err)
	}
	return event, nil
}

// FindTombstone は指定予定の墓石を取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindTombstone(ctx context.Context, eventID string) (*model.Tombstone, error) {
	ts := &model.Tombstone{}
	err := r.db.QueryRowContext(ctx,
		`SELECT event_id, owner_id, version, deleted_at FROM event_tombstones WHERE event_id = $1`,
		eventID,
	).Scan(&ts.EventID, &ts.OwnerID, &ts.Version, &ts.DeletedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tombstone: %w", err)
	}
	return ts, nil
}

// ListVisible は指定ユーザー群が所有する予定をevent_date昇順（同時刻はid昇順）で返す。
func (r *PostgresEventRepo) ListVisible(ctx context.Context, ownerIDs []string) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE owner_id = ANY($1)
		 ORDER BY event_date ASC, id ASC`,
		pq.Array(ownerIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list visible events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// CreateWithChange は予定の作成と変更レコードの追記を同一トランザクションで行う。
func (r *PostgresEventRepo) CreateWithChange(ctx context.Context, event *model.Event, change *model.ChangeRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, owner_id, type, title, description, event_date, location,
		   priority, assigned_to, category, completed, reminder_enabled, reminder_lead_minutes,
		   repeat, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		event.ID, event.OwnerID, event.Type, event.Title, event.Description, event.Date,
		event.Location, event.Priority, event.AssignedTo, event.Category, event.Completed,
		event.Reminder.Enabled, event.Reminder.LeadMinutes, event.Repeat, event.Version,
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if err := appendChange(ctx, tx, change); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateWithChange は楽観ロック付きで予定を更新する。
// WHERE version = expectedVersionによるcompare-and-swapで、
// 並行編集の後着を適用せずfalseで返す。
func (r *PostgresEventRepo) UpdateWithChange(ctx context.Context, event *model.Event, expectedVersion int64, change *model.ChangeRecord) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE events SET
		   type = $3, title = $4, description = $5, event_date = $6, location = $7,
		   priority = $8, assigned_to = $9, category = $10, completed = $11,
		   reminder_enabled = $12, reminder_lead_minutes = $13, repeat = $14,
		   version = $15, reminder_fired_at = $16, overdue_notified_at = $17, updated_at = $18
		 WHERE id = $1 AND version = $2`,
		event.ID, expectedVersion,
		event.Type, event.Title, event.Description, event.Date, event.Location,
		event.Priority, event.AssignedTo, event.Category, event.Completed,
		event.Reminder.Enabled, event.Reminder.LeadMinutes, event.Repeat,
		event.Version, event.ReminderFiredAt, event.OverdueNotifiedAt, event.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// バージョン不一致または削除済み。呼び出し側がConflictへ変換する。
		return false, nil
	}

	if err := appendChange(ctx, tx, change); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// DeleteWithChange は予定の削除、墓石の作成、変更レコードの追記を
// 同一トランザクションで行う。
func (r *PostgresEventRepo) DeleteWithChange(ctx context.Context, event *model.Event, change *model.ChangeRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE id = $1`,
		event.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("event not found: %s", event.ID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO event_tombstones (event_id, owner_id, version, deleted_at)
		 VALUES ($1, $2, $3, $4)`,
		event.ID, event.OwnerID, change.Version, change.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tombstone: %w", err)
	}

	if err := appendChange(ctx, tx, change); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListDueReminders はリマインダーが発火時刻に達した未発火の予定を返す。
func (r *PostgresEventRepo) ListDueReminders(ctx context.Context, now time.Time) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE reminder_enabled
		   AND reminder_fired_at IS NULL
		   AND event_date - (reminder_lead_minutes * interval '1 minute') <= $1
		 ORDER BY event_date ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// MarkReminderFired はリマインダー未発火の場合のみ発火済みに更新する。
// WHERE reminder_fired_at IS NULLのCASでat-most-onceを保証する。
func (r *PostgresEventRepo) MarkReminderFired(ctx context.Context, eventID string, firedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE events SET reminder_fired_at = $2
		 WHERE id = $1 AND reminder_fired_at IS NULL`,
		eventID, firedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark reminder fired: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListOverdueTasks は期限を過ぎた未完了かつ未通知のタスクを返す。
func (r *PostgresEventRepo) ListOverdueTasks(ctx context.Context, now time.Time) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE type = 'task'
		   AND NOT completed
		   AND overdue_notified_at IS NULL
		   AND event_date < $1
		 ORDER BY event_date ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tasks: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// MarkOverdueNotified は未通知の場合のみ期限超過通知済みに更新する。
func (r *PostgresEventRepo) MarkOverdueNotified(ctx context.Context, eventID string, notifiedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE events SET overdue_notified_at = $2
		 WHERE id = $1 AND overdue_notified_at IS NULL`,
		eventID, notifiedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark overdue notified: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// appendChange は変更レコードをトランザクション内で追記する。
func appendChange(ctx context.Context, tx *sql.Tx, change *model.ChangeRecord) error {
	var payload interface{}
	if len(change.Payload) > 0 {
		payload = []byte(change.Payload)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO changes (event_id, op, payload, origin_id, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		change.EventID, change.Op, payload, change.OriginID, change.Version, change.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append change record: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通Scanインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	event := &model.Event{}
	err := row.Scan(
		&event.ID, &event.OwnerID, &event.Type, &event.Title, &event.Description,
		&event.Date, &event.Location, &event.Priority, &event.AssignedTo, &event.Category,
		&event.Completed, &event.Reminder.Enabled, &event.Reminder.LeadMinutes,
		&event.Repeat, &event.Version, &event.ReminderFiredAt, &event.OverdueNotifiedAt,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return event, nil
}

func collectEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
