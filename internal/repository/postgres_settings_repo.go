package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/paircal/internal/model"
)

// PostgresSettingsRepo はPostgreSQLを使用した通知設定リポジトリ。
type PostgresSettingsRepo struct {
	db *sql.DB
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// FindByIdentity は指定ユーザーの通知設定を取得する。見つからない場合はnilを返す。
func (r *PostgresSettingsRepo) FindByIdentity(ctx context.Context, identityID string) (*model.NotificationSettings, error) {
	s := &model.NotificationSettings{}
	err := r.db.QueryRowContext(ctx,
		`SELECT identity_id, browser_enabled, bot_enabled, events_enabled, tasks_enabled,
		        reminders_enabled, quiet_enabled, quiet_start, quiet_end, lead_minutes,
		        sound, vibration, updated_at
		 FROM notification_settings WHERE identity_id = $1`,
		identityID,
	).Scan(
		&s.IdentityID, &s.BrowserEnabled, &s.BotEnabled, &s.EventsEnabled, &s.TasksEnabled,
		&s.RemindersEnabled, &s.QuietEnabled, &s.QuietStart, &s.QuietEnd, &s.LeadMinutes,
		&s.Sound, &s.Vibration, &s.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find notification settings: %w", err)
	}

	return s, nil
}

// Upsert は通知設定を冪等に保存する。
func (r *PostgresSettingsRepo) Upsert(ctx context.Context, settings *model.NotificationSettings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_settings (
		   identity_id, browser_enabled, bot_enabled, events_enabled, tasks_enabled,
		   reminders_enabled, quiet_enabled, quiet_start, quiet_end, lead_minutes,
		   sound, vibration, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		 ON CONFLICT (identity_id) DO UPDATE SET
		   browser_enabled = EXCLUDED.browser_enabled,
		   bot_enabled = EXCLUDED.bot_enabled,
		   events_enabled = EXCLUDED.events_enabled,
		   tasks_enabled = EXCLUDED.tasks_enabled,
		   reminders_enabled = EXCLUDED.reminders_enabled,
		   quiet_enabled = EXCLUDED.quiet_enabled,
		   quiet_start = EXCLUDED.quiet_start,
		   quiet_end = EXCLUDED.quiet_end,
		   lead_minutes = EXCLUDED.lead_minutes,
		   sound = EXCLUDED.sound,
		   vibration = EXCLUDED.vibration,
		   updated_at = now()`,
		settings.IdentityID, settings.BrowserEnabled, settings.BotEnabled,
		settings.EventsEnabled, settings.TasksEnabled, settings.RemindersEnabled,
		settings.QuietEnabled, settings.QuietStart, settings.QuietEnd,
		settings.LeadMinutes, settings.Sound, settings.Vibration,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert notification settings: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
