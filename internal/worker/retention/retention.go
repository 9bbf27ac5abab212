// Package retention は期限切れデータの定期削除ジョブを実装する。
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQL実行のインターフェース。*sql.DBが満たす。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Config は保持期間の設定。
type Config struct {
	// Interval はスイープの実行間隔。
	Interval time.Duration
	// TombstoneRetention は墓石の保持期間。この期間を超えた削除の記録は
	// 消去され、以後の同予定への書き込みはNotFoundになる。
	TombstoneRetention time.Duration
	// ChangeRetention は変更フィードの保持期間。
	ChangeRetention time.Duration
	// NotificationRetention は蓄積通知の保持期間。
	NotificationRetention time.Duration
}

// Cleaner は期限切れの墓石・変更レコード・蓄積通知・ペアリングコードを
// 定期削除する。
type Cleaner struct {
	db  Executor
	cfg Config
}

// NewCleaner はCleanerを生成する。
func NewCleaner(db Executor, cfg Config) *Cleaner {
	return &Cleaner{db: db, cfg: cfg}
}

// Run は起動直後に1回実行し、以後Intervalごとに繰り返す。
// ctxのキャンセルまでブロックする。
func (c *Cleaner) Run(ctx context.Context) {
	slog.Info("retention cleaner started",
		slog.Duration("interval", c.cfg.Interval),
		slog.Duration("tombstone_retention", c.cfg.TombstoneRetention),
		slog.Duration("change_retention", c.cfg.ChangeRetention),
	)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("retention cleaner stopped")
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

func (c *Cleaner) runOnce(ctx context.Context) {
	now := time.Now()
	jobs := []struct {
		name  string
		query string
		arg   time.Time
	}{
		{
			name:  "tombstones",
			query: `DELETE FROM event_tombstones WHERE deleted_at < $1`,
			arg:   now.Add(-c.cfg.TombstoneRetention),
		},
		{
			name:  "changes",
			query: `DELETE FROM changes WHERE created_at < $1`,
			arg:   now.Add(-c.cfg.ChangeRetention),
		},
		{
			name:  "stored_notifications",
			query: `DELETE FROM stored_notifications WHERE created_at < $1`,
			arg:   now.Add(-c.cfg.NotificationRetention),
		},
		{
			name:  "pairing_codes",
			query: `DELETE FROM pairing_codes WHERE expires_at < $1`,
			arg:   now,
		},
	}

	for _, job := range jobs {
		deleted, err := c.execDelete(ctx, job.query, job.arg)
		if err != nil {
			slog.Error("retention job failed",
				slog.String("target", job.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if deleted > 0 {
			slog.Info("expired rows deleted",
				slog.String("target", job.name),
				slog.Int64("count", deleted),
			)
		}
	}
}

func (c *Cleaner) execDelete(ctx context.Context, query string, cutoff time.Time) (int64, error) {
	result, err := c.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to execute delete: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
