package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/repository"
)

// Channel は通知の配送チャネル。
type Channel interface {
	// Name はメトリクスとログに使うチャネル名を返す。
	Name() string
	// Enabled は受信者の設定でこのチャネルが有効かを返す。
	Enabled(settings *model.NotificationSettings) bool
	// Send は通知を配送する。
	Send(ctx context.Context, recipientID string, event *model.Event, transition model.Transition, msg Message) error
}

// SentRecorder は配送成功のメトリクス記録インターフェース。
type SentRecorder interface {
	IncNotificationSent(channel string)
}

// Dispatcher は遷移ごとに通知可否を判定し、有効なチャネルへ配送する。
// 判定はチャネル有効→カテゴリ有効→静音時間帯の順で行い、
// いずれかで不許可なら配送しない。
type Dispatcher struct {
	settingsRepo repository.SettingsRepository
	channels     []Channel
	recorder     SentRecorder
	now          func() time.Time
}

// NewDispatcher はDispatcherを生成する。recorderはnil可。
func NewDispatcher(settingsRepo repository.SettingsRepository, channels []Channel, recorder SentRecorder) *Dispatcher {
	return &Dispatcher{
		settingsRepo: settingsRepo,
		channels:     channels,
		recorder:     recorder,
		now:          time.Now,
	}
}

// Notify は受信者の設定に従って通知を配送する。
// 配送失敗は呼び出し元の処理を妨げないようログに記録するだけとし、
// エラーは返さない。
func (d *Dispatcher) Notify(ctx context.Context, recipientID string, event *model.Event, transition model.Transition) {
	settings, err := d.loadSettings(ctx, recipientID)
	if err != nil {
		slog.Error("failed to load notification settings",
			slog.String("recipient_id", recipientID),
			slog.String("error", err.Error()),
		)
		return
	}

	if !settings.CategoryEnabled(event.Type) {
		return
	}
	if settings.InQuietHours(d.now()) {
		return
	}

	msg := buildMessage(event, transition)
	for _, ch := range d.channels {
		if !ch.Enabled(settings) {
			continue
		}
		if err := ch.Send(ctx, recipientID, event, transition, msg); err != nil {
			slog.Error("failed to deliver notification",
				slog.String("channel", ch.Name()),
				slog.String("recipient_id", recipientID),
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if d.recorder != nil {
			d.recorder.IncNotificationSent(ch.Name())
		}
		slog.Info("notification delivered",
			slog.String("channel", ch.Name()),
			slog.String("recipient_id", recipientID),
			slog.String("transition", string(transition)),
		)
	}
}

// loadSettings は受信者の設定を取得する。未作成ならデフォルト設定を返す。
func (d *Dispatcher) loadSettings(ctx context.Context, recipientID string) (*model.NotificationSettings, error) {
	settings, err := d.settingsRepo.FindByIdentity(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to find settings: %w", err)
	}
	if settings == nil {
		return model.DefaultNotificationSettings(recipientID), nil
	}
	return settings, nil
}
