// Package model はドメインモデルを定義する。
package model

import "time"

// Transition は予定のライフサイクル遷移を表す。
// 通知ディスパッチャはこの遷移単位で通知可否を判定する。
type Transition string

const (
	TransitionCreated   Transition = "created"
	TransitionUpdated   Transition = "updated"
	TransitionCompleted Transition = "completed"
	TransitionDeleted   Transition = "deleted"
	TransitionReminder  Transition = "reminder"
	TransitionOverdue   Transition = "overdue"
)

// NotificationSettings はユーザーごとの通知設定を表す。
// 初回アクセス時にデフォルト値で生成され、削除されることはない
// （リセットはデフォルト値への上書きで行う）。
type NotificationSettings struct {
	IdentityID string

	// チャネル有効化
	BrowserEnabled bool
	BotEnabled     bool

	// カテゴリバケット有効化
	EventsEnabled    bool
	TasksEnabled     bool
	RemindersEnabled bool

	// 静音時間帯。StartとEndは0〜23の時。Start > Endの場合は日跨ぎを表す。
	QuietEnabled bool
	QuietStart   int
	QuietEnd     int

	LeadMinutes int
	Sound       bool
	Vibration   bool

	UpdatedAt time.Time
}

// DefaultNotificationSettings は指定ユーザーのデフォルト通知設定を返す。
func DefaultNotificationSettings(identityID string) *NotificationSettings {
	return &NotificationSettings{
		IdentityID:       identityID,
		BrowserEnabled:   true,
		BotEnabled:       true,
		EventsEnabled:    true,
		TasksEnabled:     true,
		RemindersEnabled: true,
		QuietEnabled:     false,
		QuietStart:       22,
		QuietEnd:         8,
		LeadMinutes:      15,
		Sound:            true,
		Vibration:        true,
	}
}

// InQuietHours は指定時刻が静音時間帯に含まれるかを返す。
// 静音が無効の場合は常にfalse。[Start, End)の半開区間で判定し、
// Start > Endは日跨ぎ（例: 22時〜翌8時)として扱う。
func (s *NotificationSettings) InQuietHours(t time.Time) bool {
	if !s.QuietEnabled {
		return false
	}
	hour := t.Hour()
	if s.QuietStart == s.QuietEnd {
		// 区間長24時間とみなし常に静音
		return true
	}
	if s.QuietStart < s.QuietEnd {
		return hour >= s.QuietStart && hour < s.QuietEnd
	}
	return hour >= s.QuietStart || hour < s.QuietEnd
}

// CategoryEnabled は予定種別に対応するカテゴリバケットが有効かを返す。
func (s *NotificationSettings) CategoryEnabled(t EventType) bool {
	switch t {
	case EventTypeEvent:
		return s.EventsEnabled
	case EventTypeTask:
		return s.TasksEnabled
	case EventTypeReminder:
		return s.RemindersEnabled
	default:
		return false
	}
}

// StoredNotification はブラウザチャネル向けに蓄積される通知を表す。
// クライアントはGET /notificationsで未取得分を取り込み、
// ブラウザのNotification APIで表示する。
type StoredNotification struct {
	ID          int64
	RecipientID string
	Transition  Transition
	EventID     string
	Title       string
	Body        string
	CreatedAt   time.Time
}
