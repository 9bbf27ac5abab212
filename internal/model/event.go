// Package model はドメインモデルを定義する。
package model

import "time"

// EventType は予定の種別を表すタグ。
type EventType string

const (
	// EventTypeEvent はカレンダー予定。
	EventTypeEvent EventType = "event"
	// EventTypeTask はタスク（完了状態と優先度を持つ）。
	EventTypeTask EventType = "task"
	// EventTypeReminder は単発リマインダー。
	EventTypeReminder EventType = "reminder"
)

// Valid は既知の種別かを返す。
func (t EventType) Valid() bool {
	switch t {
	case EventTypeEvent, EventTypeTask, EventTypeReminder:
		return true
	}
	return false
}

// Assignee はタスクの担当者区分を表す。
type Assignee string

const (
	// AssigneeMe は作成者本人の担当。
	AssigneeMe Assignee = "me"
	// AssigneePartner はパートナーの担当。
	AssigneePartner Assignee = "partner"
	// AssigneeBoth は両者の担当。
	AssigneeBoth Assignee = "both"
)

// Repeat は繰り返し種別を表す。
type Repeat string

const (
	RepeatNone    Repeat = "none"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
	RepeatYearly  Repeat = "yearly"
)

// Reminder は予定ごとのリマインダー設定を表す。
type Reminder struct {
	Enabled     bool
	LeadMinutes int
}

// Event は予定・タスク・リマインダーを統合したドメインオブジェクト。
// OwnerIDは常に作成者を指す。可視性はペアリング状態から導出され、
// 別途ACLとしては保存しない。
type Event struct {
	ID          string
	OwnerID     string
	Type        EventType
	Title       string
	Description string
	Date        time.Time
	Location    string
	Priority    string
	AssignedTo  Assignee
	Category    string
	Completed   bool
	Reminder    Reminder
	Repeat      Repeat

	// Version はサーバーが書き込みごとに単調増加させる楽観ロック用バージョン。
	Version int64

	// ReminderFiredAt はリマインダー発火済み時刻。未発火はnil。
	// 日時またはリードの変更でリセットされる。
	ReminderFiredAt *time.Time
	// OverdueNotifiedAt は期限超過通知済み時刻。未通知はnil。
	// 編集または完了でリセットされる。
	OverdueNotifiedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReminderFireAt はリマインダーの発火予定時刻を返す。
// リマインダーが無効の場合は2番目の戻り値がfalseになる。
func (e *Event) ReminderFireAt() (time.Time, bool) {
	if !e.Reminder.Enabled {
		return time.Time{}, false
	}
	return e.Date.Add(-time.Duration(e.Reminder.LeadMinutes) * time.Minute), true
}

// Tombstone は削除済み予定の墓石レコードを表す。
// 削除後に遅延到着した同時更新を決定的にConflictへ解決するために、
// 一定期間（既定24時間）保持される。
type Tombstone struct {
	EventID   string
	OwnerID   string
	Version   int64
	DeletedAt time.Time
}
