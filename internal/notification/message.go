// Package notification は遷移ごとの通知判定と各チャネルへの配送を実装する。
package notification

import (
	"fmt"

	"github.com/hitoshi/paircal/internal/model"
)

// Message は配送チャネルに渡す通知本文。
type Message struct {
	Title string
	Body  string
}

// transitionLabels は遷移ごとの絵文字付きタイトル。
var transitionLabels = map[model.Transition]string{
	model.TransitionCreated:   "➕ 予定が追加されました",
	model.TransitionUpdated:   "✏️ 予定が更新されました",
	model.TransitionCompleted: "✅ タスクが完了しました",
	model.TransitionDeleted:   "🗑 予定が削除されました",
	model.TransitionReminder:  "⏰ まもなく予定の時間です",
	model.TransitionOverdue:   "🚨 期限を過ぎています",
}

// buildMessage は遷移と予定から通知本文を組み立てる。
func buildMessage(event *model.Event, transition model.Transition) Message {
	title, ok := transitionLabels[transition]
	if !ok {
		title = "📅 カレンダーの更新"
	}
	body := fmt.Sprintf("%s\n%s", event.Title, event.Date.Format("2006/01/02 15:04"))
	if event.Location != "" {
		body += fmt.Sprintf("\n📍 %s", event.Location)
	}
	return Message{Title: title, Body: body}
}
