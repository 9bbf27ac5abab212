package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/repository"
)

// BrowserChannel はブラウザ向けの配送チャネル。通知をデータベースに蓄積し、
// クライアントがGET /notificationsで取り込んで表示する。
type BrowserChannel struct {
	notificationRepo repository.NotificationRepository
}

// NewBrowserChannel はBrowserChannelを生成する。
func NewBrowserChannel(notificationRepo repository.NotificationRepository) *BrowserChannel {
	return &BrowserChannel{notificationRepo: notificationRepo}
}

func (c *BrowserChannel) Name() string {
	return "browser"
}

func (c *BrowserChannel) Enabled(settings *model.NotificationSettings) bool {
	return settings.BrowserEnabled
}

func (c *BrowserChannel) Send(ctx context.Context, recipientID string, event *model.Event, transition model.Transition, msg Message) error {
	n := &model.StoredNotification{
		RecipientID: recipientID,
		Transition:  transition,
		EventID:     event.ID,
		Title:       msg.Title,
		Body:        msg.Body,
		CreatedAt:   time.Now(),
	}
	if err := c.notificationRepo.Insert(ctx, n); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}
