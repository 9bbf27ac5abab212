package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/repository"
)

// DefaultTelegramAPIBase はTelegram Bot APIのベースURL。
const DefaultTelegramAPIBase = "https://api.telegram.org"

// TelegramClient はTelegram Bot APIの薄いHTTPクライアント。
// SDKは使わずsendMessageのみを直接呼ぶ。
type TelegramClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewTelegramClient はTelegramClientを生成する。baseURLが空の場合は
// 公式エンドポイントを使う。
func NewTelegramClient(token, baseURL string) *TelegramClient {
	if baseURL == "" {
		baseURL = DefaultTelegramAPIBase
	}
	return &TelegramClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage は指定チャットへテキストメッセージを送信する。
func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram api error (status %d): %s", resp.StatusCode, result.Description)
	}
	return nil
}

// BotChannel はTelegramボット経由の配送チャネル。
// 受信者のexternal_idをチャットIDとして使う（Telegram上のユーザーIDは
// 個人チャットのチャットIDと一致する）。external_idを持たない匿名ユーザーは
// 配送をスキップする。
type BotChannel struct {
	client       *TelegramClient
	identityRepo repository.IdentityRepository
}

// NewBotChannel はBotChannelを生成する。
func NewBotChannel(client *TelegramClient, identityRepo repository.IdentityRepository) *BotChannel {
	return &BotChannel{client: client, identityRepo: identityRepo}
}

func (c *BotChannel) Name() string {
	return "bot"
}

func (c *BotChannel) Enabled(settings *model.NotificationSettings) bool {
	return settings.BotEnabled
}

func (c *BotChannel) Send(ctx context.Context, recipientID string, event *model.Event, transition model.Transition, msg Message) error {
	identity, err := c.identityRepo.FindByID(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("failed to find recipient: %w", err)
	}
	if identity == nil || identity.ExternalID == "" {
		// Telegram連携のないユーザーには配送できない
		return nil
	}
	text := fmt.Sprintf("%s\n%s", msg.Title, msg.Body)
	if err := c.client.SendMessage(ctx, identity.ExternalID, text); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
