package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// 1回の取り込みで返す蓄積通知の上限。
const notificationPageLimit = 100

// NotificationReader は蓄積通知の読み取りインターフェース。
type NotificationReader interface {
	ListSince(ctx context.Context, recipientID string, sinceID int64, limit int) ([]*model.StoredNotification, error)
}

// SettingsStore は通知設定の読み書きインターフェース。
type SettingsStore interface {
	FindByIdentity(ctx context.Context, identityID string) (*model.NotificationSettings, error)
	Upsert(ctx context.Context, settings *model.NotificationSettings) error
}

// NotificationHandler は蓄積通知の取り込みと通知設定のHTTPハンドラ。
type NotificationHandler struct {
	notifications NotificationReader
	settings      SettingsStore
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(notifications NotificationReader, settings SettingsStore) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, settings: settings}
}

// notificationPayload は蓄積通知のレスポンス表現。
type notificationPayload struct {
	ID         int64  `json:"id"`
	Transition string `json:"transition"`
	EventID    string `json:"eventId"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	CreatedAt  string `json:"createdAt"`
}

// HandleList はGET /notifications?since=Nを処理する。
// クライアントは最後に受け取ったidをsinceに渡して差分を取り込む。
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	since, err := parseQueryInt64(r, "since", 0)
	if err != nil {
		writeAPIErrorResponse(w, model.NewValidationError("since", "数値を指定してください"))
		return
	}

	items, err := h.notifications.ListSince(r.Context(), userID, since, notificationPageLimit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	payloads := make([]notificationPayload, 0, len(items))
	for _, n := range items {
		payloads = append(payloads, notificationPayload{
			ID:         n.ID,
			Transition: string(n.Transition),
			EventID:    n.EventID,
			Title:      n.Title,
			Body:       n.Body,
			CreatedAt:  n.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": payloads})
}

// settingsPayload は通知設定のワイヤ表現。
type settingsPayload struct {
	BrowserEnabled   bool `json:"browserEnabled"`
	BotEnabled       bool `json:"botEnabled"`
	EventsEnabled    bool `json:"eventsEnabled"`
	TasksEnabled     bool `json:"tasksEnabled"`
	RemindersEnabled bool `json:"remindersEnabled"`
	QuietEnabled     bool `json:"quietEnabled"`
	QuietStart       int  `json:"quietStart"`
	QuietEnd         int  `json:"quietEnd"`
	LeadMinutes      int  `json:"leadMinutes"`
	Sound            bool `json:"sound"`
	Vibration        bool `json:"vibration"`
}

func toSettingsPayload(s *model.NotificationSettings) settingsPayload {
	return settingsPayload{
		BrowserEnabled:   s.BrowserEnabled,
		BotEnabled:       s.BotEnabled,
		EventsEnabled:    s.EventsEnabled,
		TasksEnabled:     s.TasksEnabled,
		RemindersEnabled: s.RemindersEnabled,
		QuietEnabled:     s.QuietEnabled,
		QuietStart:       s.QuietStart,
		QuietEnd:         s.QuietEnd,
		LeadMinutes:      s.LeadMinutes,
		Sound:            s.Sound,
		Vibration:        s.Vibration,
	}
}

// HandleGetSettings はGET /settings/notificationsを処理する。
// 未保存の場合はデフォルト設定を返す。
func (h *NotificationHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	settings, err := h.settings.FindByIdentity(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if settings == nil {
		settings = model.DefaultNotificationSettings(userID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": toSettingsPayload(settings)})
}

// HandlePutSettings はPUT /settings/notificationsを処理する。
// 設定は全フィールドの置き換えで保存する。
func (h *NotificationHandler) HandlePutSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, model.NewValidationError("body", "JSONの解析に失敗しました"))
		return
	}
	if req.QuietStart < 0 || req.QuietStart > 23 || req.QuietEnd < 0 || req.QuietEnd > 23 {
		writeAPIErrorResponse(w, model.NewValidationError("quietHours", "0〜23の時を指定してください"))
		return
	}
	if req.LeadMinutes < 0 {
		writeAPIErrorResponse(w, model.NewValidationError("leadMinutes", "0以上を指定してください"))
		return
	}

	settings := &model.NotificationSettings{
		IdentityID:       userID,
		BrowserEnabled:   req.BrowserEnabled,
		BotEnabled:       req.BotEnabled,
		EventsEnabled:    req.EventsEnabled,
		TasksEnabled:     req.TasksEnabled,
		RemindersEnabled: req.RemindersEnabled,
		QuietEnabled:     req.QuietEnabled,
		QuietStart:       req.QuietStart,
		QuietEnd:         req.QuietEnd,
		LeadMinutes:      req.LeadMinutes,
		Sound:            req.Sound,
		Vibration:        req.Vibration,
		UpdatedAt:        time.Now(),
	}
	if err := h.settings.Upsert(r.Context(), settings); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": toSettingsPayload(settings)})
}
