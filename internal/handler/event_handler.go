package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/paircal/internal/event"
	"github.com/hitoshi/paircal/internal/model"
)

// EventService は予定ハンドラが必要とするサービスインターフェース。
type EventService interface {
	Create(ctx context.Context, ownerID string, draft event.Draft) (*model.Event, error)
	Update(ctx context.Context, callerID, eventID string, baseVersion int64, patch event.Patch) (*model.Event, error)
	Delete(ctx context.Context, callerID, eventID string) error
	ListVisible(ctx context.Context, callerID string) ([]*model.Event, error)
}

// WriteRecorder は予定書き込みのメトリクス記録インターフェース。
type WriteRecorder interface {
	IncEventWrite(op string)
	IncConflict()
}

// EventHandler は予定CRUDのHTTPハンドラ。
type EventHandler struct {
	eventService EventService
	recorder     WriteRecorder
}

// NewEventHandler はEventHandlerを生成する。recorderはnil可。
func NewEventHandler(eventService EventService, recorder WriteRecorder) *EventHandler {
	return &EventHandler{eventService: eventService, recorder: recorder}
}

// reminderPayload はリマインダー設定のワイヤ表現。
type reminderPayload struct {
	Enabled     bool `json:"enabled"`
	LeadMinutes int  `json:"leadMinutes"`
}

// eventPayload は予定のレスポンス表現。
type eventPayload struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Date        string          `json:"date"`
	Location    string          `json:"location,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	AssignedTo  string          `json:"assignedTo"`
	Category    string          `json:"category,omitempty"`
	Completed   bool            `json:"completed"`
	Reminder    reminderPayload `json:"reminder"`
	Repeat      string          `json:"repeat"`
	Version     int64           `json:"version"`
	CreatedAt   string          `json:"createdAt"`
	UpdatedAt   string          `json:"updatedAt"`
}

func toEventPayload(e *model.Event) eventPayload {
	return eventPayload{
		ID:          e.ID,
		OwnerID:     e.OwnerID,
		Type:        string(e.Type),
		Title:       e.Title,
		Description: e.Description,
		Date:        e.Date.Format(time.RFC3339),
		Location:    e.Location,
		Priority:    e.Priority,
		AssignedTo:  string(e.AssignedTo),
		Category:    e.Category,
		Completed:   e.Completed,
		Reminder: reminderPayload{
			Enabled:     e.Reminder.Enabled,
			LeadMinutes: e.Reminder.LeadMinutes,
		},
		Repeat:    string(e.Repeat),
		Version:   e.Version,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
		UpdatedAt: e.UpdatedAt.Format(time.RFC3339),
	}
}

// HandleList はGET /eventsを処理する。自分とパートナーの予定を返す。
func (h *EventHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	events, err := h.eventService.ListVisible(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	payloads := make([]eventPayload, 0, len(events))
	for _, e := range events {
		payloads = append(payloads, toEventPayload(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": payloads})
}

type createEventRequest struct {
	Type        string           `json:"type"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Date        string           `json:"date"`
	Location    string           `json:"location"`
	Priority    string           `json:"priority"`
	AssignedTo  string           `json:"assignedTo"`
	Category    string           `json:"category"`
	Reminder    *reminderPayload `json:"reminder"`
	Repeat      string           `json:"repeat"`
}

// HandleCreate はPOST /eventsを処理する。
func (h *EventHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, model.NewValidationError("body", "JSONの解析に失敗しました"))
		return
	}

	date, err := parseEventDate(req.Date)
	if err != nil {
		writeAPIErrorResponse(w, model.NewValidationError("date", "日時の形式が不正です"))
		return
	}

	draft := event.Draft{
		Type:        model.EventType(req.Type),
		Title:       req.Title,
		Description: req.Description,
		Date:        date,
		Location:    req.Location,
		Priority:    req.Priority,
		AssignedTo:  model.Assignee(req.AssignedTo),
		Category:    req.Category,
		Repeat:      model.Repeat(req.Repeat),
	}
	if req.Reminder != nil {
		draft.Reminder = model.Reminder{
			Enabled:     req.Reminder.Enabled,
			LeadMinutes: req.Reminder.LeadMinutes,
		}
	}

	created, err := h.eventService.Create(r.Context(), userID, draft)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.recorder != nil {
		h.recorder.IncEventWrite("create")
	}
	writeJSON(w, http.StatusCreated, map[string]any{"event": toEventPayload(created)})
}

type updateEventRequest struct {
	EventID     string           `json:"eventId"`
	Version     int64            `json:"version"`
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Date        *string          `json:"date"`
	Location    *string          `json:"location"`
	Priority    *string          `json:"priority"`
	AssignedTo  *string          `json:"assignedTo"`
	Category    *string          `json:"category"`
	Completed   *bool            `json:"completed"`
	Reminder    *reminderPayload `json:"reminder"`
	Repeat      *string          `json:"repeat"`
}

// HandleUpdate はPUT /eventsを処理する。リクエストは読み取り時のversionを
// 提示し、並行編集が検出された場合は409を返す。
func (h *EventHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req updateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, model.NewValidationError("body", "JSONの解析に失敗しました"))
		return
	}
	if req.EventID == "" {
		writeAPIErrorResponse(w, model.NewValidationError("eventId", "eventIdは必須です"))
		return
	}

	patch := event.Patch{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Priority:    req.Priority,
		Category:    req.Category,
		Completed:   req.Completed,
	}
	if req.Date != nil {
		date, err := parseEventDate(*req.Date)
		if err != nil {
			writeAPIErrorResponse(w, model.NewValidationError("date", "日時の形式が不正です"))
			return
		}
		patch.Date = &date
	}
	if req.AssignedTo != nil {
		assignee := model.Assignee(*req.AssignedTo)
		patch.AssignedTo = &assignee
	}
	if req.Repeat != nil {
		repeat := model.Repeat(*req.Repeat)
		patch.Repeat = &repeat
	}
	if req.Reminder != nil {
		reminder := model.Reminder{
			Enabled:     req.Reminder.Enabled,
			LeadMinutes: req.Reminder.LeadMinutes,
		}
		patch.Reminder = &reminder
	}

	updated, err := h.eventService.Update(r.Context(), userID, req.EventID, req.Version, patch)
	if err != nil {
		h.recordWriteError(err)
		handleServiceError(w, err)
		return
	}

	if h.recorder != nil {
		h.recorder.IncEventWrite("update")
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": toEventPayload(updated)})
}

type deleteEventRequest struct {
	EventID string `json:"eventId"`
}

// HandleDelete はDELETE /eventsを処理する。削除は所有者のみ。
func (h *EventHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req deleteEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, model.NewValidationError("body", "JSONの解析に失敗しました"))
		return
	}
	if req.EventID == "" {
		writeAPIErrorResponse(w, model.NewValidationError("eventId", "eventIdは必須です"))
		return
	}

	if err := h.eventService.Delete(r.Context(), userID, req.EventID); err != nil {
		handleServiceError(w, err)
		return
	}

	if h.recorder != nil {
		h.recorder.IncEventWrite("delete")
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// recordWriteError は競合をメトリクスに記録する。
func (h *EventHandler) recordWriteError(err error) {
	if h.recorder == nil {
		return
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeConflict {
		h.recorder.IncConflict()
	}
}

// parseEventDate はRFC3339を基本に、秒精度なしの形式も受け付ける。
func parseEventDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04", value)
}
