// Package sync は変更フィードの提供と、クライアント側の同期セッションを実装する。
package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// EventPayload は変更フィードに載る予定スナップショットのワイヤ形式。
type EventPayload struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date"`
	Location    string `json:"location,omitempty"`
	Priority    string `json:"priority,omitempty"`
	AssignedTo  string `json:"assigned_to"`
	Category    string `json:"category,omitempty"`
	Completed   bool   `json:"completed"`
	Reminder    struct {
		Enabled     bool `json:"enabled"`
		LeadMinutes int  `json:"lead_minutes"`
	} `json:"reminder"`
	Repeat    string `json:"repeat"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// EncodeEvent は予定をフィード用スナップショットに変換する。
func EncodeEvent(event *model.Event) (json.RawMessage, error) {
	p := EventPayload{
		ID:          event.ID,
		OwnerID:     event.OwnerID,
		Type:        string(event.Type),
		Title:       event.Title,
		Description: event.Description,
		Date:        event.Date.Format(time.RFC3339),
		Location:    event.Location,
		Priority:    event.Priority,
		AssignedTo:  string(event.AssignedTo),
		Category:    event.Category,
		Completed:   event.Completed,
		Repeat:      string(event.Repeat),
		Version:     event.Version,
		CreatedAt:   event.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   event.UpdatedAt.Format(time.RFC3339),
	}
	p.Reminder.Enabled = event.Reminder.Enabled
	p.Reminder.LeadMinutes = event.Reminder.LeadMinutes

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return data, nil
}

// DecodeEvent はフィード上のスナップショットをモデルに復元する。
func DecodeEvent(data json.RawMessage) (*model.Event, error) {
	var p EventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
	}

	date, err := time.Parse(time.RFC3339, p.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event date: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &model.Event{
		ID:          p.ID,
		OwnerID:     p.OwnerID,
		Type:        model.EventType(p.Type),
		Title:       p.Title,
		Description: p.Description,
		Date:        date,
		Location:    p.Location,
		Priority:    p.Priority,
		AssignedTo:  model.Assignee(p.AssignedTo),
		Category:    p.Category,
		Completed:   p.Completed,
		Reminder: model.Reminder{
			Enabled:     p.Reminder.Enabled,
			LeadMinutes: p.Reminder.LeadMinutes,
		},
		Repeat:    model.Repeat(p.Repeat),
		Version:   p.Version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}
