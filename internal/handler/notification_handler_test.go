package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

type mockNotificationReader struct {
	listSinceFn func(ctx context.Context, recipientID string, sinceID int64, limit int) ([]*model.StoredNotification, error)
}

func (m *mockNotificationReader) ListSince(ctx context.Context, recipientID string, sinceID int64, limit int) ([]*model.StoredNotification, error) {
	if m.listSinceFn != nil {
		return m.listSinceFn(ctx, recipientID, sinceID, limit)
	}
	return nil, nil
}

type mockSettingsStore struct {
	findByIdentityFn func(ctx context.Context, identityID string) (*model.NotificationSettings, error)
	upsertFn         func(ctx context.Context, settings *model.NotificationSettings) error
}

func (m *mockSettingsStore) FindByIdentity(ctx context.Context, identityID string) (*model.NotificationSettings, error) {
	if m.findByIdentityFn != nil {
		return m.findByIdentityFn(ctx, identityID)
	}
	return nil, nil
}

func (m *mockSettingsStore) Upsert(ctx context.Context, settings *model.NotificationSettings) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, settings)
	}
	return nil
}

func TestHandleNotificationList(t *testing.T) {
	created := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	reader := &mockNotificationReader{
		listSinceFn: func(ctx context.Context, recipientID string, sinceID int64, limit int) ([]*model.StoredNotification, error) {
			if recipientID != "user-1" {
				t.Errorf("recipientID = %q, want user-1", recipientID)
			}
			if sinceID != 10 {
				t.Errorf("sinceID = %d, want 10", sinceID)
			}
			if limit != notificationPageLimit {
				t.Errorf("limit = %d, want %d", limit, notificationPageLimit)
			}
			return []*model.StoredNotification{
				{
					ID:         11,
					Transition: model.TransitionReminder,
					EventID:    "ev-1",
					Title:      "⏰ リマインダー",
					Body:       "映画デート",
					CreatedAt:  created,
				},
			}, nil
		},
	}
	h := NewNotificationHandler(reader, &mockSettingsStore{})

	req := authedRequest(http.MethodGet, "/notifications?since=10", "", "user-1")
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	items, _ := body["notifications"].([]any)
	if len(items) != 1 {
		t.Fatalf("notifications = %d, want 1", len(items))
	}
	first, _ := items[0].(map[string]any)
	if first["id"] != float64(11) || first["transition"] != "reminder" {
		t.Errorf("notifications[0] = %v, want id 11 transition reminder", first)
	}
}

func TestHandleGetSettingsReturnsDefaultsWhenUnsaved(t *testing.T) {
	h := NewNotificationHandler(&mockNotificationReader{}, &mockSettingsStore{})

	req := authedRequest(http.MethodGet, "/settings/notifications", "", "user-1")
	rec := httptest.NewRecorder()
	h.HandleGetSettings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	settings, _ := body["settings"].(map[string]any)
	defaults := model.DefaultNotificationSettings("user-1")
	if settings["browserEnabled"] != defaults.BrowserEnabled {
		t.Errorf("browserEnabled = %v, want %v", settings["browserEnabled"], defaults.BrowserEnabled)
	}
	if settings["quietStart"] != float64(defaults.QuietStart) {
		t.Errorf("quietStart = %v, want %d", settings["quietStart"], defaults.QuietStart)
	}
}

func TestHandlePutSettings(t *testing.T) {
	var saved *model.NotificationSettings
	store := &mockSettingsStore{
		upsertFn: func(ctx context.Context, settings *model.NotificationSettings) error {
			saved = settings
			return nil
		},
	}
	h := NewNotificationHandler(&mockNotificationReader{}, store)

	reqBody := `{"browserEnabled":true,"botEnabled":false,"eventsEnabled":true,"tasksEnabled":true,"remindersEnabled":true,"quietEnabled":true,"quietStart":22,"quietEnd":7,"leadMinutes":15,"sound":true,"vibration":false}`
	req := authedRequest(http.MethodPut, "/settings/notifications", reqBody, "user-1")
	rec := httptest.NewRecorder()
	h.HandlePutSettings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if saved == nil {
		t.Fatal("Upsert should be called")
	}
	if saved.IdentityID != "user-1" {
		t.Errorf("IdentityID = %q, want user-1", saved.IdentityID)
	}
	if !saved.QuietEnabled || saved.QuietStart != 22 || saved.QuietEnd != 7 {
		t.Errorf("quiet hours = %+v, want enabled 22-7", saved)
	}
	if saved.BotEnabled {
		t.Error("BotEnabled should be false")
	}
}

func TestHandlePutSettingsValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "quietStartが範囲外", body: `{"quietStart":24,"quietEnd":7,"leadMinutes":15}`},
		{name: "quietEndが負", body: `{"quietStart":22,"quietEnd":-1,"leadMinutes":15}`},
		{name: "leadMinutesが負", body: `{"quietStart":22,"quietEnd":7,"leadMinutes":-5}`},
		{name: "壊れたJSON", body: `{broken`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewNotificationHandler(&mockNotificationReader{}, &mockSettingsStore{
				upsertFn: func(ctx context.Context, settings *model.NotificationSettings) error {
					t.Error("Upsert should not be called")
					return nil
				},
			})

			req := authedRequest(http.MethodPut, "/settings/notifications", tt.body, "user-1")
			rec := httptest.NewRecorder()
			h.HandlePutSettings(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}
