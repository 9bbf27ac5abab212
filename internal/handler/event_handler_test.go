package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/paircal/internal/event"
	"github.com/hitoshi/paircal/internal/model"
)

type mockEventService struct {
	createFn      func(ctx context.Context, ownerID string, draft event.Draft) (*model.Event, error)
	updateFn      func(ctx context.Context, callerID, eventID string, baseVersion int64, patch event.Patch) (*model.Event, error)
	deleteFn      func(ctx context.Context, callerID, eventID string) error
	listVisibleFn func(ctx context.Context, callerID string) ([]*model.Event, error)
}

func (m *mockEventService) Create(ctx context.Context, ownerID string, draft event.Draft) (*model.Event, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, draft)
	}
	return nil, nil
}

func (m *mockEventService) Update(ctx context.Context, callerID, eventID string, baseVersion int64, patch event.Patch) (*model.Event, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, callerID, eventID, baseVersion, patch)
	}
	return nil, nil
}

func (m *mockEventService) Delete(ctx context.Context, callerID, eventID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, callerID, eventID)
	}
	return nil
}

func (m *mockEventService) ListVisible(ctx context.Context, callerID string) ([]*model.Event, error) {
	if m.listVisibleFn != nil {
		return m.listVisibleFn(ctx, callerID)
	}
	return nil, nil
}

type countWriteRecorder struct {
	writes    map[string]int
	conflicts int
}

func newCountWriteRecorder() *countWriteRecorder {
	return &countWriteRecorder{writes: map[string]int{}}
}

func (c *countWriteRecorder) IncEventWrite(op string) { c.writes[op]++ }
func (c *countWriteRecorder) IncConflict()            { c.conflicts++ }

func sampleEvent() *model.Event {
	date := time.Date(2026, 9, 10, 19, 0, 0, 0, time.UTC)
	return &model.Event{
		ID:         "ev-1",
		OwnerID:    "user-1",
		Type:       model.EventTypeEvent,
		Title:      "映画デート",
		Date:       date,
		AssignedTo: model.AssigneeBoth,
		Reminder:   model.Reminder{Enabled: true, LeadMinutes: 30},
		Repeat:     model.RepeatNone,
		Version:    1,
		CreatedAt:  date.Add(-time.Hour),
		UpdatedAt:  date.Add(-time.Hour),
	}
}

func TestHandleListReturnsEvents(t *testing.T) {
	svc := &mockEventService{
		listVisibleFn: func(ctx context.Context, callerID string) ([]*model.Event, error) {
			if callerID != "user-1" {
				t.Errorf("callerID = %q, want user-1", callerID)
			}
			return []*model.Event{sampleEvent()}, nil
		},
	}
	h := NewEventHandler(svc, nil)

	req := authedRequest(http.MethodGet, "/events", "", "user-1")
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	events, _ := body["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	first, _ := events[0].(map[string]any)
	if first["id"] != "ev-1" {
		t.Errorf("events[0].id = %v, want ev-1", first["id"])
	}
	if first["version"] != float64(1) {
		t.Errorf("events[0].version = %v, want 1", first["version"])
	}
}

func TestHandleListEmpty(t *testing.T) {
	h := NewEventHandler(&mockEventService{}, nil)

	req := authedRequest(http.MethodGet, "/events", "", "user-1")
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	events, ok := body["events"].([]any)
	if !ok || len(events) != 0 {
		// nilではなく空配列を返す
		t.Errorf("events = %v, want empty array", body["events"])
	}
}

func TestHandleListUnauthenticated(t *testing.T) {
	h := NewEventHandler(&mockEventService{}, nil)

	req := authedRequest(http.MethodGet, "/events", "", "")
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandleCreate(t *testing.T) {
	var gotDraft event.Draft
	svc := &mockEventService{
		createFn: func(ctx context.Context, ownerID string, draft event.Draft) (*model.Event, error) {
			gotDraft = draft
			created := sampleEvent()
			created.Title = draft.Title
			return created, nil
		},
	}
	recorder := newCountWriteRecorder()
	h := NewEventHandler(svc, recorder)

	reqBody := `{"type":"task","title":"ゴミ出し","date":"2026-09-10T08:00:00Z","assignedTo":"partner","reminder":{"enabled":true,"leadMinutes":15}}`
	req := authedRequest(http.MethodPost, "/events", reqBody, "user-1")
	rec := httptest.NewRecorder()
	h.HandleCreate(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if gotDraft.Type != model.EventTypeTask {
		t.Errorf("draft.Type = %q, want task", gotDraft.Type)
	}
	if gotDraft.AssignedTo != model.AssigneePartner {
		t.Errorf("draft.AssignedTo = %q, want partner", gotDraft.AssignedTo)
	}
	if !gotDraft.Reminder.Enabled || gotDraft.Reminder.LeadMinutes != 15 {
		t.Errorf("draft.Reminder = %+v, want enabled lead 15", gotDraft.Reminder)
	}
	if recorder.writes["create"] != 1 {
		t.Errorf("create writes = %d, want 1", recorder.writes["create"])
	}
}

func TestHandleCreateAcceptsMinutePrecisionDate(t *testing.T) {
	var gotDate time.Time
	svc := &mockEventService{
		createFn: func(ctx context.Context, ownerID string, draft event.Draft) (*model.Event, error) {
			gotDate = draft.Date
			return sampleEvent(), nil
		},
	}
	h := NewEventHandler(svc, nil)

	req := authedRequest(http.MethodPost, "/events", `{"type":"event","title":"通院","date":"2026-09-10T08:30"}`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleCreate(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	want := time.Date(2026, 9, 10, 8, 30, 0, 0, time.UTC)
	if !gotDate.Equal(want) {
		t.Errorf("date = %v, want %v", gotDate, want)
	}
}

func TestHandleCreateInvalidDate(t *testing.T) {
	h := NewEventHandler(&mockEventService{}, nil)

	req := authedRequest(http.MethodPost, "/events", `{"type":"event","title":"x","date":"来週の金曜"}`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleCreate(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleUpdateAppliesPatch(t *testing.T) {
	var gotPatch event.Patch
	var gotVersion int64
	svc := &mockEventService{
		updateFn: func(ctx context.Context, callerID, eventID string, baseVersion int64, patch event.Patch) (*model.Event, error) {
			gotPatch = patch
			gotVersion = baseVersion
			updated := sampleEvent()
			updated.Version = baseVersion + 1
			return updated, nil
		},
	}
	recorder := newCountWriteRecorder()
	h := NewEventHandler(svc, recorder)

	reqBody := `{"eventId":"ev-1","version":3,"title":"新しいタイトル","completed":true}`
	req := authedRequest(http.MethodPut, "/events", reqBody, "user-1")
	rec := httptest.NewRecorder()
	h.HandleUpdate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotVersion != 3 {
		t.Errorf("baseVersion = %d, want 3", gotVersion)
	}
	if gotPatch.Title == nil || *gotPatch.Title != "新しいタイトル" {
		t.Errorf("patch.Title = %v, want 新しいタイトル", gotPatch.Title)
	}
	if gotPatch.Completed == nil || !*gotPatch.Completed {
		t.Errorf("patch.Completed = %v, want true", gotPatch.Completed)
	}
	// 未指定フィールドはnilのまま
	if gotPatch.Description != nil || gotPatch.Date != nil {
		t.Error("unspecified fields should remain nil")
	}
	if recorder.writes["update"] != 1 {
		t.Errorf("update writes = %d, want 1", recorder.writes["update"])
	}
}

func TestHandleUpdateConflict(t *testing.T) {
	svc := &mockEventService{
		updateFn: func(ctx context.Context, callerID, eventID string, baseVersion int64, patch event.Patch) (*model.Event, error) {
			return nil, model.NewConflictError(eventID)
		},
	}
	recorder := newCountWriteRecorder()
	h := NewEventHandler(svc, recorder)

	req := authedRequest(http.MethodPut, "/events", `{"eventId":"ev-1","version":1,"title":"x"}`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleUpdate(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	body := decodeBody(t, rec)
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != model.ErrCodeConflict {
		t.Errorf("error.code = %v, want %s", errBody["code"], model.ErrCodeConflict)
	}
	if recorder.conflicts != 1 {
		t.Errorf("conflicts recorded = %d, want 1", recorder.conflicts)
	}
	if recorder.writes["update"] != 0 {
		t.Errorf("update writes = %d, want 0", recorder.writes["update"])
	}
}

func TestHandleUpdateRequiresEventID(t *testing.T) {
	h := NewEventHandler(&mockEventService{}, nil)

	req := authedRequest(http.MethodPut, "/events", `{"version":1,"title":"x"}`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleUpdate(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDelete(t *testing.T) {
	deleted := ""
	svc := &mockEventService{
		deleteFn: func(ctx context.Context, callerID, eventID string) error {
			deleted = eventID
			return nil
		},
	}
	recorder := newCountWriteRecorder()
	h := NewEventHandler(svc, recorder)

	req := authedRequest(http.MethodDelete, "/events", `{"eventId":"ev-1"}`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if deleted != "ev-1" {
		t.Errorf("deleted = %q, want ev-1", deleted)
	}
	if recorder.writes["delete"] != 1 {
		t.Errorf("delete writes = %d, want 1", recorder.writes["delete"])
	}
}

func TestHandleDeleteForbiddenForPartner(t *testing.T) {
	svc := &mockEventService{
		deleteFn: func(ctx context.Context, callerID, eventID string) error {
			return model.NewForbiddenError("削除は作成者のみ可能です")
		},
	}
	h := NewEventHandler(svc, nil)

	req := authedRequest(http.MethodDelete, "/events", `{"eventId":"ev-1"}`, "user-2")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
