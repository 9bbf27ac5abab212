package notification

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// --- モック ---

type mockEventRepo struct {
	findByIDFn            func(ctx context.Context, id string) (*model.Event, error)
	listDueRemindersFn    func(ctx context.Context, now time.Time) ([]*model.Event, error)
	markReminderFiredFn   func(ctx context.Context, eventID string, firedAt time.Time) (bool, error)
	listOverdueTasksFn    func(ctx context.Context, now time.Time) ([]*model.Event, error)
	markOverdueNotifiedFn func(ctx context.Context, eventID string, notifiedAt time.Time) (bool, error)
}

func (m *mockEventRepo) FindByID(ctx context.Context, id string) (*model.Event, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockEventRepo) FindTombstone(ctx context.Context, eventID string) (*model.Tombstone, error) {
	return nil, nil
}
func (m *mockEventRepo) ListVisible(ctx context.Context, ownerIDs []string) ([]*model.Event, error) {
	return nil, nil
}
func (m *mockEventRepo) CreateWithChange(ctx context.Context, event *model.Event, change *model.ChangeRecord) error {
	return nil
}
func (m *mockEventRepo) UpdateWithChange(ctx context.Context, event *model.Event, expectedVersion int64, change *model.ChangeRecord) (bool, error) {
	return true, nil
}
func (m *mockEventRepo) DeleteWithChange(ctx context.Context, event *model.Event, change *model.ChangeRecord) error {
	return nil
}
func (m *mockEventRepo) ListDueReminders(ctx context.Context, now time.Time) ([]*model.Event, error) {
	if m.listDueRemindersFn != nil {
		return m.listDueRemindersFn(ctx, now)
	}
	return nil, nil
}
func (m *mockEventRepo) MarkReminderFired(ctx context.Context, eventID string, firedAt time.Time) (bool, error) {
	if m.markReminderFiredFn != nil {
		return m.markReminderFiredFn(ctx, eventID, firedAt)
	}
	return true, nil
}
func (m *mockEventRepo) ListOverdueTasks(ctx context.Context, now time.Time) ([]*model.Event, error) {
	if m.listOverdueTasksFn != nil {
		return m.listOverdueTasksFn(ctx, now)
	}
	return nil, nil
}
func (m *mockEventRepo) MarkOverdueNotified(ctx context.Context, eventID string, notifiedAt time.Time) (bool, error) {
	if m.markOverdueNotifiedFn != nil {
		return m.markOverdueNotifiedFn(ctx, eventID, notifiedAt)
	}
	return true, nil
}

type mockIdentityRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.Identity, error)
}

func (m *mockIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return &model.Identity{ID: id}, nil
}
func (m *mockIdentityRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Identity, error) {
	return nil, nil
}
func (m *mockIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	return nil
}
func (m *mockIdentityRepo) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	return nil
}
func (m *mockIdentityRepo) DeleteByID(ctx context.Context, id string) error {
	return nil
}

type mockPairRepo struct {
	findPairByIDFn func(ctx context.Context, id string) (*model.Pair, error)
}

func (m *mockPairRepo) FindPairByID(ctx context.Context, id string) (*model.Pair, error) {
	if m.findPairByIDFn != nil {
		return m.findPairByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockPairRepo) DeletePair(ctx context.Context, pairID string) error { return nil }
func (m *mockPairRepo) UpsertCode(ctx context.Context, code *model.PairingCode) error {
	return nil
}
func (m *mockPairRepo) ActiveCodeExists(ctx context.Context, code string, now time.Time) (bool, error) {
	return false, nil
}
func (m *mockPairRepo) FindCodeByOwner(ctx context.Context, ownerID string) (*model.PairingCode, error) {
	return nil, nil
}
func (m *mockPairRepo) RedeemCode(ctx context.Context, code, redeemerID, pairID string, now time.Time) (*model.Pair, error) {
	return nil, nil
}

func reminderEvent(assignee model.Assignee) *model.Event {
	return &model.Event{
		ID:         "ev-1",
		OwnerID:    "owner-1",
		Type:       model.EventTypeReminder,
		Title:      "薬を飲む",
		Date:       time.Now().Add(-time.Minute),
		AssignedTo: assignee,
		Reminder:   model.Reminder{Enabled: true, LeadMinutes: 0},
	}
}

func newTestScheduler(eventRepo *mockEventRepo, identityRepo *mockIdentityRepo, pairRepo *mockPairRepo, ch *captureChannel, recorder *countRecorder) *Scheduler {
	dispatcher := NewDispatcher(settingsWith(nil), []Channel{ch}, nil)
	return NewScheduler(eventRepo, identityRepo, pairRepo, dispatcher, recorder, time.Second)
}

// --- テスト ---

func TestSweepFiresDueReminder(t *testing.T) {
	event := reminderEvent(model.AssigneeMe)
	eventRepo := &mockEventRepo{
		listDueRemindersFn: func(ctx context.Context, now time.Time) ([]*model.Event, error) {
			return []*model.Event{event}, nil
		},
	}
	ch := &captureChannel{name: "browser"}
	recorder := newCountRecorder()
	s := newTestScheduler(eventRepo, &mockIdentityRepo{}, &mockPairRepo{}, ch, recorder)

	s.sweep(context.Background())

	if len(ch.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(ch.deliveries))
	}
	if ch.deliveries[0].recipientID != "owner-1" {
		t.Errorf("recipient = %q, want owner-1", ch.deliveries[0].recipientID)
	}
	if ch.deliveries[0].transition != model.TransitionReminder {
		t.Errorf("transition = %s, want reminder", ch.deliveries[0].transition)
	}
	if recorder.fired != 1 {
		t.Errorf("fired = %d, want 1", recorder.fired)
	}
}

func TestSweepSkipsWhenCASLost(t *testing.T) {
	event := reminderEvent(model.AssigneeMe)
	eventRepo := &mockEventRepo{
		listDueRemindersFn: func(ctx context.Context, now time.Time) ([]*model.Event, error) {
			return []*model.Event{event}, nil
		},
		markReminderFiredFn: func(ctx context.Context, eventID string, firedAt time.Time) (bool, error) {
			// 別プロセスが先に発火済み
			return false, nil
		},
	}
	ch := &captureChannel{name: "browser"}
	recorder := newCountRecorder()
	s := newTestScheduler(eventRepo, &mockIdentityRepo{}, &mockPairRepo{}, ch, recorder)

	s.sweep(context.Background())

	if len(ch.deliveries) != 0 {
		t.Errorf("deliveries = %d, want 0 (CAS lost)", len(ch.deliveries))
	}
	if recorder.fired != 0 {
		t.Errorf("fired = %d, want 0", recorder.fired)
	}
}

func TestReminderToBothNotifiesPartner(t *testing.T) {
	event := reminderEvent(model.AssigneeBoth)
	eventRepo := &mockEventRepo{
		listDueRemindersFn: func(ctx context.Context, now time.Time) ([]*model.Event, error) {
			return []*model.Event{event}, nil
		},
	}
	identityRepo := &mockIdentityRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Identity, error) {
			return &model.Identity{ID: id, PairID: "pair-1"}, nil
		},
	}
	pairRepo := &mockPairRepo{
		findPairByIDFn: func(ctx context.Context, id string) (*model.Pair, error) {
			return &model.Pair{ID: "pair-1", MemberA: "owner-1", MemberB: "partner-1"}, nil
		},
	}
	ch := &captureChannel{name: "browser"}
	s := newTestScheduler(eventRepo, identityRepo, pairRepo, ch, newCountRecorder())

	s.sweep(context.Background())

	if len(ch.deliveries) != 2 {
		t.Fatalf("deliveries = %d, want 2 (owner and partner)", len(ch.deliveries))
	}
	recipients := map[string]bool{}
	for _, d := range ch.deliveries {
		recipients[d.recipientID] = true
	}
	if !recipients["owner-1"] || !recipients["partner-1"] {
		t.Errorf("recipients = %v, want owner-1 and partner-1", recipients)
	}
}

func TestScheduleReplacesAndCancels(t *testing.T) {
	event := reminderEvent(model.AssigneeMe)
	event.Date = time.Now().Add(time.Hour)
	s := newTestScheduler(&mockEventRepo{}, &mockIdentityRepo{}, &mockPairRepo{}, &captureChannel{name: "browser"}, newCountRecorder())
	defer s.Stop()

	s.Schedule(event)
	s.Schedule(event)
	s.mu.Lock()
	count := len(s.timers)
	s.mu.Unlock()
	if count != 1 {
		t.Errorf("timers = %d, want 1 (replace, not duplicate)", count)
	}

	s.Cancel(event.ID)
	s.mu.Lock()
	count = len(s.timers)
	s.mu.Unlock()
	if count != 0 {
		t.Errorf("timers = %d, want 0 after cancel", count)
	}
}

func TestSchedulePastDueRegistersNothing(t *testing.T) {
	event := reminderEvent(model.AssigneeMe)
	s := newTestScheduler(&mockEventRepo{}, &mockIdentityRepo{}, &mockPairRepo{}, &captureChannel{name: "browser"}, newCountRecorder())

	// 発火時刻を過ぎた分はスイープに委ねる
	s.Schedule(event)
	s.mu.Lock()
	count := len(s.timers)
	s.mu.Unlock()
	if count != 0 {
		t.Errorf("timers = %d, want 0 for past-due reminder", count)
	}
}
