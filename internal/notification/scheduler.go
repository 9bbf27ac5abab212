package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/repository"
)

// FiredRecorder はリマインダー発火のメトリクス記録インターフェース。
type FiredRecorder interface {
	IncReminderFired()
}

// fireTimeout は発火1件あたりのDBアクセスと配送の時間上限。
const fireTimeout = 30 * time.Second

// Scheduler はリマインダーの発火を管理する。
//
// プロセス内にはイベントごとのワンショットタイマーのレジストリを持ち、
// Scheduleは同一イベントの既存タイマーを置き換える。加えてRunの定期スイープが
// 発火時刻を過ぎた未発火のリマインダーを拾うため、プロセス再起動で
// タイマーが失われても取りこぼさない。発火自体はreminder_fired_atのCASで
// 保護され、タイマーとスイープが競合しても通知は最大1回になる。
type Scheduler struct {
	eventRepo    repository.EventRepository
	identityRepo repository.IdentityRepository
	pairRepo     repository.PairRepository
	dispatcher   *Dispatcher
	recorder     FiredRecorder
	tick         time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler はSchedulerを生成する。recorderはnil可。
func NewScheduler(
	eventRepo repository.EventRepository,
	identityRepo repository.IdentityRepository,
	pairRepo repository.PairRepository,
	dispatcher *Dispatcher,
	recorder FiredRecorder,
	tick time.Duration,
) *Scheduler {
	return &Scheduler{
		eventRepo:    eventRepo,
		identityRepo: identityRepo,
		pairRepo:     pairRepo,
		dispatcher:   dispatcher,
		recorder:     recorder,
		tick:         tick,
		timers:       make(map[string]*time.Timer),
	}
}

// Schedule は予定のリマインダータイマーを登録する。
// リマインダーが無効、発火済み、または発火時刻を過ぎている場合は登録せず、
// 既存タイマーのみ解除する（過去分はスイープが拾う）。
func (s *Scheduler) Schedule(event *model.Event) {
	s.Cancel(event.ID)

	if event.ReminderFiredAt != nil {
		return
	}
	fireAt, ok := event.ReminderFireAt()
	if !ok {
		return
	}
	delay := time.Until(fireAt)
	if delay <= 0 {
		return
	}

	eventID := event.ID
	s.mu.Lock()
	s.timers[eventID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, eventID)
		s.mu.Unlock()
		s.fireByID(eventID)
	})
	s.mu.Unlock()
}

// Cancel は予定の保留中タイマーを解除する。
func (s *Scheduler) Cancel(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[eventID]; ok {
		timer.Stop()
		delete(s.timers, eventID)
	}
}

// Stop はすべての保留中タイマーを解除する。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// Run は定期スイープを開始し、ctxのキャンセルまでブロックする。
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("reminder sweep started", slog.Duration("tick", s.tick))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reminder sweep stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep は発火時刻を過ぎた未発火のリマインダーをまとめて発火する。
func (s *Scheduler) sweep(ctx context.Context) {
	events, err := s.eventRepo.ListDueReminders(ctx, time.Now())
	if err != nil {
		slog.Error("failed to list due reminders", slog.String("error", err.Error()))
		return
	}
	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		s.fire(ctx, event)
	}
}

// fireByID はタイマー発火時のエントリポイント。最新状態を読み直してから発火する。
func (s *Scheduler) fireByID(eventID string) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	event, err := s.eventRepo.FindByID(ctx, eventID)
	if err != nil {
		slog.Error("failed to load event for reminder",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		return
	}
	if event == nil || !event.Reminder.Enabled {
		return
	}
	s.fire(ctx, event)
}

// fire はCASで発火権を取り、勝った場合のみ通知を配送する。
func (s *Scheduler) fire(ctx context.Context, event *model.Event) {
	won, err := s.eventRepo.MarkReminderFired(ctx, event.ID, time.Now())
	if err != nil {
		slog.Error("failed to mark reminder fired",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !won {
		return
	}

	if s.recorder != nil {
		s.recorder.IncReminderFired()
	}
	slog.Info("reminder fired",
		slog.String("event_id", event.ID),
		slog.String("owner_id", event.OwnerID),
	)

	for _, recipientID := range s.recipients(ctx, event) {
		s.dispatcher.Notify(ctx, recipientID, event, model.TransitionReminder)
	}
}

// recipients はリマインダーの通知先を返す。所有者は常に含み、
// 担当がpartnerまたはbothの場合は現在のパートナーも含める。
func (s *Scheduler) recipients(ctx context.Context, event *model.Event) []string {
	ids := []string{event.OwnerID}
	if event.AssignedTo != model.AssigneePartner && event.AssignedTo != model.AssigneeBoth {
		return ids
	}

	partnerID, err := resolvePartner(ctx, s.identityRepo, s.pairRepo, event.OwnerID)
	if err != nil {
		slog.Error("failed to resolve reminder partner",
			slog.String("owner_id", event.OwnerID),
			slog.String("error", err.Error()),
		)
		return ids
	}
	if partnerID != "" {
		ids = append(ids, partnerID)
	}
	return ids
}

// resolvePartner は指定ユーザーの現在のパートナーのIDを返す。未ペアは空文字。
func resolvePartner(
	ctx context.Context,
	identityRepo repository.IdentityRepository,
	pairRepo repository.PairRepository,
	identityID string,
) (string, error) {
	identity, err := identityRepo.FindByID(ctx, identityID)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil || !identity.IsPaired() {
		return "", nil
	}
	pair, err := pairRepo.FindPairByID(ctx, identity.PairID)
	if err != nil {
		return "", fmt.Errorf("failed to find pair: %w", err)
	}
	if pair == nil {
		return "", nil
	}
	return pair.PartnerOf(identityID), nil
}
