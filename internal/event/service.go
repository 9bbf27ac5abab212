// Package event は予定・タスクのCRUDと可視性のドメインロジックを提供する。
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/repository"
	"github.com/hitoshi/paircal/internal/sync"
)

// TransitionNotifier は予定のライフサイクル遷移の通知先インターフェース。
// notification.Dispatcherが実装する。
type TransitionNotifier interface {
	Notify(ctx context.Context, recipientID string, event *model.Event, transition model.Transition)
}

// ReminderScheduler はリマインダータイマーの登録・解除インターフェース。
type ReminderScheduler interface {
	// Schedule は予定のリマインダータイマーを登録する。
	// 同一予定の既存タイマーは置き換えられる。
	Schedule(event *model.Event)
	// Cancel は予定の保留中タイマーを解除する。
	Cancel(eventID string)
}

// Draft は予定作成時の入力を表す。
type Draft struct {
	Type        model.EventType
	Title       string
	Description string
	Date        time.Time
	Location    string
	Priority    string
	AssignedTo  model.Assignee
	Category    string
	Reminder    model.Reminder
	Repeat      model.Repeat
}

// Patch は予定更新時の部分更新を表す。nilフィールドは変更しない。
type Patch struct {
	Title       *string
	Description *string
	Date        *time.Time
	Location    *string
	Priority    *string
	AssignedTo  *model.Assignee
	Category    *string
	Completed   *bool
	Reminder    *model.Reminder
	Repeat      *model.Repeat
}

// Service は予定管理のサービス層。
// 書き込みは楽観ロック付きで行われ、成功した書き込みは同一トランザクションで
// 変更フィードに追記される。
type Service struct {
	eventRepo    repository.EventRepository
	identityRepo repository.IdentityRepository
	pairRepo     repository.PairRepository
	notifier     TransitionNotifier
	reminders    ReminderScheduler
}

// NewService はServiceを生成する。notifierとremindersはnil可（通知なし運用）。
func NewService(
	eventRepo repository.EventRepository,
	identityRepo repository.IdentityRepository,
	pairRepo repository.PairRepository,
	notifier TransitionNotifier,
	reminders ReminderScheduler,
) *Service {
	return &Service{
		eventRepo:    eventRepo,
		identityRepo: identityRepo,
		pairRepo:     pairRepo,
		notifier:     notifier,
		reminders:    reminders,
	}
}

// Create は予定を作成する。検証はタイトル非空と日時の有効性のみ。
func (s *Service) Create(ctx context.Context, ownerID string, draft Draft) (*model.Event, error) {
	if draft.Title == "" {
		return nil, model.NewValidationError("title", "タイトルは必須です")
	}
	if draft.Date.IsZero() {
		return nil, model.NewValidationError("date", "日時は必須です")
	}

	eventType := draft.Type
	if eventType == "" {
		eventType = model.EventTypeEvent
	}
	if !eventType.Valid() {
		return nil, model.NewValidationError("type", fmt.Sprintf("未知の種別です: %s", eventType))
	}
	assignedTo := draft.AssignedTo
	if assignedTo == "" {
		assignedTo = model.AssigneeMe
	}
	repeat := draft.Repeat
	if repeat == "" {
		repeat = model.RepeatNone
	}

	now := time.Now()
	event := &model.Event{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Type:        eventType,
		Title:       draft.Title,
		Description: draft.Description,
		Date:        draft.Date,
		Location:    draft.Location,
		Priority:    draft.Priority,
		AssignedTo:  assignedTo,
		Category:    draft.Category,
		Reminder:    draft.Reminder,
		Repeat:      repeat,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	change, err := s.buildChange(event, model.ChangeOpCreate, ownerID, now)
	if err != nil {
		return nil, err
	}

	if err := s.eventRepo.CreateWithChange(ctx, event, change); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	s.scheduleReminder(event)
	s.notifyPartner(ctx, ownerID, event, model.TransitionCreated)

	return event, nil
}

// Update は予定を部分更新する。
// 呼び出し側はbaseVersion（読み取り時のversion）を提示し、
// 保存済みversionと一致しない場合はConflictで拒否される。
// 呼び出し者は所有者または所有者の現在のパートナーでなければならない。
func (s *Service) Update(ctx context.Context, callerID, eventID string, baseVersion int64, patch Patch) (*model.Event, error) {
	event, err := s.eventRepo.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	if event == nil {
		// 墓石が残っている場合は削除後の更新としてConflictに解決する
		ts, err := s.eventRepo.FindTombstone(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to find tombstone: %w", err)
		}
		if ts != nil {
			return nil, model.NewConflictError(eventID)
		}
		return nil, model.NewEventNotFoundError(eventID)
	}

	allowed, err := s.canModify(ctx, callerID, event.OwnerID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, model.NewForbiddenError("所有者またはそのパートナーのみ編集できます")
	}

	if event.Version != baseVersion {
		return nil, model.NewConflictError(eventID)
	}

	updated := *event
	applyPatch(&updated, patch)

	if updated.Title == "" {
		return nil, model.NewValidationError("title", "タイトルは必須です")
	}

	// 日時またはリード変更でリマインダー発火済みフラグをリセットする
	if !updated.Date.Equal(event.Date) || updated.Reminder != event.Reminder {
		updated.ReminderFiredAt = nil
	}
	// 日時変更または完了状態の変更で期限超過通知をリセットする
	if !updated.Date.Equal(event.Date) || updated.Completed != event.Completed {
		updated.OverdueNotifiedAt = nil
	}

	now := time.Now()
	updated.Version = baseVersion + 1
	updated.UpdatedAt = now

	change, err := s.buildChange(&updated, model.ChangeOpUpdate, callerID, now)
	if err != nil {
		return nil, err
	}

	applied, err := s.eventRepo.UpdateWithChange(ctx, &updated, baseVersion, change)
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	if !applied {
		// 読み取りと書き込みの間に並行編集または削除が入った
		return nil, model.NewConflictError(eventID)
	}

	s.scheduleReminder(&updated)

	transition := model.TransitionUpdated
	if !event.Completed && updated.Completed {
		transition = model.TransitionCompleted
	}
	s.notifyPartner(ctx, callerID, &updated, transition)

	return &updated, nil
}

// Delete は予定を削除する。パートナーによる削除は許可しない
// （編集と非対称だが、誤操作による破壊的編集を防ぐ意図的な制限）。
// 削除は墓石を残し、保留中のリマインダータイマーを解除する。
func (s *Service) Delete(ctx context.Context, callerID, eventID string) error {
	event, err := s.eventRepo.FindByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to find event: %w", err)
	}
	if event == nil {
		return model.NewEventNotFoundError(eventID)
	}
	if event.OwnerID != callerID {
		return model.NewForbiddenError("削除は所有者のみ実行できます")
	}

	now := time.Now()
	change := &model.ChangeRecord{
		EventID:   event.ID,
		Op:        model.ChangeOpDelete,
		OriginID:  callerID,
		Version:   event.Version + 1,
		CreatedAt: now,
	}

	if err := s.eventRepo.DeleteWithChange(ctx, event, change); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	if s.reminders != nil {
		s.reminders.Cancel(event.ID)
	}
	s.notifyPartner(ctx, callerID, event, model.TransitionDeleted)

	slog.Info("event deleted",
		slog.String("event_id", event.ID),
		slog.String("owner_id", event.OwnerID),
	)
	return nil
}

// ListVisible は呼び出し者の予定とパートナーの予定（ペアリング時のみ）を
// event_date昇順・同時刻はid昇順で返す。
func (s *Service) ListVisible(ctx context.Context, callerID string) ([]*model.Event, error) {
	ownerIDs := []string{callerID}

	partnerID, err := s.partnerID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if partnerID != "" {
		ownerIDs = append(ownerIDs, partnerID)
	}

	events, err := s.eventRepo.ListVisible(ctx, ownerIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list visible events: %w", err)
	}
	return events, nil
}

// canModify は呼び出し者が所有者本人か、所有者の現在のパートナーかを返す。
// パートナー関係は呼び出し時点でペアリングサービスの状態から解決する
// （キャッシュしない）。
func (s *Service) canModify(ctx context.Context, callerID, ownerID string) (bool, error) {
	if callerID == ownerID {
		return true, nil
	}
	partnerID, err := s.partnerID(ctx, callerID)
	if err != nil {
		return false, err
	}
	return partnerID == ownerID, nil
}

// partnerID は呼び出し者の現在のパートナーのIDを返す。未ペアは空文字。
func (s *Service) partnerID(ctx context.Context, identityID string) (string, error) {
	identity, err := s.identityRepo.FindByID(ctx, identityID)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return "", model.NewUserNotFoundError()
	}
	if !identity.IsPaired() {
		return "", nil
	}

	pair, err := s.pairRepo.FindPairByID(ctx, identity.PairID)
	if err != nil {
		return "", fmt.Errorf("failed to find pair: %w", err)
	}
	if pair == nil {
		return "", nil
	}
	return pair.PartnerOf(identityID), nil
}

// buildChange は予定スナップショット付きの変更レコードを構築する。
func (s *Service) buildChange(event *model.Event, op model.ChangeOp, originID string, at time.Time) (*model.ChangeRecord, error) {
	payload, err := sync.EncodeEvent(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return &model.ChangeRecord{
		EventID:   event.ID,
		Op:        op,
		Payload:   payload,
		OriginID:  originID,
		Version:   event.Version,
		CreatedAt: at,
	}, nil
}

// scheduleReminder はリマインダー有効時にタイマーを登録し直す。
func (s *Service) scheduleReminder(event *model.Event) {
	if s.reminders == nil {
		return
	}
	if event.Reminder.Enabled {
		s.reminders.Schedule(event)
	} else {
		s.reminders.Cancel(event.ID)
	}
}

// notifyPartner は変更者のパートナーに遷移を通知する。未ペア時は何もしない。
func (s *Service) notifyPartner(ctx context.Context, actorID string, event *model.Event, transition model.Transition) {
	if s.notifier == nil {
		return
	}
	partnerID, err := s.partnerID(ctx, actorID)
	if err != nil {
		slog.Error("failed to resolve partner for notification",
			slog.String("actor_id", actorID),
			slog.String("error", err.Error()),
		)
		return
	}
	if partnerID == "" {
		return
	}
	s.notifier.Notify(ctx, partnerID, event, transition)
}

// applyPatch はnilでないフィールドのみを適用する部分更新を行う。
func applyPatch(event *model.Event, patch Patch) {
	if patch.Title != nil {
		event.Title = *patch.Title
	}
	if patch.Description != nil {
		event.Description = *patch.Description
	}
	if patch.Date != nil {
		event.Date = *patch.Date
	}
	if patch.Location != nil {
		event.Location = *patch.Location
	}
	if patch.Priority != nil {
		event.Priority = *patch.Priority
	}
	if patch.AssignedTo != nil {
		event.AssignedTo = *patch.AssignedTo
	}
	if patch.Category != nil {
		event.Category = *patch.Category
	}
	if patch.Completed != nil {
		event.Completed = *patch.Completed
	}
	if patch.Reminder != nil {
		event.Reminder = *patch.Reminder
	}
	if patch.Repeat != nil {
		event.Repeat = *patch.Repeat
	}
}
