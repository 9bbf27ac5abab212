package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/repository"
)

// OverdueRecorder は期限超過通知のメトリクス記録インターフェース。
type OverdueRecorder interface {
	IncOverdueNotified()
}

// OverdueSweeper は期限を過ぎた未完了タスクを定期検出して通知する。
// スイープは単一ループで実行し、重複起動しない。通知済みのタスクは
// overdue_notified_atが刻印され、編集または完了で刻印がクリアされるまで
// 再通知されない。
type OverdueSweeper struct {
	eventRepo  repository.EventRepository
	dispatcher *Dispatcher
	recorder   OverdueRecorder
	interval   time.Duration
}

// NewOverdueSweeper はOverdueSweeperを生成する。recorderはnil可。
func NewOverdueSweeper(
	eventRepo repository.EventRepository,
	dispatcher *Dispatcher,
	recorder OverdueRecorder,
	interval time.Duration,
) *OverdueSweeper {
	return &OverdueSweeper{
		eventRepo:  eventRepo,
		dispatcher: dispatcher,
		recorder:   recorder,
		interval:   interval,
	}
}

// Run は起動直後に1回スイープし、以後intervalごとに繰り返す。
// ctxのキャンセルまでブロックする。
func (s *OverdueSweeper) Run(ctx context.Context) {
	slog.Info("overdue sweep started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("overdue sweep stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *OverdueSweeper) sweep(ctx context.Context) {
	tasks, err := s.eventRepo.ListOverdueTasks(ctx, time.Now())
	if err != nil {
		slog.Error("failed to list overdue tasks", slog.String("error", err.Error()))
		return
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		won, err := s.eventRepo.MarkOverdueNotified(ctx, task.ID, time.Now())
		if err != nil {
			slog.Error("failed to mark overdue notified",
				slog.String("event_id", task.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !won {
			continue
		}

		if s.recorder != nil {
			s.recorder.IncOverdueNotified()
		}
		slog.Info("overdue task notified",
			slog.String("event_id", task.ID),
			slog.String("owner_id", task.OwnerID),
		)
		s.dispatcher.Notify(ctx, task.OwnerID, task, model.TransitionOverdue)
	}
}
