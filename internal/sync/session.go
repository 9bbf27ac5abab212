package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// State は同期セッションの状態。
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateSyncing      State = "syncing"
)

// Source は変更フィードの取得元。サーバーのGET /sync/changesに対応する。
type Source interface {
	ChangesSince(ctx context.Context, sinceSeq int64, limit int) (*ChangePage, error)
}

// Store はセッションが変更を適用するローカルストア。
// Getは未存在時に (nil, nil) を返す。
type Store interface {
	Get(eventID string) (*model.Event, error)
	Put(event *model.Event) error
	Delete(eventID string) error
}

// SessionOptions はSessionの調整パラメータ。ゼロ値は既定値に置き換えられる。
type SessionOptions struct {
	PollInterval           time.Duration
	BackoffBase            time.Duration
	BackoffMax             time.Duration
	MaxConsecutiveFailures int
	PageLimit              int
	// OnStateChange は状態遷移ごとに呼ばれる。セッション内部のロック外で
	// 呼び出されるため、コールバック内からSessionのメソッドを呼んでよい。
	OnStateChange func(State)
}

// Session は変更フィードをポーリングしてローカルストアへ冪等に適用する
// クライアント側の同期セッション。
//
// 状態遷移:
//
//	Disconnected -> Connecting -> Connected <-> Syncing
//
// 取得失敗は指数バックオフで再試行する。連続失敗が上限に達すると
// Disconnectedを報告し、以後は同期が成功するまで状態をDisconnectedに
// 保ったまま上限バックオフで再試行を続ける（再試行ごとに
// Connecting/Syncingへ揺れない）。
type Session struct {
	source Source
	store  Store
	opts   SessionOptions

	mu       stdsync.Mutex
	state    State
	lastSeq  int64
	failures int
	// degraded は連続失敗上限到達後の持続的切断状態。成功まで
	// 中間状態の遷移通知を抑止する。
	degraded bool
}

// NewSession はSessionを生成する。
func NewSession(source Source, store Store, opts SessionOptions) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = defaultChangeLimit
	}
	return &Session{
		source: source,
		store:  store,
		opts:   opts,
		state:  StateDisconnected,
	}
}

// State は現在の状態を返す。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSeq は適用済みの最終seqを返す。
func (s *Session) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Run はセッションを開始し、ポーリングループを回す。ctxのキャンセルで
// Disconnectedに遷移して戻る。
func (s *Session) Run(ctx context.Context) error {
	s.transition(StateConnecting)

	for {
		if err := s.syncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				s.transition(StateDisconnected)
				return nil
			}

			s.mu.Lock()
			s.failures++
			failures := s.failures
			s.mu.Unlock()

			wait := backoffDuration(failures, s.opts.BackoffBase, s.opts.BackoffMax)
			if failures >= s.opts.MaxConsecutiveFailures {
				// 上限到達後は切断扱いで報告しつつ、上限間隔で再試行を続ける。
				// 成功するまでDisconnectedを保持する。
				slog.Error("sync session persistently failing",
					slog.Int("consecutive_failures", failures),
					slog.String("error", err.Error()),
				)
				s.mu.Lock()
				s.degraded = true
				s.mu.Unlock()
				s.transition(StateDisconnected)
				wait = s.opts.BackoffMax
			} else {
				slog.Warn("sync failed, retrying",
					slog.Int("consecutive_failures", failures),
					slog.Duration("backoff", wait),
					slog.String("error", err.Error()),
				)
				s.transition(StateConnecting)
			}
			if !sleepCtx(ctx, wait) {
				s.transition(StateDisconnected)
				return nil
			}
			continue
		}

		s.mu.Lock()
		s.failures = 0
		s.degraded = false
		s.mu.Unlock()
		s.transition(StateConnected)

		if !sleepCtx(ctx, s.opts.PollInterval) {
			s.transition(StateDisconnected)
			return nil
		}
	}
}

// SyncNow はポーリングを待たずに1回だけ同期を実行する。
func (s *Session) SyncNow(ctx context.Context) error {
	if err := s.syncOnce(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.failures = 0
	s.degraded = false
	s.mu.Unlock()
	s.transition(StateConnected)
	return nil
}

// syncOnce は追いつくまでページを取得して適用する。
// 持続的切断中はSyncingへの遷移通知を出さない。
func (s *Session) syncOnce(ctx context.Context) error {
	s.mu.Lock()
	degraded := s.degraded
	s.mu.Unlock()
	if !degraded {
		s.transition(StateSyncing)
	}

	for {
		s.mu.Lock()
		since := s.lastSeq
		s.mu.Unlock()

		page, err := s.source.ChangesSince(ctx, since, s.opts.PageLimit)
		if err != nil {
			return fmt.Errorf("failed to fetch changes: %w", err)
		}

		for _, change := range page.Changes {
			if err := s.apply(change); err != nil {
				return err
			}
			s.mu.Lock()
			if change.Seq > s.lastSeq {
				s.lastSeq = change.Seq
			}
			s.mu.Unlock()
		}

		if len(page.Changes) == 0 || since >= page.LatestSeq {
			return nil
		}
	}
}

// apply は1件の変更をストアに適用する。適用は冪等で、同一予定の
// 同一以下のversionの再適用と、存在しない予定の削除は何もしない。
func (s *Session) apply(change *model.ChangeRecord) error {
	switch change.Op {
	case model.ChangeOpCreate, model.ChangeOpUpdate:
		incoming, err := DecodeEvent(change.Payload)
		if err != nil {
			return err
		}
		existing, err := s.store.Get(incoming.ID)
		if err != nil {
			return fmt.Errorf("failed to read local event: %w", err)
		}
		if existing != nil && existing.Version >= incoming.Version {
			return nil
		}
		if err := s.store.Put(incoming); err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}
	case model.ChangeOpDelete:
		if err := s.store.Delete(change.EventID); err != nil {
			return fmt.Errorf("failed to delete local event: %w", err)
		}
	default:
		slog.Warn("unknown change op skipped",
			slog.String("op", string(change.Op)),
			slog.Int64("seq", change.Seq),
		)
	}
	return nil
}

// transition は状態を更新し、変化があればコールバックを呼ぶ。
func (s *Session) transition(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev != next && s.opts.OnStateChange != nil {
		s.opts.OnStateChange(next)
	}
}

// sleepCtx はdだけ待機し、ctxキャンセルでfalseを返す。
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
