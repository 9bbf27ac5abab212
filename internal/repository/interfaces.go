// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// ペアリングコード償還の失敗モードを区別するためのセンチネルエラー。
// 償還の検証はトランザクション内で行う必要があるため、リポジトリ層で判定し
// サービス層がAPIErrorへ変換する。
var (
	// ErrCodeNotFound はコードが存在しないか期限切れであることを示す。
	ErrCodeNotFound = errors.New("pairing code not found or expired")
	// ErrSelfPairing は償還者がコードの発行者本人であることを示す。
	ErrSelfPairing = errors.New("cannot redeem own pairing code")
	// ErrAlreadyPaired はいずれかの当事者が既にペアに属していることを示す。
	ErrAlreadyPaired = errors.New("party already belongs to a pair")
	// ErrCodeCollision は生成したコードが他ユーザーの既存行（期限切れ含む）と
	// 衝突したことを示す。サービス層は再生成でリトライする。
	ErrCodeCollision = errors.New("pairing code collides with an existing one")
)

// IdentityRepository はユーザーデータの永続化インターフェース。
type IdentityRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)

	// FindByExternalID は外部IDでユーザーを検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.Identity, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, identity *model.Identity) error

	// UpdateDisplayName は表示名を更新する。
	UpdateDisplayName(ctx context.Context, id, displayName string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するevents、pairing_codes、notification_settingsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// PairRepository はペアとペアリングコードの永続化インターフェース。
type PairRepository interface {
	// FindPairByID は指定IDのペアを取得する。見つからない場合はnilを返す。
	FindPairByID(ctx context.Context, id string) (*model.Pair, error)

	// DeletePair はペアを削除する。identities.pair_idはFKのON DELETE SET NULLにより
	// 両メンバー同時にクリアされる（対称的な解除）。
	DeletePair(ctx context.Context, pairID string) error

	// UpsertCode は発行者のコードを作成または上書きする（1ユーザー1コード）。
	// コード値が他ユーザーの行と衝突した場合はErrCodeCollisionを返す。
	UpsertCode(ctx context.Context, code *model.PairingCode) error

	// ActiveCodeExists は未期限切れコードの中に指定コードが存在するかを返す。
	// 衝突リトライの判定に使用する。
	ActiveCodeExists(ctx context.Context, code string, now time.Time) (bool, error)

	// FindCodeByOwner は発行者の現在のコードを取得する。見つからない場合はnilを返す。
	FindCodeByOwner(ctx context.Context, ownerID string) (*model.PairingCode, error)

	// RedeemCode はコードを償還し、同一トランザクションでペアを作成して
	// コードを削除する。コード行をロックしてから検証するため、並行する償還の
	// 一方だけが成功する。失敗モードはErrCodeNotFound / ErrSelfPairing /
	// ErrAlreadyPairedで通知する。
	RedeemCode(ctx context.Context, code, redeemerID, pairID string, now time.Time) (*model.Pair, error)
}

// EventRepository は予定データの永続化インターフェース。
// 書き込み系メソッドは変更レコードの追記を同一トランザクションで行う。
type EventRepository interface {
	// FindByID は指定IDの予定を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Event, error)

	// FindTombstone は指定予定の墓石を取得する。見つからない場合はnilを返す。
	FindTombstone(ctx context.Context, eventID string) (*model.Tombstone, error)

	// ListVisible は指定ユーザー群が所有する予定をevent_date昇順
	// （同時刻はid昇順）で返す。
	ListVisible(ctx context.Context, ownerIDs []string) ([]*model.Event, error)

	// CreateWithChange は予定の作成と変更レコードの追記を同一トランザクションで行う。
	CreateWithChange(ctx context.Context, event *model.Event, change *model.ChangeRecord) error

	// UpdateWithChange は楽観ロック付きで予定を更新する。
	// 保存済みversionがexpectedVersionと一致する場合のみ適用し、
	// 適用されなかった場合はfalseを返す。
	UpdateWithChange(ctx context.Context, event *model.Event, expectedVersion int64, change *model.ChangeRecord) (bool, error)

	// DeleteWithChange は予定の削除、墓石の作成、変更レコードの追記を
	// 同一トランザクションで行う。
	DeleteWithChange(ctx context.Context, event *model.Event, change *model.ChangeRecord) error

	// ListDueReminders はリマインダーが発火時刻に達した未発火の予定を返す。
	// 発火時刻はevent_date - reminder_lead_minutesで算出する。
	ListDueReminders(ctx context.Context, now time.Time) ([]*model.Event, error)

	// MarkReminderFired はリマインダー未発火の場合のみ発火済みに更新する。
	// 適用された場合にtrueを返す（at-most-once保証）。
	MarkReminderFired(ctx context.Context, eventID string, firedAt time.Time) (bool, error)

	// ListOverdueTasks は期限を過ぎた未完了かつ未通知のタスクを返す。
	ListOverdueTasks(ctx context.Context, now time.Time) ([]*model.Event, error)

	// MarkOverdueNotified は未通知の場合のみ期限超過通知済みに更新する。
	// 適用された場合にtrueを返す。
	MarkOverdueNotified(ctx context.Context, eventID string, notifiedAt time.Time) (bool, error)
}

// ChangeRepository は変更フィードの読み取りインターフェース。
// 追記は予定の書き込みと同一トランザクションで行うためEventRepositoryが担う。
type ChangeRepository interface {
	// ListSince は指定origin群の変更レコードをseq昇順で返す。
	ListSince(ctx context.Context, originIDs []string, sinceSeq int64, limit int) ([]*model.ChangeRecord, error)

	// LatestSeq は現在の最大seqを返す。レコードがない場合は0を返す。
	LatestSeq(ctx context.Context) (int64, error)
}

// SettingsRepository は通知設定の永続化インターフェース。
type SettingsRepository interface {
	// FindByIdentity は指定ユーザーの通知設定を取得する。見つからない場合はnilを返す。
	FindByIdentity(ctx context.Context, identityID string) (*model.NotificationSettings, error)

	// Upsert は通知設定を冪等に保存する。
	Upsert(ctx context.Context, settings *model.NotificationSettings) error
}

// NotificationRepository はブラウザチャネル向け蓄積通知の永続化インターフェース。
type NotificationRepository interface {
	// Insert は通知を追記する。
	Insert(ctx context.Context, n *model.StoredNotification) error

	// ListSince は指定ユーザー宛の通知をid昇順で返す。
	ListSince(ctx context.Context, recipientID string, sinceID int64, limit int) ([]*model.StoredNotification, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
