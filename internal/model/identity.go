// Package model はドメインモデルを定義する。
package model

import "time"

// Identity はサービス利用者を表す。
// ExternalIDは外部アカウント（Telegram ID等）との紐付けに使用する。
// 空文字の場合は匿名（テスト）ユーザーを示す。
type Identity struct {
	ID          string
	ExternalID  string
	DisplayName string
	PairID      string // 所属ペアのID。未ペアリングの場合は空文字。
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPaired はペアに属しているかを返す。
func (i *Identity) IsPaired() bool {
	return i.PairID != ""
}

// Pair は2つのIdentityのペアリング関係を表す。
// 1つのIdentityは同時に最大1つのPairにのみ属する。
type Pair struct {
	ID        string
	MemberA   string
	MemberB   string
	CreatedAt time.Time
}

// PartnerOf はペア内の相手方のIdentity IDを返す。
// identityIDがペアのメンバーでない場合は空文字を返す。
func (p *Pair) PartnerOf(identityID string) string {
	switch identityID {
	case p.MemberA:
		return p.MemberB
	case p.MemberB:
		return p.MemberA
	default:
		return ""
	}
}

// PairingCode は一回限りのペアリング招待コードを表す。
// 6文字の大文字英数字。償還または期限切れで消滅する。
type PairingCode struct {
	Code      string
	OwnerID   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired は指定時刻においてコードが期限切れかを返す。
func (c *PairingCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
