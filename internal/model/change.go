// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// ChangeOp は変更レコードの操作種別を表す。
type ChangeOp string

const (
	ChangeOpCreate ChangeOp = "create"
	ChangeOpUpdate ChangeOp = "update"
	ChangeOpDelete ChangeOp = "delete"
)

// ChangeRecord は1回の変更を表す追記専用レコード。
// Seqはサーバーが採番する全体単調増加の配信順序。
// EventIDとVersionの組で冪等適用の重複判定を行う。
type ChangeRecord struct {
	Seq       int64
	EventID   string
	Op        ChangeOp
	Payload   json.RawMessage // create/update時の予定スナップショット。deleteはnull。
	OriginID  string          // 変更を行ったIdentityのID
	Version   int64
	CreatedAt time.Time
}
