// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, pairing, event, sync, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeEventNotFound        = "EVENT_NOT_FOUND"
	ErrCodePairingCodeNotFound  = "PAIRING_CODE_NOT_FOUND"
	ErrCodeSelfPairing          = "SELF_PAIRING"
	ErrCodeAlreadyPaired        = "ALREADY_PAIRED"
	ErrCodeNotPaired            = "NOT_PAIRED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeValidation           = "VALIDATION_ERROR"
)

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewEventNotFoundError は予定未検出エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定された予定が見つかりません: %s", eventID),
		Category: "event",
		Action:   "予定一覧を再読み込みしてください。",
	}
}

// NewPairingCodeNotFoundError はペアリングコードが無効または期限切れの場合のエラーを生成する。
func NewPairingCodeNotFoundError(code string) *APIError {
	return &APIError{
		Code:     ErrCodePairingCodeNotFound,
		Message:  fmt.Sprintf("ペアリングコードが無効か期限切れです: %s", code),
		Category: "pairing",
		Action:   "パートナーに新しいコードを発行してもらってください。",
	}
}

// NewSelfPairingError は自分自身のコードを使用した場合のエラーを生成する。
func NewSelfPairingError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfPairing,
		Message:  "自分自身とペアリングすることはできません。",
		Category: "pairing",
		Action:   "パートナーが発行したコードを入力してください。",
	}
}

// NewAlreadyPairedError はいずれかの当事者が既にペアに属している場合のエラーを生成する。
func NewAlreadyPairedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyPaired,
		Message:  "既にペアが存在します。",
		Category: "pairing",
		Action:   "新しいペアを作成するには先にペアを解除してください。",
	}
}

// NewNotPairedError はペアが存在しない状態での解除要求のエラーを生成する。
func NewNotPairedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotPaired,
		Message:  "ペアが存在しません。",
		Category: "pairing",
		Action:   "先にペアリングを行ってください。",
	}
}

// NewForbiddenError は所有権違反のエラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", reason),
		Category: "event",
		Action:   "自分が作成した予定に対してのみ実行できます。",
	}
}

// NewConflictError はバージョン不一致または削除済み予定への更新のエラーを生成する。
// 楽観的並行性制御で拒否された書き込みはこのエラーで通知する。
func NewConflictError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("予定が他の端末で変更されています: %s", eventID),
		Category: "sync",
		Action:   "最新の状態を取得してから再度お試しください。",
	}
}

// NewValidationError は必須フィールド欠落などの入力エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力が不正です (%s): %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
