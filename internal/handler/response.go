// Package handler はHTTPリクエストの受け付けとレスポンスの組み立てを行う。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/paircal/internal/middleware"
	"github.com/hitoshi/paircal/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// apiErrorBody はAPIErrorのレスポンス表現。
type apiErrorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action,omitempty"`
}

// writeAPIErrorResponse はAPIErrorを統一フォーマットで書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	writeJSON(w, mapAPIErrorToHTTPStatus(apiErr), map[string]apiErrorBody{
		"error": {
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		},
	})
}

// mapAPIErrorToHTTPStatus はエラーコードをHTTPステータスに対応付ける。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeEventNotFound, model.ErrCodePairingCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeSelfPairing, model.ErrCodeAlreadyPaired, model.ErrCodeNotPaired, model.ErrCodeConflict:
		return http.StatusConflict
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIError以外は詳細を漏らさず500を返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, map[string]apiErrorBody{
		"error": {
			Code:     "INTERNAL_ERROR",
			Message:  "サーバー内部でエラーが発生しました。",
			Category: "system",
			Action:   "しばらく待ってから再試行してください。",
		},
	})
}

// currentUserID はコンテキストから認証済みユーザーIDを取り出す。
// 未認証の場合は401を書き込んでfalseを返す。
func currentUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}
