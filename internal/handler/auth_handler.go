package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/paircal/internal/auth"
	"github.com/hitoshi/paircal/internal/middleware"
	"github.com/hitoshi/paircal/internal/model"
)

// AuthService は認証ハンドラが必要とするサービスインターフェース。
type AuthService interface {
	Login(ctx context.Context, externalID, displayName string) (*auth.LoginResult, error)
	GetCurrentIdentity(ctx context.Context, identityID string) (*model.Identity, error)
	DeleteAccount(ctx context.Context, identityID string) error
}

// PairingService はペアリング操作のサービスインターフェース。
type PairingService interface {
	IssueCode(ctx context.Context, identityID string) (*model.PairingCode, error)
	RedeemCode(ctx context.Context, identityID, code string) (*model.Pair, *model.Identity, error)
	Unpair(ctx context.Context, identityID string) error
	Partner(ctx context.Context, identityID string) (*model.Identity, error)
}

// PairRecorder はペア作成のメトリクス記録インターフェース。
type PairRecorder interface {
	IncPairCreated()
}

// AuthHandler は認証とペアリングのHTTPハンドラ。
type AuthHandler struct {
	authService    AuthService
	pairingService PairingService
	recorder       PairRecorder
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnil可。
func NewAuthHandler(authService AuthService, pairingService PairingService, recorder PairRecorder) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		pairingService: pairingService,
		recorder:       recorder,
	}
}

// userPayload はユーザー情報のレスポンス表現。
type userPayload struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId,omitempty"`
	Name       string `json:"name"`
	Paired     bool   `json:"paired"`
	PairID     string `json:"pairId,omitempty"`
}

func toUserPayload(identity *model.Identity) userPayload {
	return userPayload{
		ID:         identity.ID,
		ExternalID: identity.ExternalID,
		Name:       identity.DisplayName,
		Paired:     identity.IsPaired(),
		PairID:     identity.PairID,
	}
}

type authRequest struct {
	Action     string `json:"action"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	PairCode   string `json:"pairCode"`
}

// HandleAuth はPOST /authを処理する。アクションで分岐し、login以外は
// 認証済みであることを要求する。
func (h *AuthHandler) HandleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, model.NewValidationError("body", "JSONの解析に失敗しました"))
		return
	}

	switch req.Action {
	case "login":
		h.handleLogin(w, r, req)
	case "create-pair":
		h.handleCreatePair(w, r)
	case "join-pair":
		h.handleJoinPair(w, r, req)
	case "unpair":
		h.handleUnpair(w, r)
	default:
		writeAPIErrorResponse(w, model.NewValidationError("action", "未知のアクションです"))
	}
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request, req authRequest) {
	result, err := h.authService.Login(r.Context(), req.ExternalID, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("user logged in", slog.String("user_id", result.Identity.ID))
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserPayload(result.Identity),
	})
}

func (h *AuthHandler) handleCreatePair(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	code, err := h.pairingService.IssueCode(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pairCode":  code.Code,
		"expiresAt": code.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *AuthHandler) handleJoinPair(w http.ResponseWriter, r *http.Request, req authRequest) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	pair, partner, err := h.pairingService.RedeemCode(r.Context(), userID, req.PairCode)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.recorder != nil {
		h.recorder.IncPairCreated()
	}
	slog.Info("pair created",
		slog.String("pair_id", pair.ID),
		slog.String("user_id", userID),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"pairId": pair.ID,
		"partner": map[string]string{
			"id":   partner.ID,
			"name": partner.DisplayName,
		},
	})
}

func (h *AuthHandler) handleUnpair(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	if err := h.pairingService.Unpair(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("pair dissolved", slog.String("user_id", userID))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleMe はGET /auth/meを処理する。ペアリング中はパートナー情報も返す。
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	identity, err := h.authService.GetCurrentIdentity(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	body := map[string]any{"user": toUserPayload(identity)}
	if identity.IsPaired() {
		partner, err := h.pairingService.Partner(r.Context(), userID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if partner != nil {
			body["partner"] = map[string]string{
				"id":   partner.ID,
				"name": partner.DisplayName,
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// HandleDeleteMe はDELETE /auth/meを処理する。ペアは先に解除される。
func (h *AuthHandler) HandleDeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	if err := h.authService.DeleteAccount(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// コンパイル時のインターフェース適合チェック
var _ middleware.TokenValidator = (*auth.TokenService)(nil)
