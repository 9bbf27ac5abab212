package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/paircal/internal/auth"
	"github.com/hitoshi/paircal/internal/middleware"
	"github.com/hitoshi/paircal/internal/model"
)

type mockAuthService struct {
	loginFn              func(ctx context.Context, externalID, displayName string) (*auth.LoginResult, error)
	getCurrentIdentityFn func(ctx context.Context, identityID string) (*model.Identity, error)
	deleteAccountFn      func(ctx context.Context, identityID string) error
}

func (m *mockAuthService) Login(ctx context.Context, externalID, displayName string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, externalID, displayName)
	}
	return nil, nil
}

func (m *mockAuthService) GetCurrentIdentity(ctx context.Context, identityID string) (*model.Identity, error) {
	if m.getCurrentIdentityFn != nil {
		return m.getCurrentIdentityFn(ctx, identityID)
	}
	return nil, nil
}

func (m *mockAuthService) DeleteAccount(ctx context.Context, identityID string) error {
	if m.deleteAccountFn != nil {
		return m.deleteAccountFn(ctx, identityID)
	}
	return nil
}

type mockPairingService struct {
	issueCodeFn  func(ctx context.Context, identityID string) (*model.PairingCode, error)
	redeemCodeFn func(ctx context.Context, identityID, code string) (*model.Pair, *model.Identity, error)
	unpairFn     func(ctx context.Context, identityID string) error
	partnerFn    func(ctx context.Context, identityID string) (*model.Identity, error)
}

func (m *mockPairingService) IssueCode(ctx context.Context, identityID string) (*model.PairingCode, error) {
	if m.issueCodeFn != nil {
		return m.issueCodeFn(ctx, identityID)
	}
	return nil, nil
}

func (m *mockPairingService) RedeemCode(ctx context.Context, identityID, code string) (*model.Pair, *model.Identity, error) {
	if m.redeemCodeFn != nil {
		return m.redeemCodeFn(ctx, identityID, code)
	}
	return nil, nil, nil
}

func (m *mockPairingService) Unpair(ctx context.Context, identityID string) error {
	if m.unpairFn != nil {
		return m.unpairFn(ctx, identityID)
	}
	return nil
}

func (m *mockPairingService) Partner(ctx context.Context, identityID string) (*model.Identity, error) {
	if m.partnerFn != nil {
		return m.partnerFn(ctx, identityID)
	}
	return nil, nil
}

type countPairRecorder struct {
	pairs int
}

func (c *countPairRecorder) IncPairCreated() { c.pairs++ }

// authedRequest は認証済みユーザーとしてのリクエストを作る。
func authedRequest(method, target, body, userID string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestHandleAuthLogin(t *testing.T) {
	authSvc := &mockAuthService{
		loginFn: func(ctx context.Context, externalID, displayName string) (*auth.LoginResult, error) {
			if externalID != "12345" {
				t.Errorf("externalID = %q, want 12345", externalID)
			}
			return &auth.LoginResult{
				Token: "token-abc",
				Identity: &model.Identity{
					ID:          "user-1",
					ExternalID:  externalID,
					DisplayName: displayName,
				},
			}, nil
		},
	}
	h := NewAuthHandler(authSvc, &mockPairingService{}, nil)

	req := authedRequest(http.MethodPost, "/auth", `{"action":"login","externalId":"12345","name":"花子"}`, "")
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["token"] != "token-abc" {
		t.Errorf("token = %v, want token-abc", body["token"])
	}
	user, _ := body["user"].(map[string]any)
	if user["id"] != "user-1" {
		t.Errorf("user.id = %v, want user-1", user["id"])
	}
	if user["paired"] != false {
		t.Errorf("user.paired = %v, want false", user["paired"])
	}
}

func TestHandleAuthUnknownAction(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, &mockPairingService{}, nil)

	req := authedRequest(http.MethodPost, "/auth", `{"action":"logout"}`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAuthInvalidJSON(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, &mockPairingService{}, nil)

	req := authedRequest(http.MethodPost, "/auth", `{broken`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAuthCreatePairRequiresUser(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, &mockPairingService{}, nil)

	// 認証コンテキストなし
	req := authedRequest(http.MethodPost, "/auth", `{"action":"create-pair"}`, "")
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandleAuthCreatePair(t *testing.T) {
	expires := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	pairingSvc := &mockPairingService{
		issueCodeFn: func(ctx context.Context, identityID string) (*model.PairingCode, error) {
			if identityID != "user-1" {
				t.Errorf("identityID = %q, want user-1", identityID)
			}
			return &model.PairingCode{Code: "AB12CD", ExpiresAt: expires}, nil
		},
	}
	h := NewAuthHandler(&mockAuthService{}, pairingSvc, nil)

	req := authedRequest(http.MethodPost, "/auth", `{"action":"create-pair"}`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["pairCode"] != "AB12CD" {
		t.Errorf("pairCode = %v, want AB12CD", body["pairCode"])
	}
	if body["expiresAt"] != expires.Format(time.RFC3339) {
		t.Errorf("expiresAt = %v, want %s", body["expiresAt"], expires.Format(time.RFC3339))
	}
}

func TestHandleAuthJoinPair(t *testing.T) {
	pairingSvc := &mockPairingService{
		redeemCodeFn: func(ctx context.Context, identityID, code string) (*model.Pair, *model.Identity, error) {
			if code != "AB12CD" {
				t.Errorf("code = %q, want AB12CD", code)
			}
			pair := &model.Pair{ID: "pair-1"}
			partner := &model.Identity{ID: "user-2", DisplayName: "太郎"}
			return pair, partner, nil
		},
	}
	recorder := &countPairRecorder{}
	h := NewAuthHandler(&mockAuthService{}, pairingSvc, recorder)

	req := authedRequest(http.MethodPost, "/auth", `{"action":"join-pair","pairCode":"AB12CD"}`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["pairId"] != "pair-1" {
		t.Errorf("pairId = %v, want pair-1", body["pairId"])
	}
	partner, _ := body["partner"].(map[string]any)
	if partner["name"] != "太郎" {
		t.Errorf("partner.name = %v, want 太郎", partner["name"])
	}
	if recorder.pairs != 1 {
		t.Errorf("pairs recorded = %d, want 1", recorder.pairs)
	}
}

func TestHandleAuthJoinPairNotFound(t *testing.T) {
	pairingSvc := &mockPairingService{
		redeemCodeFn: func(ctx context.Context, identityID, code string) (*model.Pair, *model.Identity, error) {
			return nil, nil, model.NewPairingCodeNotFoundError(code)
		},
	}
	h := NewAuthHandler(&mockAuthService{}, pairingSvc, nil)

	req := authedRequest(http.MethodPost, "/auth", `{"action":"join-pair","pairCode":"XXXXXX"}`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	body := decodeBody(t, rec)
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != model.ErrCodePairingCodeNotFound {
		t.Errorf("error.code = %v, want %s", errBody["code"], model.ErrCodePairingCodeNotFound)
	}
}

func TestHandleAuthJoinPairAlreadyPaired(t *testing.T) {
	pairingSvc := &mockPairingService{
		redeemCodeFn: func(ctx context.Context, identityID, code string) (*model.Pair, *model.Identity, error) {
			return nil, nil, model.NewAlreadyPairedError()
		},
	}
	h := NewAuthHandler(&mockAuthService{}, pairingSvc, nil)

	req := authedRequest(http.MethodPost, "/auth", `{"action":"join-pair","pairCode":"AB12CD"}`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandleAuthUnpair(t *testing.T) {
	called := false
	pairingSvc := &mockPairingService{
		unpairFn: func(ctx context.Context, identityID string) error {
			called = true
			return nil
		},
	}
	h := NewAuthHandler(&mockAuthService{}, pairingSvc, nil)

	req := authedRequest(http.MethodPost, "/auth", `{"action":"unpair"}`, "user-1")
	rec := httptest.NewRecorder()
	h.HandleAuth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !called {
		t.Error("Unpair should be called")
	}
}

func TestHandleMeWithPartner(t *testing.T) {
	authSvc := &mockAuthService{
		getCurrentIdentityFn: func(ctx context.Context, identityID string) (*model.Identity, error) {
			return &model.Identity{ID: "user-1", DisplayName: "花子", PairID: "pair-1"}, nil
		},
	}
	pairingSvc := &mockPairingService{
		partnerFn: func(ctx context.Context, identityID string) (*model.Identity, error) {
			return &model.Identity{ID: "user-2", DisplayName: "太郎"}, nil
		},
	}
	h := NewAuthHandler(authSvc, pairingSvc, nil)

	req := authedRequest(http.MethodGet, "/auth/me", "", "user-1")
	rec := httptest.NewRecorder()
	h.HandleMe(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	user, _ := body["user"].(map[string]any)
	if user["paired"] != true {
		t.Errorf("user.paired = %v, want true", user["paired"])
	}
	partner, _ := body["partner"].(map[string]any)
	if partner["id"] != "user-2" {
		t.Errorf("partner.id = %v, want user-2", partner["id"])
	}
}

func TestHandleMeUnpaired(t *testing.T) {
	authSvc := &mockAuthService{
		getCurrentIdentityFn: func(ctx context.Context, identityID string) (*model.Identity, error) {
			return &model.Identity{ID: "user-1", DisplayName: "花子"}, nil
		},
	}
	h := NewAuthHandler(authSvc, &mockPairingService{}, nil)

	req := authedRequest(http.MethodGet, "/auth/me", "", "user-1")
	rec := httptest.NewRecorder()
	h.HandleMe(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, ok := body["partner"]; ok {
		t.Error("unpaired user should not have partner in response")
	}
}

func TestHandleDeleteMe(t *testing.T) {
	deleted := ""
	authSvc := &mockAuthService{
		deleteAccountFn: func(ctx context.Context, identityID string) error {
			deleted = identityID
			return nil
		},
	}
	h := NewAuthHandler(authSvc, &mockPairingService{}, nil)

	req := authedRequest(http.MethodDelete, "/auth/me", "", "user-1")
	rec := httptest.NewRecorder()
	h.HandleDeleteMe(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if deleted != "user-1" {
		t.Errorf("deleted = %q, want user-1", deleted)
	}
}
