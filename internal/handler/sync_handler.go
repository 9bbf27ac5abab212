package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/sync"
)

// SyncService は変更フィードのサービスインターフェース。
type SyncService interface {
	ChangesSince(ctx context.Context, callerID string, sinceSeq int64, limit int) (*sync.ChangePage, error)
}

// SyncHandler は変更フィードのHTTPハンドラ。
type SyncHandler struct {
	syncService SyncService
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(syncService SyncService) *SyncHandler {
	return &SyncHandler{syncService: syncService}
}

// changePayload は変更レコードのレスポンス表現。
type changePayload struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"eventId"`
	Op        string          `json:"op"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	OriginID  string          `json:"originId"`
	Version   int64           `json:"version"`
	CreatedAt string          `json:"createdAt"`
}

// HandleChanges はGET /sync/changes?since=N&limit=Mを処理する。
func (h *SyncHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	since, err := parseQueryInt64(r, "since", 0)
	if err != nil {
		writeAPIErrorResponse(w, model.NewValidationError("since", "数値を指定してください"))
		return
	}
	limit, err := parseQueryInt64(r, "limit", 0)
	if err != nil {
		writeAPIErrorResponse(w, model.NewValidationError("limit", "数値を指定してください"))
		return
	}

	page, err := h.syncService.ChangesSince(r.Context(), userID, since, int(limit))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	changes := make([]changePayload, 0, len(page.Changes))
	for _, c := range page.Changes {
		changes = append(changes, changePayload{
			Seq:       c.Seq,
			EventID:   c.EventID,
			Op:        string(c.Op),
			Payload:   c.Payload,
			OriginID:  c.OriginID,
			Version:   c.Version,
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changes":   changes,
		"latestSeq": page.LatestSeq,
	})
}

// parseQueryInt64 はクエリパラメータを数値として読み取る。未指定ならdefを返す。
func parseQueryInt64(r *http.Request, key string, def int64) (int64, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return def, nil
	}
	return strconv.ParseInt(value, 10, 64)
}
