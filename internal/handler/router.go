package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/paircal/internal/middleware"
)

// Pinger はヘルスチェック用のDB疎通確認インターフェース。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はルーター構築に必要な依存をまとめる。
type RouterDeps struct {
	AuthHandler         *AuthHandler
	EventHandler        *EventHandler
	SyncHandler         *SyncHandler
	NotificationHandler *NotificationHandler

	TokenValidator middleware.TokenValidator
	DB             Pinger

	// MetricsMiddleware と MetricsHandler はnil可（メトリクス無効時）。
	MetricsMiddleware func(http.Handler) http.Handler
	MetricsHandler    http.Handler

	// GeneralLimiter は全エンドポイント、PairingLimiter はペアリング操作を
	// 含むPOST /authに適用する。
	GeneralLimiter *middleware.RateLimiter
	PairingLimiter *middleware.RateLimiter

	CORSAllowedOrigin string
}

// NewRouter はAPIルーターを構築する。
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(deps.CORSAllowedOrigin))
	if deps.MetricsMiddleware != nil {
		r.Use(deps.MetricsMiddleware)
	}

	// リクエストログは認証ミドルウェアの内側に置き、user_idを拾えるようにする。
	// /healthと/metricsはコンテナの定期ポーリングで埋まるためログしない。
	logging := middleware.NewLoggingMiddleware(slog.Default())

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := deps.DB.PingContext(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// loginが未認証で通る必要があるためPOST /authはOptionalAuthを使い、
	// 認証必須アクションはハンドラ内で判定する
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(deps.TokenValidator))
		r.Use(logging)
		r.Use(deps.PairingLimiter.Middleware)
		r.Post("/auth", deps.AuthHandler.HandleAuth)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(deps.TokenValidator))
		r.Use(logging)
		r.Use(deps.GeneralLimiter.Middleware)

		r.Get("/auth/me", deps.AuthHandler.HandleMe)
		r.Delete("/auth/me", deps.AuthHandler.HandleDeleteMe)

		r.Get("/events", deps.EventHandler.HandleList)
		r.Post("/events", deps.EventHandler.HandleCreate)
		r.Put("/events", deps.EventHandler.HandleUpdate)
		r.Delete("/events", deps.EventHandler.HandleDelete)

		r.Get("/sync/changes", deps.SyncHandler.HandleChanges)

		r.Get("/notifications", deps.NotificationHandler.HandleList)
		r.Get("/settings/notifications", deps.NotificationHandler.HandleGetSettings)
		r.Put("/settings/notifications", deps.NotificationHandler.HandlePutSettings)
	})

	return r
}
