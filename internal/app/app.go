// Package app はサブコマンドの起動と依存の組み立てを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hitoshi/paircal/internal/auth"
	"github.com/hitoshi/paircal/internal/config"
	"github.com/hitoshi/paircal/internal/database"
	"github.com/hitoshi/paircal/internal/event"
	"github.com/hitoshi/paircal/internal/handler"
	"github.com/hitoshi/paircal/internal/logger"
	"github.com/hitoshi/paircal/internal/metrics"
	"github.com/hitoshi/paircal/internal/middleware"
	"github.com/hitoshi/paircal/internal/notification"
	"github.com/hitoshi/paircal/internal/pairing"
	"github.com/hitoshi/paircal/internal/repository"
	syncsvc "github.com/hitoshi/paircal/internal/sync"
	"github.com/hitoshi/paircal/internal/worker/retention"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間の上限。
const shutdownTimeout = 30 * time.Second

// Run はサブコマンドを解決して実行する。プロセスのエントリポイント。
func Run(args []string) error {
	logger.SetupDefault(os.Stdout)

	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandServe:
		return runServe(ctx, cfg)
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandHealthcheck:
		return runHealthcheck(cfg)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// runServe はAPIサーバーを起動する。リマインダーのワンショットタイマーも
// このプロセスで動く（取りこぼしはworkerのスイープが拾う）。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	slog.Info("database connected", slog.String("url", maskDatabaseURL(cfg.DatabaseURL)))

	identityRepo := repository.NewPostgresIdentityRepo(db)
	pairRepo := repository.NewPostgresPairRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)
	changeRepo := repository.NewPostgresChangeRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	m := metrics.New()

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenMaxAge)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}
	authService := auth.NewService(tokens, identityRepo, pairRepo)
	pairingService := pairing.NewService(identityRepo, pairRepo, pairing.ServiceConfig{
		CodeTTL:     cfg.PairCodeTTL,
		MaxAttempts: cfg.PairCodeMaxAttempts,
	})

	dispatcher := newDispatcher(cfg, identityRepo, settingsRepo, notificationRepo, m)
	scheduler := notification.NewScheduler(eventRepo, identityRepo, pairRepo, dispatcher, m, cfg.ReminderTick)
	defer scheduler.Stop()

	eventService := event.NewService(eventRepo, identityRepo, pairRepo, dispatcher, scheduler)
	syncService := syncsvc.NewService(changeRepo, identityRepo, pairRepo)

	router := handler.NewRouter(handler.RouterDeps{
		AuthHandler:         handler.NewAuthHandler(authService, pairingService, m),
		EventHandler:        handler.NewEventHandler(eventService, m),
		SyncHandler:         handler.NewSyncHandler(syncService),
		NotificationHandler: handler.NewNotificationHandler(notificationRepo, settingsRepo),
		TokenValidator:      tokens,
		DB:                  db,
		MetricsMiddleware:   m.Middleware,
		MetricsHandler:      m.Handler(),
		GeneralLimiter:      middleware.NewRateLimiter(cfg.RateLimitGeneral),
		PairingLimiter:      middleware.NewRateLimiter(cfg.RateLimitPairing),
		CORSAllowedOrigin:   cfg.CORSAllowedOrigin,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", slog.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// runWorker はリマインダースイープ、期限超過スイープ、保持期間の掃除を
// 1プロセスで回す。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	slog.Info("worker starting", slog.String("url", maskDatabaseURL(cfg.DatabaseURL)))

	identityRepo := repository.NewPostgresIdentityRepo(db)
	pairRepo := repository.NewPostgresPairRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	m := metrics.New()
	dispatcher := newDispatcher(cfg, identityRepo, settingsRepo, notificationRepo, m)
	scheduler := notification.NewScheduler(eventRepo, identityRepo, pairRepo, dispatcher, m, cfg.ReminderTick)
	sweeper := notification.NewOverdueSweeper(eventRepo, dispatcher, m, cfg.OverdueSweepInterval)
	cleaner := retention.NewCleaner(db, retention.Config{
		Interval:              time.Hour,
		TombstoneRetention:    cfg.TombstoneRetention,
		ChangeRetention:       cfg.ChangeRetention,
		NotificationRetention: cfg.ChangeRetention,
	})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		cleaner.Run(ctx)
	}()

	wg.Wait()
	slog.Info("worker stopped")
	return nil
}

func runMigrate(cfg *config.Config) error {
	slog.Info("running migrations", slog.String("url", maskDatabaseURL(cfg.DatabaseURL)))
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("migrations completed")
	return nil
}

func runHealthcheck(cfg *config.Config) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + cfg.ServerPort + "/health")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// newDispatcher は設定に応じたチャネル構成でディスパッチャを組み立てる。
// ボットトークン未設定時はブラウザチャネルのみになる。
func newDispatcher(
	cfg *config.Config,
	identityRepo repository.IdentityRepository,
	settingsRepo repository.SettingsRepository,
	notificationRepo repository.NotificationRepository,
	m *metrics.Metrics,
) *notification.Dispatcher {
	channels := []notification.Channel{
		notification.NewBrowserChannel(notificationRepo),
	}
	if cfg.TelegramBotToken != "" {
		client := notification.NewTelegramClient(cfg.TelegramBotToken, cfg.TelegramAPIBase)
		channels = append(channels, notification.NewBotChannel(client, identityRepo))
	} else {
		slog.Warn("TELEGRAM_BOT_TOKEN not set, bot channel disabled")
	}
	return notification.NewDispatcher(settingsRepo, channels, m)
}

// maskDatabaseURL は接続URLのパスワードを伏せてログ用に整形する。
func maskDatabaseURL(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "(invalid url)"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
