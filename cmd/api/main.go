// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/yourusername/archive-forge/internal/config"
	"github.com/yourusername/archive-forge/internal/jobs"
	"github.com/yourusername/archive-forge/internal/logging"
)

const (
	sessionCookieName = "archive_forge_session"
	sessionMaxAge     = 7 * 24 * time.Hour
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "console", "archive-forge-api", os.Stderr).
			Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, "archive-forge-api", os.Stdout)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	manager, err := setupJobs(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up task manager")
	}

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.MaxMultipartMemory = 32 << 20

	// セッションストアの設定（投入したタスクの履歴を保持する）
	store := cookie.NewStore(cfg.SessionKey())
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(sessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	// ダウンロード時にファイル名とタスクIDを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Task-Id"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, manager, logger)

	// 定期クリーンアップ
	sweeper, err := startSweeper(cfg.CleanupSchedule, manager, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start cleanup scheduler")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("mode", cfg.GinMode).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	<-sweeper.Stop().Done()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := manager.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("task manager shutdown failed")
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "archive-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, manager *jobs.Manager, logger zerolog.Logger) {
	router.GET("/health", handleHealth)

	handler := jobs.NewHandler(manager, jobs.HandlerOptions{
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		Logger:            logger,
	})
	handler.Register(router.Group("/api"))
}

// startSweeper は cron 式に従って保持期間切れのファイルを削除します。
func startSweeper(schedule string, manager *jobs.Manager, logger zerolog.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		report := manager.Sweep(context.Background())
		logger.Debug().
			Int("removed", len(report.Removed)).
			Int64("freed_bytes", report.FreedBytes).
			Msg("scheduled cleanup finished")
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
