package main

import (
	"anonchat/backend/internal/api/handler"
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/localization"
	"anonchat/backend/internal/report"
	"anonchat/backend/internal/storage"
	"anonchat/backend/internal/telegram"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Log.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// setupStorage picks PostgreSQL (with optional Redis) when a database is
// configured and the in-memory store otherwise.
func setupStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, func(), error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL is not set, using in-memory storage")
		return storage.NewMemoryStore(), func() {}, nil
	}

	db, err := storage.OpenPostgres(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	rdb, err := storage.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	if rdb == nil {
		logger.Info("REDIS_ADDR is not set, queue mirrors and event fan-out stay local")
	}

	cleanup := func() {
		if rdb != nil {
			rdb.Close()
		}
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	logger.Info("database connections established, migrations complete")
	return storage.NewStorageService(db, rdb, logger.Named("storage")), cleanup, nil
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting anonchat backend", zap.Int64("operator_id", cfg.Telegram.OperatorID), zap.String("language", cfg.Telegram.Language))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Dependencies
	store, cleanup, err := setupStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to set up storage", zap.Error(err))
	}
	defer cleanup()

	localizer, err := localization.New()
	if err != nil {
		logger.Fatal("failed to load translations", zap.Error(err))
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal("failed to connect to Telegram", zap.Error(err))
	}
	logger.Info("authorized on telegram", zap.String("account", api.Self.UserName))

	// 2. Core
	lang := cfg.Telegram.Language
	transport := telegram.NewTransport(api, localizer, lang, logger.Named("transport"))
	outbox := chathub.NewOutbox(transport, cfg.Outbox.Size, logger.Named("outbox"))
	hub := chathub.NewHub(store, transport, outbox, cfg.Telegram.OperatorID, logger.Named("hub"))
	outbox.OnUnreachable(hub.MarkUnreachable)

	n, err := hub.ResetOnStartup(ctx)
	if err != nil {
		logger.Fatal("failed to reset chat statuses", zap.Error(err))
	}
	logger.Info("chat statuses reset", zap.Int64("users", n))

	reports := report.NewService(store, transport, cfg.Telegram.OperatorID, logger.Named("report"))
	reportHandler := telegram.NewReportHandler(api, reports, localizer, lang, logger.Named("report_handler"))
	bot := telegram.NewBotService(api, hub, outbox, reportHandler, localizer, lang, logger.Named("bot"))
	if err := bot.RegisterCommands(); err != nil {
		logger.Warn("failed to register bot commands", zap.Error(err))
	}

	// 3. Goroutines
	go outbox.Run(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	go func() {
		bot.Run(ctx, updates)
		api.StopReceivingUpdates()
	}()

	// 4. Operator API
	server := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        handler.NewHandler(hub, []byte(cfg.Server.JWTSecret), logger.Named("http")).Router(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}
