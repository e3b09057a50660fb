package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/storefront-labs/livechat/internal/api"
	"github.com/storefront-labs/livechat/internal/api/middleware"
	"github.com/storefront-labs/livechat/internal/chat"
	"github.com/storefront-labs/livechat/internal/config"
	"github.com/storefront-labs/livechat/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Pick the conversation store: Postgres when configured, SQLite otherwise
	var convStore store.ConversationStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		convStore = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		path := cfg.SQLitePath
		if path == "" {
			path = "livechat.db"
		}
		sqlStore, err := store.NewSQLiteStore(ctx, path)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		convStore = sqlStore
		logger.Info().Str("path", path).Msg("using SQLite store")
	}
	defer convStore.Close()

	// Initialize Redis store (optional, rate limiting)
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Wire the chat runtime
	presence := chat.NewPresence()
	hub := chat.NewHub(presence, logger)
	bot := chat.NewBot(convStore, cfg.CouponCode, cfg.BotReplyDelay, cfg.AutoReplyEnabled, logger)
	chatSvc := chat.NewService(convStore, hub, presence, bot, logger)

	adminAuth := middleware.NewAdminAuth(cfg.AdminKeyHash)
	sockets := chat.NewSocketHandler(chatSvc, adminAuth.Verify, logger)

	// Create router
	router := api.NewRouter(logger, api.RouterDeps{
		Store:     convStore,
		Redis:     redisStore,
		Chat:      chatSvc,
		Sockets:   sockets,
		AdminAuth: adminAuth,
		Whitelist: cfg.RateLimitWhitelist,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting livechat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
