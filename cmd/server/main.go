package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docsync/internal/api"
	"docsync/internal/auth"
	"docsync/internal/config"
	"docsync/internal/db"
	"docsync/internal/repository"
	"docsync/internal/services/collaboration"
	"docsync/internal/telemetry"
)

/*
LEARNING: STARTUP AND SHUTDOWN ORDER

Startup: config, logger, tracing, database, auth, rooms, dispatcher, HTTP.
Shutdown: stop accepting HTTP, then close websocket sessions (hijacked connections
are invisible to http.Server), then the deferred closers run in reverse order.
*/

const (
	serviceName    = "docsync"
	serviceVersion = "0.1.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("❌ Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("🚀 Starting docsync realtime server", slog.String("version", serviceVersion))

	// tracing first so everything after it is traced
	shutdownTracing, err := telemetry.InitJaeger(serviceName, serviceVersion, cfg.JaegerEndpoint, logger)
	if err != nil {
		logger.Warn("⚠️  Failed to initialize Jaeger, continuing without tracing", slog.Any("error", err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("⚠️  Failed to shutdown Jaeger", slog.Any("error", err))
		}
	}()

	database, err := db.NewGorm(cfg, logger)
	if err != nil {
		logger.Error("❌ Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	docRepo := repository.NewDocumentRepository(database.DB)
	collabRepo := repository.NewCollaboratorRepository(database.DB)
	blocklist := repository.NewTokenBlocklistRepository(database.DB)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	registry := collaboration.NewRegistry(verifier, blocklist, logger)
	gate := collaboration.NewGate(collabRepo, logger)

	checks := map[string]api.HealthChecker{"database": database}

	// rooms are process-local unless REDIS_URL is set
	var rooms collaboration.Rooms
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisRooms, err := collaboration.NewRedisRooms(context.Background(), cfg.RedisURL, logger)
		if err != nil {
			logger.Error("❌ Failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisRooms.Close()
		rooms = redisRooms
		checks["redis"] = redisRooms
	} else {
		rooms = collaboration.NewRoomManager(logger)
	}

	dispatcher := collaboration.NewDispatcher(registry, rooms, gate, docRepo, logger)

	sessionCfg := collaboration.DefaultSessionConfig()
	sessionCfg.SendBuffer = cfg.WSSendBuffer
	sessionCfg.ReadLimit = cfg.WSReadLimit
	sessionCfg.PongWait = cfg.WSPongWait
	wsHandler := collaboration.NewWebSocketHandler(dispatcher, sessionCfg, cfg.AllowedOrigins, logger)

	// Learning: the registry doubles as the API's token verifier so revoked tokens are
	// refused on both surfaces
	handler := api.NewHandler(registry, gate, rooms, dispatcher, checks, logger)
	router := api.SetupRoutes(handler, wsHandler, cfg.AllowedOrigins, logger)

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: hijacked websocket connections manage their own deadlines
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("🌐 Server listening",
			slog.String("addr", cfg.Addr()),
			slog.String("realtime", "GET /ws?token=<jwt>"),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("❌ Server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("⚠️  Server forced to shutdown", slog.Any("error", err))
	}

	// hijacked connections are not tracked by http.Server
	if err := wsHandler.Shutdown(ctx); err != nil {
		logger.Warn("⚠️  Websocket sessions did not close in time", slog.Any("error", err))
	}

	logger.Info("✓ Server shutdown complete")
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
