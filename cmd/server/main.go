package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/telnet-web-access/backend/api/handlers"
	"github.com/telnet-web-access/backend/internal/config"
	"github.com/telnet-web-access/backend/internal/db"
	"github.com/telnet-web-access/backend/internal/history"
	"github.com/telnet-web-access/backend/internal/repository"
	"github.com/telnet-web-access/backend/internal/retry"
	"github.com/telnet-web-access/backend/internal/session"
	"github.com/telnet-web-access/backend/internal/transport"
	"github.com/telnet-web-access/backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	settings, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := settings.NewLogger()
	slog.SetDefault(logger)

	if err := run(settings, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(settings *config.Settings, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	var sessionRepo *repository.SessionRepository
	if settings.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(settings.DBPath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		database, err := db.Open(settings.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()

		sessionRepo = repository.NewSessionRepository(database)
		n, err := sessionRepo.MarkInterrupted(ctx, "server restarted")
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("marked interrupted sessions", "count", n)
		}
	}

	if settings.RecordingDir != "" {
		if err := os.MkdirAll(settings.RecordingDir, 0755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}

	resolver, closeHistory, err := newHistory(ctx, settings)
	if err != nil {
		return err
	}
	defer closeHistory()

	dialer, err := newDialer(settings)
	if err != nil {
		return err
	}
	if closer, ok := dialer.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var reconnect *retry.Backoff
	if settings.Reconnect {
		reconnect = retry.DefaultBackoff()
		reconnect.MaxAttempts = settings.ReconnectMaxAttempts
	}

	mode, err := session.ParseMode(settings.Mode)
	if err != nil {
		return err
	}

	// The hub is the registry's sink and the handler's client directory.
	hub := ws.NewHub(logger.With("component", "ws"))
	registryConfig := session.Config{
		Mode:           mode,
		Dialer:         dialer,
		History:        resolver,
		ReplayBytes:    settings.HistoryReplayBytes,
		ReadBufferSize: settings.ReadBufferSize,
		WriteTimeout:   settings.WriteTimeout,
		Reconnect:      reconnect,
		IdleTimeout:    settings.IdleTimeout,
		RecordingDir:   settings.RecordingDir,
		Logger:         logger.With("component", "session"),
	}
	if sessionRepo != nil {
		registryConfig.Audit = sessionRepo
	}
	registry, err := session.NewRegistry(registryConfig, hub)
	if err != nil {
		return err
	}

	wsService := ws.NewService(hub, registry, ws.Options{
		FilterIAC:      settings.FilterIAC,
		AllowedOrigins: settings.AllowedOrigins,
		Logger:         logger.With("component", "ws"),
	})
	defer wsService.Close()

	janitor := cron.New()
	if _, err := janitor.AddFunc(fmt.Sprintf("@every %s", settings.JanitorInterval), func() {
		if n := registry.CleanupIdle(time.Now()); n > 0 {
			logger.Info("disposed idle sessions", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule janitor: %w", err)
	}
	janitor.Start()
	defer janitor.Stop()

	// Initialize handlers
	var store handlers.SessionStore
	if sessionRepo != nil {
		store = sessionRepo
	}
	sessionHandler := handlers.NewSessionHandler(store, registry, resolver, settings.RecordingDir)
	wsHandler := handlers.NewWebSocketHandler(wsService)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"mode":     string(mode),
			"sessions": registry.SessionCount(),
			"clients":  wsService.ClientCount(),
		})
	})

	// API routes
	api := r.Group("/api")
	{
		sessionHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:              settings.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", settings.Addr, "mode", mode, "history", settings.HistoryBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	wsService.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Warn("session shutdown", "error", err)
	}
	return nil
}

// newHistory builds the configured history backend and its cleanup func.
func newHistory(ctx context.Context, settings *config.Settings) (history.Resolver, func(), error) {
	switch settings.HistoryBackend {
	case "memory":
		return history.NewMemoryResolver(int(settings.HistoryMaxBytes)), func() {}, nil
	case "redis":
		resolver := history.NewRedisResolver(history.RedisConfig{
			Client:    redis.NewClient(&redis.Options{Addr: settings.RedisAddr}),
			KeyPrefix: settings.RedisPrefix,
			MaxBytes:  settings.HistoryMaxBytes,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := resolver.Ping(pingCtx); err != nil {
			resolver.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", settings.RedisAddr, err)
		}
		return resolver, func() { resolver.Close() }, nil
	default:
		resolver, err := history.NewFileResolver(settings.DataDir, settings.HistoryMaxBytes)
		if err != nil {
			return nil, nil, err
		}
		return resolver, func() {}, nil
	}
}

// newDialer dials directly unless an SSH jump host is configured.
func newDialer(settings *config.Settings) (transport.Dialer, error) {
	if settings.SSHJump == "" {
		return transport.NewTCPDialer(settings.DialTimeout), nil
	}

	user, host, port, err := transport.ParseJumpSpec(settings.SSHJump)
	if err != nil {
		return nil, err
	}
	return transport.NewSSHDialer(&transport.SSHConfig{
		User:                  user,
		Host:                  host,
		Port:                  port,
		KeyPath:               settings.SSHKeyPath,
		KnownHostsPath:        settings.SSHKnownHosts,
		InsecureIgnoreHostKey: settings.SSHInsecure,
		Timeout:               settings.DialTimeout,
	})
}

// requestLogger logs each request through slog.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
