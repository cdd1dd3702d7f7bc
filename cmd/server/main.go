// Marketing Hub - chat and analytics server for the marketing team assistant.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/marketing-hub/internal/api"
	"github.com/ashureev/marketing-hub/internal/backend"
	"github.com/ashureev/marketing-hub/internal/chat"
	"github.com/ashureev/marketing-hub/internal/config"
	"github.com/ashureev/marketing-hub/internal/dashboard"
	"github.com/ashureev/marketing-hub/internal/events"
	"github.com/ashureev/marketing-hub/internal/identity"
	"github.com/ashureev/marketing-hub/internal/memory"
	"github.com/ashureev/marketing-hub/internal/middleware"
	"github.com/ashureev/marketing-hub/internal/payment"
	"github.com/ashureev/marketing-hub/internal/retention"
	"github.com/ashureev/marketing-hub/internal/store"
	"github.com/ashureev/marketing-hub/internal/webhook"
	"github.com/ashureev/marketing-hub/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	bus := events.NewBus(logger)
	defer bus.Close()

	// Memory persists in SQLite unless a directory is configured.
	var persister memory.Persister = repo
	if cfg.MemoryDir != "" {
		fp, err := memory.NewFilePersister(cfg.MemoryDir)
		if err != nil {
			slog.Error("Failed to initialize memory directory", "error", err)
			os.Exit(1)
		}
		persister = fp
		slog.Info("Memory stored on disk", "dir", cfg.MemoryDir)
	}
	memories := memory.NewRegistry(persister, cfg.MemoryCapacity, logger)

	// Chat backend clients.
	backendCfg := backend.Config{
		WSURL:             cfg.ChatBackend.WSURL,
		BaseURL:           cfg.ChatBackend.URL,
		ReconnectInterval: cfg.ChatBackend.ReconnectInterval,
		MaxRetries:        cfg.ChatBackend.MaxRetries,
		HealthTimeout:     cfg.ChatBackend.HealthTimeout,
		HealthInterval:    cfg.ChatBackend.HealthInterval,
		SendRetries:       cfg.ChatBackend.SendRetries,
	}

	var health backend.HealthChecker = backend.NewHTTPHealthChecker(cfg.ChatBackend.URL, cfg.ChatBackend.HealthTimeout, nil)
	if cfg.ChatBackend.GRPCAddr != "" {
		grpcHealth, err := backend.NewGRPCHealthChecker(cfg.ChatBackend.GRPCAddr, "", cfg.ChatBackend.HealthTimeout, logger)
		if err != nil {
			slog.Warn("Failed to create gRPC health checker, using HTTP", "error", err)
		} else {
			defer grpcHealth.Close()
			health = grpcHealth
			slog.Info("Chat backend health via gRPC", "address", cfg.ChatBackend.GRPCAddr)
		}
	}

	rest := backend.NewRESTClient(backendCfg, nil, logger)
	newConn := func(opts backend.Options) chat.Connection {
		opts.Health = health
		return backend.NewManager(backendCfg, opts)
	}

	// Dashboard cache: Redis when configured, otherwise in process.
	var (
		cache      dashboard.Cache
		cacheSweep retention.CacheSweeper
	)
	if cfg.Dashboard.RedisURL != "" {
		rc, err := dashboard.NewRedisCache(ctx, cfg.Dashboard.RedisURL)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := rc.Close(); closeErr != nil {
				slog.Error("Failed to close Redis cache", "error", closeErr)
			}
		}()
		cache = rc
		slog.Info("Dashboard cache backed by Redis")
	} else {
		mc := dashboard.NewMemoryCache()
		cache = mc
		cacheSweep = mc
	}
	dashboardSvc := dashboard.NewService(cache, cfg.Dashboard.CacheTTL, logger)

	gateway := payment.NewHTTPGateway(cfg.Payment.GatewayURL, cfg.Payment.APIKey, cfg.Payment.Timeout, logger)
	paymentSvc := payment.NewService(gateway, repo, bus, logger)

	conversationLogger, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	sm := chat.NewSessionManager(chat.ManagerConfig{
		NewConn:   newConn,
		Fallback:  rest,
		Memory:    memories,
		Store:     repo,
		Refresher: dashboardSvc,
		Log:       conversationLogger,
		Token:     cfg.ChatBackend.Token,
		Logger:    logger,
	})
	defer sm.CloseAll()

	stream := chat.NewStreamHandler(chat.StreamConfig{
		KeepaliveInterval: cfg.SSE.KeepaliveInterval,
		RetryDelay:        cfg.SSE.RetryDelay,
	}, logger)
	defer stream.Close()

	// Every bus event reaches open chat sessions and SSE subscribers.
	sessionEvents, unsubscribeSessions := bus.Subscribe(64)
	defer unsubscribeSessions()
	go sm.Consume(ctx, sessionEvents)

	streamEvents, unsubscribeStream := bus.Subscribe(64)
	defer unsubscribeStream()
	go stream.Run(ctx, streamEvents)

	limiter := chat.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg.FrontendURL)
	profileHandler := api.NewProfileHandler(baseHandler, cfg)
	healthHandler := api.NewHealthHandler(repo, health, cfg.ChatBackend.HealthTimeout)
	agentsHandler := api.NewAgentsHandler(rest, cfg.ChatBackend.HealthTimeout)
	chatHandler := chat.NewHandler(sm, limiter, cfg.SSE.MaxRequestBodySize, logger)
	wsHandler := chat.NewWebSocketHandler(sm, limiter, repo, cfg.FrontendURL, cfg.IsDevelopment(), logger)
	webhookHandler := webhook.NewHandler(bus, cfg.WebhookSecret, logger)
	paymentHandler := payment.NewHandler(paymentSvc, logger)
	dashboardHandler := dashboard.NewHandler(dashboardSvc, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	r.Handle("/metrics", promhttp.Handler())
	healthHandler.RegisterHealth(r)
	api.RegisterCatalog(r)
	agentsHandler.RegisterRoutes(r)
	r.Handle("/api/webhooks/deployments", webhookHandler)
	r.Get("/api/payments/tiers", paymentHandler.ListTiers)

	// Routes scoped to the visitor identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

		profileHandler.RegisterRoutes(r)

		r.Post("/api/chat/messages", chatHandler.SendMessage)
		r.Get("/api/chat/history", chatHandler.GetHistory)
		r.Delete("/api/chat/history", chatHandler.ResetHistory)
		r.Post("/api/chat/history/{id}/read", chatHandler.MarkRead)
		r.Get("/api/chat/status", chatHandler.GetStatus)
		r.Post("/api/chat/reconnect", chatHandler.Reconnect)

		r.Get("/api/memory", chatHandler.ListMemory)
		r.Post("/api/memory", chatHandler.Remember)
		r.Get("/api/memory/{key}", chatHandler.Recall)
		r.Delete("/api/memory/{key}", chatHandler.Forget)

		r.Get("/api/events/stream", stream.ServeHTTP)

		r.Post("/api/payments", paymentHandler.Charge)
		r.Get("/api/payments", paymentHandler.List)

		r.Get("/api/dashboard/metrics", dashboardHandler.GetMetrics)

		// WebSocket endpoint.
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	// Start TTL worker.
	retention.NewWorker(retention.Config{
		Interval:    cfg.CleanupInterval,
		HistoryTTL:  cfg.HistoryTTL,
		SessionIdle: cfg.SessionIdle,
	}, repo, sm, cacheSweep, logger).Start(ctx)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Streams and sockets end first so Shutdown does not wait on them.
	stream.Close()
	sm.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}

// allowedOrigins restricts CORS to the configured frontend outside
// development.
func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" || cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
