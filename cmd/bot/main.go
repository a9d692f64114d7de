package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/farmaplex/wsp-bot-go/internal/config"
	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/flow"
	"github.com/farmaplex/wsp-bot-go/internal/handler"
	"github.com/farmaplex/wsp-bot-go/internal/infra/cache"
	"github.com/farmaplex/wsp-bot-go/internal/infra/checkpoint"
	"github.com/farmaplex/wsp-bot-go/internal/infra/classifier"
	"github.com/farmaplex/wsp-bot-go/internal/infra/observability"
	"github.com/farmaplex/wsp-bot-go/internal/infra/plex"
	"github.com/farmaplex/wsp-bot-go/internal/infra/resilience"
	"github.com/farmaplex/wsp-bot-go/internal/infra/whatsapp"
	"github.com/farmaplex/wsp-bot-go/internal/matching"
	"github.com/farmaplex/wsp-bot-go/internal/port"
	"github.com/farmaplex/wsp-bot-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("org_id", cfg.OrgID),
		zap.String("classifier_mode", cfg.ClassifierMode),
		zap.Bool("use_redis", cfg.UseRedis),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("auth_max_retries", cfg.AuthMaxRetries),
		zap.Float64("name_match_threshold", cfg.NameMatchThreshold),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "wsp-bot")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)
	sendCfg := resilience.Config{
		MaxRetries:     cfg.SendMaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	plexClient := plex.NewClient(
		httpClient,
		cfg.PlexAPIURL,
		cfg.PlexAPIKey,
		resilience.NewCircuitBreaker("plex"),
		bulkhead,
		logger,
	)
	directory := plex.NewCachedDirectory(plexClient, cache.New[domain.LookupOutcome](cfg.CacheTTL), metrics)

	messenger := whatsapp.NewClient(
		httpClient,
		cfg.WhatsAppAPIURL,
		cfg.WhatsAppToken,
		cfg.WhatsAppPhoneID,
		resilience.NewCircuitBreaker("whatsapp"),
		sendCfg,
		logger,
	)

	var intents port.IntentClassifier
	if cfg.ClassifierMode == "http" {
		logger.Info("using HTTP intent classifier", zap.String("url", cfg.ClassifierAPIURL))
		intents = classifier.NewHTTP(httpClient, cfg.ClassifierAPIURL, resilience.NewCircuitBreaker("classifier"), logger)
	} else {
		logger.Info("using keyword intent classifier")
		intents = classifier.NewKeyword()
	}

	// --- Checkpoint store ---
	var store port.Checkpointer
	var ready handler.ReadyCheck
	if cfg.UseRedis {
		redisStore, err := checkpoint.NewRedis(cfg.RedisURL, cfg.LockTTL, cfg.LockWait, logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		store = redisStore
		ready = redisStore.Ping
		logger.Info("using Redis checkpoint store")
	} else {
		store = checkpoint.NewMemory()
		logger.Warn("using in-memory checkpoint store, state does not survive restarts")
	}

	// --- Workflow ---
	var routeOverrides map[string]map[string]string
	if len(cfg.IntentRoutes) > 0 {
		routeOverrides = map[string]map[string]string{cfg.OrgID: cfg.IntentRoutes}
	}

	matcher := matching.New(matching.Config{
		Threshold: cfg.NameMatchThreshold,
		StopWords: cfg.NameStopWords,
	})
	payLinks := service.NewPayLinks(cfg.PaymentLinkBaseURL, []byte(cfg.PaymentLinkSecret), cfg.PaymentLinkTTL)

	graph, err := flow.Build(flow.Deps{
		Directory:  directory,
		Debt:       plexClient,
		Classifier: intents,
		Routes:     flow.NewStaticRoutes(routeOverrides),
		Payments:   payLinks,
		Matcher:    matcher,
		Metrics:    metrics,
		Logger:     logger,
	}, flow.AuthConfig{
		OrgID:          cfg.OrgID,
		MaxRetries:     cfg.AuthMaxRetries,
		NameMaxRetries: cfg.NameMaxRetries,
	})
	if err != nil {
		logger.Fatal("failed to build conversation graph", zap.Error(err))
	}
	executor := flow.NewExecutor(graph, cfg.GraphHops, 0, metrics, logger)

	// --- Services ---
	conversationSvc := service.NewConversation(executor, store, messenger, metrics, logger)

	// --- Router ---
	webhookCfg := handler.WebhookConfig{
		VerifyToken: cfg.WebhookVerifyToken,
		AppSecret:   cfg.WebhookAppSecret,
		Async:       true,
	}
	router := handler.NewRouter(conversationSvc, webhookCfg, ready, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
