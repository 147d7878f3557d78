package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/oncallops/answergate/internal/answerer"
	"github.com/oncallops/answergate/internal/api"
	"github.com/oncallops/answergate/internal/auth"
	"github.com/oncallops/answergate/internal/budget"
	"github.com/oncallops/answergate/internal/cache"
	"github.com/oncallops/answergate/internal/circuitbreaker"
	"github.com/oncallops/answergate/internal/config"
	"github.com/oncallops/answergate/internal/crypto"
	"github.com/oncallops/answergate/internal/domain"
	"github.com/oncallops/answergate/internal/events"
	"github.com/oncallops/answergate/internal/notifications"
	"github.com/oncallops/answergate/internal/orchestrator"
	"github.com/oncallops/answergate/internal/provider/anthropic"
	"github.com/oncallops/answergate/internal/provider/bedrock"
	"github.com/oncallops/answergate/internal/provider/ollama"
	"github.com/oncallops/answergate/internal/ratelimit"
	"github.com/oncallops/answergate/internal/repository"
	"github.com/oncallops/answergate/internal/retrieval"
	"github.com/oncallops/answergate/internal/routing"
	"github.com/oncallops/answergate/internal/secrets"
	"github.com/oncallops/answergate/internal/telemetry"
)

const anthropicKeySecret = "answergate/anthropic-api-key"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting answergate", "addr", cfg.Addr, "version", "0.3.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, "answergate", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("trace shutdown failed", "error", err)
		}
	}()

	resolveSecrets(ctx, cfg)

	store := retrieval.NewStore()
	if cfg.RunbookDir != "" {
		n, err := store.LoadDir(cfg.RunbookDir)
		if err != nil {
			slog.Error("failed to load runbooks", "dir", cfg.RunbookDir, "error", err)
			os.Exit(1)
		}
		slog.Info("runbooks loaded", "dir", cfg.RunbookDir, "chunks", n)
	} else {
		slog.Warn("no runbook directory configured, grounded answers will have no evidence")
	}
	grounded := answerer.NewGrounded(retrieval.NewRetriever(store), cfg.RetrievalTopK)

	strategy, err := routing.ParseStrategy(cfg.DefaultStrategy)
	if err != nil {
		slog.Error("invalid routing strategy", "strategy", cfg.DefaultStrategy, "error", err)
		os.Exit(1)
	}

	breakers := circuitbreaker.NewRegistry()
	costTracker := routing.NewCostTracker(routing.Budget{
		DailyLimitUSD:   cfg.DailyBudgetUSD,
		MonthlyLimitUSD: cfg.MonthlyBudgetUSD,
		AlertFraction:   0.8,
	})
	router := routing.NewRouter(breakers, ratelimit.New(), costTracker, strategy)

	generators := registerProviders(ctx, cfg, router)
	if len(generators) == 0 {
		slog.Error("no providers configured")
		os.Exit(1)
	}

	orch := orchestrator.New(orchestrator.Config{
		Timeout:          cfg.AskTimeout,
		MaxRetries:       cfg.MaxRetries,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		RetryMaxDelay:    cfg.RetryMaxDelay,
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
	}, orchestrator.Policy{CloudEnabled: cfg.CloudLaneEnabled}, router, breakers, grounded, generators)

	var answerCache cache.Cache
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for cache, using in-memory", "error", err)
			answerCache = cache.NewInMemoryCache()
		} else {
			answerCache = redisCache
			slog.Info("using redis cache")
		}
	} else {
		answerCache = cache.NewInMemoryCache()
		slog.Info("using in-memory cache")
	}

	var history repository.HistoryRepository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pg := repository.NewPostgresHistory(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure history schema", "error", err)
			os.Exit(1)
		}
		history = pg
		slog.Info("using postgres history")
	} else {
		history = repository.NewInMemoryHistory()
		slog.Info("using in-memory history")
	}

	var notifier notifications.Notifier
	if cfg.SNSTopicArn != "" && cfg.AWSRegion != "" {
		snsNotifier, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicArn)
		if err != nil {
			slog.Warn("failed to initialize sns notifier, alerts stay local", "error", err)
			notifier = notifications.NewInMemoryNotifier()
		} else {
			notifier = snsNotifier
			slog.Info("using sns notifications", "topic", cfg.SNSTopicArn)
		}
	} else {
		notifier = notifications.NewInMemoryNotifier()
	}

	budgetMonitor := budget.NewMonitor(costTracker, budget.DefaultThresholds())
	budgetMonitor.OnAlert(func(alert budget.Alert) {
		notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer notifyCancel()
		if err := notifier.Send(notifyCtx, budgetNotification(alert)); err != nil {
			slog.Warn("budget notification failed", "window", alert.Window, "error", err)
		}
	})
	budgetStop := make(chan struct{})
	go budgetMonitor.Watch(time.Minute, budgetStop)

	var publisher events.Publisher
	if cfg.SQSQueueURL != "" && cfg.AWSRegion != "" {
		sqsPublisher, err := events.NewSQSPublisher(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			slog.Warn("failed to initialize sqs publisher, events stay local", "error", err)
			publisher = events.NewInMemoryPublisher()
		} else {
			publisher = sqsPublisher
			slog.Info("using sqs events", "queue", cfg.SQSQueueURL)
		}
	} else {
		publisher = events.NewInMemoryPublisher()
	}

	guard := auth.NewGuard(operatorUsers(cfg))

	handler := api.NewHandler(api.HandlerConfig{
		Orchestrator: orch,
		Router:       router,
		Cache:        answerCache,
		CacheTTL:     cfg.CacheTTL,
		History:      history,
		Events:       publisher,
	})
	admin := api.NewAdminHandler(breakers, router, history, guard)

	mux := http.NewServeMux()
	mux.Handle("/admin/", admin)
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	close(budgetStop)

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// resolveSecrets fills in the Anthropic API key from Secrets Manager when
// enabled and decrypts enc:-prefixed values.
func resolveSecrets(ctx context.Context, cfg *config.Config) {
	if cfg.SecretsEnabled && cfg.AWSRegion != "" && cfg.AnthropicAPIKey == "" {
		store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Warn("failed to initialize secrets manager", "error", err)
		} else if key, err := store.GetSecret(ctx, anthropicKeySecret); err != nil {
			slog.Warn("failed to fetch anthropic api key secret", "error", err)
		} else {
			cfg.AnthropicAPIKey = key
		}
	}

	if cfg.EncryptionKey != "" {
		enc := crypto.NewEncryptor(cfg.EncryptionKey)
		if plain, err := enc.MaybeDecrypt(cfg.AnthropicAPIKey); err != nil {
			slog.Warn("failed to decrypt anthropic api key", "error", err)
		} else {
			cfg.AnthropicAPIKey = plain
		}
	}
}

// registerProviders wires backend generators and their routing entries.
// Ollama serves the grounded lane; Anthropic and Bedrock serve the cloud
// lane when it is enabled.
func registerProviders(ctx context.Context, cfg *config.Config, router *routing.Router) map[string]domain.Generator {
	generators := make(map[string]domain.Generator)

	if cfg.OllamaBaseURL != "" {
		generators["ollama"] = ollama.New(cfg.OllamaBaseURL, cfg.OllamaModel)
		router.Register(routing.ProviderConfig{
			Name:               "ollama",
			Kind:               routing.KindOllama,
			Model:              cfg.OllamaModel,
			Priority:           1,
			CostPer1KTokens:    0,
			AvgLatencyMs:       800,
			MaxTokens:          cfg.MaxTokens,
			Capabilities:       []string{string(domain.LaneGrounded)},
			Enabled:            true,
			CircuitBreakerName: "ollama",
		})
		slog.Info("registered provider", "provider", "ollama", "url", cfg.OllamaBaseURL, "model", cfg.OllamaModel)
	}

	if !cfg.CloudLaneEnabled {
		return generators
	}

	if cfg.AnthropicAPIKey != "" {
		generators["anthropic"] = anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTokens)
		router.Register(routing.ProviderConfig{
			Name:               "anthropic",
			Kind:               routing.KindAnthropic,
			Model:              cfg.AnthropicModel,
			Priority:           1,
			CostPer1KTokens:    0.015,
			AvgLatencyMs:       1500,
			MaxTokens:          cfg.MaxTokens,
			Capabilities:       []string{string(domain.LaneCloudDirect)},
			Enabled:            true,
			CircuitBreakerName: "anthropic",
		})
		slog.Info("registered provider", "provider", "anthropic", "model", cfg.AnthropicModel)
	}

	if cfg.AWSRegion != "" {
		bedrockProvider, err := bedrock.New(ctx, cfg.AWSRegion, cfg.BedrockModelID, cfg.MaxTokens)
		if err != nil {
			slog.Warn("failed to initialize bedrock provider", "error", err)
		} else {
			generators["bedrock"] = bedrockProvider
			router.Register(routing.ProviderConfig{
				Name:               "bedrock",
				Kind:               routing.KindBedrock,
				Model:              cfg.BedrockModelID,
				Priority:           2,
				CostPer1KTokens:    0.012,
				AvgLatencyMs:       1800,
				MaxTokens:          cfg.MaxTokens,
				Capabilities:       []string{string(domain.LaneCloudDirect)},
				Enabled:            true,
				CircuitBreakerName: "bedrock",
			})
			slog.Info("registered provider", "provider", "bedrock", "model", cfg.BedrockModelID)
		}
	}

	return generators
}

func budgetNotification(alert budget.Alert) notifications.Notification {
	var notificationType notifications.NotificationType
	switch alert.Level {
	case budget.AlertLevelExceeded:
		notificationType = notifications.NotificationBudgetExceeded
	case budget.AlertLevelCritical:
		notificationType = notifications.NotificationBudgetCritical
	default:
		notificationType = notifications.NotificationBudgetWarning
	}

	return notifications.Notification{
		Type:    notificationType,
		Message: fmt.Sprintf("answergate %s budget at %.1f%% (%.2f of %.2f USD)",
			alert.Window, alert.Percentage, alert.CurrentUSD, alert.LimitUSD),
		Data: map[string]any{
			"window":      alert.Window,
			"limit_usd":   alert.LimitUSD,
			"current_usd": alert.CurrentUSD,
			"percentage":  alert.Percentage,
		},
	}
}

func operatorUsers(cfg *config.Config) []auth.User {
	var users []auth.User
	if cfg.AdminUser != "" && cfg.AdminPassHash != "" {
		users = append(users, auth.User{Username: cfg.AdminUser, PasswordHash: cfg.AdminPassHash, Role: auth.RoleAdmin})
	}
	if cfg.ViewerUser != "" && cfg.ViewerPassHash != "" {
		users = append(users, auth.User{Username: cfg.ViewerUser, PasswordHash: cfg.ViewerPassHash, Role: auth.RoleViewer})
	}
	return users
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
