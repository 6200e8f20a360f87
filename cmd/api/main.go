package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-scheduling-ai/cmd/mainconfig"
	"github.com/wolfman30/clinic-scheduling-ai/internal/api/router"
	"github.com/wolfman30/clinic-scheduling-ai/internal/booking"
	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	appconfig "github.com/wolfman30/clinic-scheduling-ai/internal/config"
	"github.com/wolfman30/clinic-scheduling-ai/internal/conversation"
	"github.com/wolfman30/clinic-scheduling-ai/internal/knowledge"
	"github.com/wolfman30/clinic-scheduling-ai/internal/llm"
	"github.com/wolfman30/clinic-scheduling-ai/internal/notify"
	"github.com/wolfman30/clinic-scheduling-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduling-ai/internal/schedule"
	"github.com/wolfman30/clinic-scheduling-ai/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.Info("starting clinic-scheduling-ai API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	location, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Error("invalid clinic timezone", "timezone", cfg.ClinicTimezone, "error", err)
		os.Exit(1)
	}

	// Appointment store: Postgres when configured, in-memory otherwise.
	var store calendar.Store
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = calendar.NewPostgresStore(pool, cfg.BufferMinutes)
		logger.Info("using postgres appointment store")
	} else {
		store = calendar.NewMemoryStore(nil, cfg.BufferMinutes)
		logger.Warn("DATABASE_URL not set, using in-memory appointment store")
	}

	generator := schedule.NewGenerator(location,
		schedule.WithGranularity(cfg.SlotGranularityMinutes),
	)
	availability := schedule.NewEngine(store, generator, logger,
		schedule.WithBuffer(cfg.BufferMinutes),
		schedule.WithHorizon(cfg.HorizonDays),
	)

	// Optional Gemini client powers the classifier, knowledge lookups and the
	// response renderer. Everything degrades to rule-based behavior without it.
	var geminiClient *llm.GeminiClient
	if cfg.GeminiAPIKey != "" {
		geminiClient, err = llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Error("failed to create gemini client", "error", err)
			os.Exit(1)
		}
		defer func() { _ = geminiClient.Close() }()
		logger.Info("gemini client configured")
	}

	bookingOpts := []booking.EngineOption{}
	if sender := buildEmailSender(ctx, cfg, logger); sender != nil {
		mailer := notify.NewConfirmationMailer(sender, cfg.ClinicName, logger)
		bookingOpts = append(bookingOpts, booking.WithConfirmationSender(mailer))
	}
	bookingEngine := booking.NewEngine(store, availability, logger, bookingOpts...)

	knowledgeOpts := []knowledge.ServiceOption{}
	if geminiClient != nil {
		knowledgeOpts = append(knowledgeOpts, knowledge.WithLLM(geminiClient))
	}
	retriever := knowledge.NewService(knowledge.NewFAQStore(), logger, knowledgeOpts...)

	machine := conversation.NewMachine(availability, bookingEngine, retriever, logger,
		conversation.WithSuggestionCount(cfg.SuggestionCount),
	)

	ruleClassifier := conversation.NewRuleClassifier(location)
	var classifier conversation.IntentClassifier = ruleClassifier
	engineOpts := []conversation.EngineOption{
		conversation.WithMetrics(metrics.NewConversationMetrics(nil)),
	}
	if geminiClient != nil {
		classifier = conversation.NewGeminiClassifier(geminiClient, location)
		engineOpts = append(engineOpts, conversation.WithFallbackClassifier(ruleClassifier))
	}

	renderer := buildRenderer(cfg, geminiClient, logger)

	// Session store: Redis when configured, in-memory otherwise.
	var sessions conversation.SessionStore
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer func() { _ = redisClient.Close() }()
		sessions = conversation.NewRedisSessionStore(redisClient, cfg.SessionTTL)
		logger.Info("using redis session store")
	} else {
		sessions = conversation.NewMemorySessionStore()
		logger.Warn("REDIS_ADDR not set, using in-memory session store")
	}

	engine := conversation.NewEngine(machine, classifier, renderer, sessions, logger, engineOpts...)

	// Queue-backed orchestrator keeps turn processing strictly serial per
	// session even under concurrent HTTP requests.
	queue := buildQueue(ctx, cfg, logger)
	orchestrator := conversation.NewOrchestrator(engine, queue, logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
	)

	conversationHandler := conversation.NewHandler(orchestrator, logger)

	r := router.New(&router.Config{
		Logger:              logger,
		ConversationHandler: conversationHandler,
		MetricsHandler:      promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

// buildEmailSender prefers SendGrid, falls back to SES, and returns nil when
// neither is configured so confirmations are skipped.
func buildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	if cfg.SendGridAPIKey != "" {
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender != nil {
			logger.Info("sendgrid email sender configured")
			return sender
		}
	}
	if cfg.SESFromEmail != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config for SES", "error", err)
			return nil
		}
		sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender != nil {
			logger.Info("ses email sender configured")
			return sender
		}
	}
	logger.Warn("no email sender configured, confirmations disabled")
	return nil
}

func buildRenderer(cfg *appconfig.Config, client *llm.GeminiClient, logger *logging.Logger) conversation.Renderer {
	templates := conversation.NewTemplateRenderer(cfg.ClinicName)
	if client == nil {
		return templates
	}
	return conversation.NewModelRenderer(client, templates, logger)
}

func buildQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) conversation.Queue {
	if cfg.UseMemoryQueue || cfg.QueueURL == "" {
		logger.Info("using in-memory conversation queue")
		return conversation.NewMemoryQueue(0)
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config, falling back to memory queue", "error", err)
		return conversation.NewMemoryQueue(0)
	}
	logger.Info("using SQS conversation queue", "queue_url", cfg.QueueURL)
	return conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.QueueURL)
}
