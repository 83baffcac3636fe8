package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/brandmarket/submission-hub/internal/api/http"
	"github.com/brandmarket/submission-hub/internal/application/lifecycle"
	appPayment "github.com/brandmarket/submission-hub/internal/application/payment"
	"github.com/brandmarket/submission-hub/internal/application/pricing"
	appProof "github.com/brandmarket/submission-hub/internal/application/proof"
	"github.com/brandmarket/submission-hub/internal/application/scheduler"
	"github.com/brandmarket/submission-hub/internal/config"
	"github.com/brandmarket/submission-hub/internal/domain/notification"
	"github.com/brandmarket/submission-hub/internal/domain/payment"
	"github.com/brandmarket/submission-hub/internal/domain/proof"
	"github.com/brandmarket/submission-hub/internal/domain/submission"
	"github.com/brandmarket/submission-hub/internal/infrastructure/memory"
	"github.com/brandmarket/submission-hub/internal/infrastructure/postgres"
	"github.com/brandmarket/submission-hub/internal/infrastructure/processor"
	"github.com/brandmarket/submission-hub/internal/infrastructure/proofsource"
	"github.com/brandmarket/submission-hub/internal/infrastructure/rabbitmq"
	"github.com/brandmarket/submission-hub/internal/infrastructure/ratelimit"
	"github.com/brandmarket/submission-hub/internal/infrastructure/sse"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	// repositories
	var (
		submissions submission.Repository
		intents     payment.Repository
	)
	switch cfg.StorageBackend {
	case config.StorageMemory:
		logger.Warn().Msg("using in-memory storage; state is lost on restart")
		submissions = memory.NewSubmissionStore()
		intents = memory.NewPaymentStore()
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		submissions = postgres.NewSubmissionRepository(pool)
		intents = postgres.NewPaymentRepository(pool)
	}

	// infrastructure
	sseHub := sse.NewHub()
	defer sseHub.Stop()
	notifiers := notification.Fanout{sseHub}
	if cfg.RabbitMQURL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			log.Fatalf("rabbitmq error: %v", err)
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}

	var limiter proof.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis error: %v", err)
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, "proof-fetch", cfg.ProofFetchLimit, cfg.ProofFetchWindow)
	}

	if cfg.ProofSourceURL == "" {
		logger.Warn().Msg("PROOF_SOURCE_URL not set; proofs arrive only through the webhook")
	}
	if cfg.PaymentWebhookSecret == "" {
		logger.Warn().Msg("PAYMENT_WEBHOOK_SECRET not set; webhook signatures are not verified")
	}
	source := proofsource.NewClient(cfg.ProofSourceURL, cfg.ProofSourceToken, cfg.ProofFetchTimeout)
	proc := processor.NewClient(cfg.PaymentProcessorURL, cfg.PaymentProcessorKey, cfg.PaymentTimeout)

	// services
	proofs := appProof.NewCoordinator(source, limiter, appProof.Config{
		FetchTimeout:     cfg.ProofFetchTimeout,
		AffiliateBaseURL: cfg.AffiliateBaseURL,
	}, logger)
	payments := appPayment.NewCoordinator(intents, proc, appPayment.Config{
		Currency: cfg.PaymentCurrency,
		Timeout:  cfg.PaymentTimeout,
	}, logger)
	engine := lifecycle.NewEngine(submissions, proofs, payments, notifiers, logger,
		lifecycle.WithDefaultMaxRevisions(cfg.DefaultMaxRevisions))
	payments.SetListener(engine)

	expression := cfg.PricingExpression
	if expression == "" {
		expression = pricing.DefaultExpression
	}
	calculator, err := pricing.NewCalculator(expression)
	if err != nil {
		log.Fatalf("pricing error: %v", err)
	}

	// API server
	apiServer := httpapi.NewServer(engine, payments, calculator, sseHub, cfg.PaymentWebhookSecret, logger)

	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// background jobs
	poller := scheduler.NewProofPoller(submissions, engine, cfg.ProofPollBatch, time.Minute, logger)
	jobs := scheduler.NewScheduler(poller, cfg.ProofPollSchedule, logger)
	if err := jobs.Start(); err != nil {
		log.Fatalf("scheduler error: %v", err)
	}

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("storage", cfg.StorageBackend).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	select {
	case <-jobs.Stop().Done():
	case <-ctxShutdown.Done():
		logger.Warn().Msg("proof poll still running at shutdown")
	}
}
