// File: cmd/app/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/infra/adapters/invoice"
	"subscription-payments/internal/infra/adapters/notify"
	payAdapters "subscription-payments/internal/infra/adapters/payment"
	pg "subscription-payments/internal/infra/db/postgres"
	"subscription-payments/internal/infra/logging"
	"subscription-payments/internal/infra/metrics"
	red "subscription-payments/internal/infra/redis"
	"subscription-payments/internal/infra/sched"
	"subscription-payments/internal/infra/web"
	"subscription-payments/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("development mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	payRepo := pg.NewPaymentRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	logRepo := pg.NewTransactionLogRepo(pool)
	userRepo := pg.NewUserRepo(pool)
	txm := pg.NewTxManager(pool)

	// ---- Adapters ----
	gateway, err := payAdapters.NewGateway(cfg, logRepo, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("payment gateway setup failed")
	}
	invoiceBackend, err := invoice.NewBackend(cfg.Invoice, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invoice backend setup failed")
	}
	var operatorNotifier adapter.OperatorNotifier = notify.NewLogNotifier(logger)
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Notify, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier setup failed")
		}
		operatorNotifier = tg
	}

	// ---- Use cases ----
	subUC := usecase.NewSubscriptionUseCase(subRepo, payRepo, txm, operatorNotifier,
		cfg.Payments.MinimumCents, cfg.Payments.MaximumCents, logger)
	paymentUC := usecase.NewPaymentUseCase(payRepo, subRepo, subUC, gateway, invoiceBackend,
		operatorNotifier, rateLimiter, txm, cfg.Payments, logger)
	notifUC := usecase.NewNotificationUseCase(gateway, payRepo, logRepo, subUC, paymentUC,
		operatorNotifier, 2*time.Second, logger)
	sweepUC := usecase.NewSweepUseCase(subRepo, payRepo, userRepo, subUC, paymentUC, operatorNotifier, txm,
		cfg.Payments.SettleGrace, cfg.Payments.RetryCeiling, cfg.Sweep.BatchSize, logger)
	statsUC := usecase.NewStatsUseCase(subRepo, payRepo, logger)

	// ---- Sweep worker ----
	worker := sched.NewSweepWorker(cfg.Sweep.Interval, cfg.Sweep.LockTTL, sweepUC, locker, logger)
	go func() { _ = worker.Run(ctx) }()

	// ---- Web server ----
	auth, err := web.NewAuthManager(cfg.Admin, 30*time.Minute)
	if err != nil {
		logger.Warn().Err(err).Msg("admin API disabled")
		auth = nil
	}
	server, err := web.NewServer(cfg.Web, paymentUC, subUC, notifUC, statsUC, userRepo, auth, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("web server setup failed")
	}
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("web server stopped")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("web server shutdown error")
	}
	cancel()
}
