// File: cmd/sweep/main.go
//
// One-shot due-date sweep for operators and cron-style deployments: runs a
// single pass and exits. The long-running service in cmd/app sweeps on its
// own; this binary exists for manual catch-up runs.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"subscription-payments/internal/config"
	"subscription-payments/internal/infra/adapters/invoice"
	"subscription-payments/internal/infra/adapters/notify"
	payAdapters "subscription-payments/internal/infra/adapters/payment"
	pg "subscription-payments/internal/infra/db/postgres"
	"subscription-payments/internal/infra/logging"
	"subscription-payments/internal/usecase"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	payRepo := pg.NewPaymentRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	logRepo := pg.NewTransactionLogRepo(pool)
	userRepo := pg.NewUserRepo(pool)
	txm := pg.NewTxManager(pool)

	gateway, err := payAdapters.NewGateway(cfg, logRepo, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("payment gateway setup failed")
	}
	invoiceBackend, err := invoice.NewBackend(cfg.Invoice, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invoice backend setup failed")
	}
	notifier := notify.NewLogNotifier(logger)

	subUC := usecase.NewSubscriptionUseCase(subRepo, payRepo, txm, notifier,
		cfg.Payments.MinimumCents, cfg.Payments.MaximumCents, logger)
	paymentUC := usecase.NewPaymentUseCase(payRepo, subRepo, subUC, gateway, invoiceBackend,
		notifier, nil, txm, cfg.Payments, logger)
	sweepUC := usecase.NewSweepUseCase(subRepo, payRepo, userRepo, subUC, paymentUC, notifier, txm,
		cfg.Payments.SettleGrace, cfg.Payments.RetryCeiling, cfg.Sweep.BatchSize, logger)

	report, err := sweepUC.RunOnce(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweep failed")
	}
	fmt.Printf("sweep done: %d terminated, %d booked\n", report.Terminated, report.Booked)
}
