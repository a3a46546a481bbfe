package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/db/postgres"
	"subscription-payments/internal/infra/redis"
)

// This script resets the database and cache to a clean, predictable state
// for manual end-to-end testing against the provider sandbox.
func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	pool, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	log.Println("[1/3] Wiping Redis cache...")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatalf("failed to flush redis: %v", err)
	}

	log.Println("[2/3] Wiping all existing database data...")
	_, err = pool.Exec(ctx, `
		TRUNCATE
			users, payments, subscriptions, transaction_logs
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	log.Println("[3/3] Seeding a synced account with a running subscription...")
	seedAccountWithSubscription(ctx, pool)

	log.Println("--- ✅ E2E Environment Setup Complete ---")
}

// seedAccountWithSubscription creates one active account, a settled reference
// payment and the subscription derived from it, so redirect, postback and
// sweep flows have something to act on immediately.
func seedAccountWithSubscription(ctx context.Context, pool *pgxpool.Pool) {
	payRepo := postgres.NewPaymentRepo(pool)
	subRepo := postgres.NewSubscriptionRepo(pool)

	userID := uuid.NewString()
	_, err := pool.Exec(ctx,
		`INSERT INTO users (id, email, first_name, last_name, is_active) VALUES ($1,$2,$3,$4,TRUE);`,
		userID, "e2e@example.org", "Erika", "Mustermann")
	if err != nil {
		log.Fatalf("failed to seed user: %v", err)
	}

	payment, err := model.NewPayment(uuid.NewString(), userID, uuid.NewString(),
		model.PaymentMethodDirectDebit, 1000, model.BillingDetails{
			FirstName:  "Erika",
			LastName:   "Mustermann",
			Email:      "e2e@example.org",
			Address:    "Heidestraße 17",
			City:       "Köln",
			PostalCode: "51147",
			Country:    "DE",
		})
	if err != nil {
		log.Fatalf("failed to build payment: %v", err)
	}
	payment.VendorTransactionID = "e2e-ref-tx"
	payment.Backend = "betterpayment"
	// Aged past the duplicate-payment guard so recurring bookings go through.
	payment.CreatedAt = time.Now().AddDate(0, -1, 0)
	payment.MarkPaid(payment.CreatedAt.Add(time.Minute))
	if err := payRepo.Save(ctx, repository.NoTX, payment); err != nil {
		log.Fatalf("failed to save payment: %v", err)
	}

	sub, err := model.NewSubscription(uuid.NewString(), payment)
	if err != nil {
		log.Fatalf("failed to build subscription: %v", err)
	}
	sub.State = model.SubscriptionStateActive
	// Already due, so the first sweep books a recurring payment.
	sub.NextDueDate = model.DateOf(time.Now().AddDate(0, 0, -1))
	if err := subRepo.Save(ctx, repository.NoTX, sub); err != nil {
		log.Fatalf("failed to save subscription: %v", err)
	}

	log.Printf("seeded user %s with subscription %s (due %s)",
		userID, sub.ID, sub.NextDueDate.Format("2006-01-02"))
}
