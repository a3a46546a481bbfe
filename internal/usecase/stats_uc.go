package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/metrics"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type StatsUseCase interface {
	Totals(ctx context.Context) (byState map[model.SubscriptionState]int, withProblems int, err error)
	Revenue(ctx context.Context) (week int64, month int64, year int64, err error)
}

type statsUC struct {
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository

	log *zerolog.Logger
}

func NewStatsUseCase(subs repository.SubscriptionRepository, payments repository.PaymentRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{subs: subs, payments: payments, log: logger}
}

func (s *statsUC) Totals(ctx context.Context) (map[model.SubscriptionState]int, int, error) {
	counts, err := s.subs.CountByState(ctx, repository.NoTX)
	if err != nil {
		return nil, 0, err
	}
	problems, err := s.subs.CountWithProblems(ctx, repository.NoTX)
	if err != nil {
		return nil, 0, err
	}
	metrics.SetSubscriptionsTotal(counts)
	return counts, problems, nil
}

func (s *statsUC) Revenue(ctx context.Context) (int64, int64, int64, error) {
	w, err := s.payments.SumPaidByPeriod(ctx, repository.NoTX, "week")
	if err != nil {
		return 0, 0, 0, err
	}
	m, err := s.payments.SumPaidByPeriod(ctx, repository.NoTX, "month")
	if err != nil {
		return 0, 0, 0, err
	}
	y, err := s.payments.SumPaidByPeriod(ctx, repository.NoTX, "year")
	if err != nil {
		return 0, 0, 0, err
	}
	return w, m, y, nil
}
