package repository

import (
	"context"
	"time"

	"subscription-payments/internal/domain/model"
)

// SubscriptionRepository is the port for subscriptions.
//
// Save carries the persistence guard for the two core invariants: it must
// reject, within the caller's transaction, (a) any state change that moves to
// a numerically higher state (domain.ErrStateRegression; Suspended excepted)
// and (b) any save that would leave the user with more than one subscription
// in the active family (domain.ErrStateConflict). Callers treat both as
// fatal: they indicate a bug or a lost race, not a condition to route around.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)

	// Per-user lookups for the three mutually exclusive current categories.
	FindActiveByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
	FindCancelledByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
	FindSuspendedByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)

	// Sweep inputs. ListDue returns ACTIVE and CANCELLED_BUT_ACTIVE
	// subscriptions whose next due date is on or before the given day.
	ListByState(ctx context.Context, tx Tx, state model.SubscriptionState) ([]*model.Subscription, error)
	ListDue(ctx context.Context, tx Tx, today time.Time, limit int) ([]*model.Subscription, error)

	// Statistics read-only methods.
	CountByState(ctx context.Context, tx Tx) (map[model.SubscriptionState]int, error)
	CountWithProblems(ctx context.Context, tx Tx) (int, error)
}
