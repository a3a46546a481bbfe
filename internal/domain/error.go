package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")

	// Subscription state machine errors. These two are treated as fatal by
	// every caller: they mean the exclusivity or monotonicity invariant was
	// about to be broken at write time.
	ErrStateConflict   = errors.New("another subscription in an active state exists for this user")
	ErrStateRegression = errors.New("subscription state may never move to a higher state")

	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrAmountOutOfRange     = errors.New("subscription amount outside the allowed bounds")
	ErrSubscriptionNotDue   = errors.New("subscription payment is not due")

	// Payment / gateway errors
	ErrGatewayUnavailable = errors.New("payment provider could not be reached")
	ErrPaymentPending     = errors.New("a previous payment is still awaiting confirmation")
	ErrPaymentSafetyCheck = errors.New("payment refused by pre-payment safety checks")
	ErrPostponedDisabled  = errors.New("postponed payments are not enabled")
	ErrBadSignature       = errors.New("request signature validation failed")
	ErrNotHandled         = errors.New("notification could not be handled")
	ErrRateLimited        = errors.New("too many payment attempts")

	// Infrastructure
	ErrLockNotAcquired = errors.New("distributed lock is held elsewhere")
)

// MissingParamsError reports which billing fields were absent from a payment
// request. It is a user-correctable validation failure, never fatal.
type MissingParamsError struct {
	Params []string
}

func (e *MissingParamsError) Error() string {
	return fmt.Sprintf("missing required payment parameters: %s", strings.Join(e.Params, ", "))
}

// GatewayError carries the provider's own error code and message so callers
// can surface it to the user for form redisplay.
type GatewayError struct {
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment provider error %d: %s", e.Code, e.Message)
}
