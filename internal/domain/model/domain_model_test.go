//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"subscription-payments/internal/domain"
)

// --- Payment Model Tests ---

func TestNewPayment(t *testing.T) {
	t.Run("should create a started reference payment", func(t *testing.T) {
		p, err := NewPayment("pay-1", "user-1", "order-1", PaymentMethodDirectDebit, 700, BillingDetails{Email: "hans@example.com"})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if p.Status != PaymentStatusStarted {
			t.Errorf("expected status started, got %s", p.Status)
		}
		if !p.IsReferencePayment {
			t.Error("expected new payment to be a reference payment")
		}
		if p.Currency != "EUR" {
			t.Errorf("expected EUR, got %s", p.Currency)
		}
	})

	t.Run("should reject zero amount", func(t *testing.T) {
		_, err := NewPayment("pay-1", "user-1", "order-1", PaymentMethodDirectDebit, 0, BillingDetails{})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestPaymentMarkPaid(t *testing.T) {
	p, _ := NewPayment("pay-1", "user-1", "order-1", PaymentMethodDirectDebit, 700, BillingDetails{})
	at := time.Now()

	if !p.MarkPaid(at) {
		t.Fatal("first MarkPaid should report a transition")
	}
	if p.CompletedAt == nil || !p.CompletedAt.Equal(at) {
		t.Error("CompletedAt not stamped")
	}
	if p.MarkPaid(time.Now()) {
		t.Error("second MarkPaid must be a no-op")
	}
	if !p.CompletedAt.Equal(at) {
		t.Error("CompletedAt must not move on duplicate MarkPaid")
	}
}

func TestPaymentStatusFinalized(t *testing.T) {
	finalized := []PaymentStatus{PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusRetracted}
	open := []PaymentStatus{PaymentStatusNotStarted, PaymentStatusStarted, PaymentStatusUnconfirmed, PaymentStatusPreauthorized}

	for _, s := range finalized {
		if !s.Finalized() {
			t.Errorf("%s should be finalized", s)
		}
	}
	for _, s := range open {
		if s.Finalized() {
			t.Errorf("%s should not be finalized", s)
		}
	}
}

// --- Subscription Model Tests ---

func TestSubscriptionStateTransitions(t *testing.T) {
	cases := []struct {
		from, to SubscriptionState
		ok       bool
	}{
		{SubscriptionStateActive, SubscriptionStateCancelledButActive, true},
		{SubscriptionStateActive, SubscriptionStateTerminated, true},
		{SubscriptionStateActive, SubscriptionStateSuspended, true},
		{SubscriptionStateCancelledButActive, SubscriptionStateTerminated, true},
		{SubscriptionStateCancelledButActive, SubscriptionStateSuspended, true},
		{SubscriptionStateSuspended, SubscriptionStateTerminated, true},
		{SubscriptionStateSuspended, SubscriptionStateActive, false},
		{SubscriptionStateTerminated, SubscriptionStateActive, false},
		{SubscriptionStateTerminated, SubscriptionStateSuspended, false},
		{SubscriptionStateCancelledButActive, SubscriptionStateActive, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("%s -> %s: expected %v, got %v", c.from, c.to, c.ok, got)
		}
	}
}

func TestNextPeriodDate(t *testing.T) {
	date := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	cases := []struct {
		name    string
		target  time.Time
		wantDay int
		months  int
		want    time.Time
	}{
		{"plain month", date(2023, time.March, 15), 15, 1, date(2023, time.April, 15)},
		{"clamped to short month", date(2023, time.January, 31), 31, 1, date(2023, time.February, 28)},
		{"leap february", date(2024, time.January, 30), 30, 1, date(2024, time.February, 29)},
		{"restores day after short month", date(2023, time.February, 28), 31, 1, date(2023, time.March, 31)},
		{"yearly period", date(2023, time.June, 10), 10, 12, date(2024, time.June, 10)},
		{"year rollover", date(2023, time.December, 5), 5, 1, date(2024, time.January, 5)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := NextPeriodDate(c.target, c.wantDay, c.months)
			if !got.Equal(c.want) {
				t.Errorf("expected %s, got %s", c.want.Format("2006-01-02"), got.Format("2006-01-02"))
			}
		})
	}
}

func TestSubscriptionPaymentDue(t *testing.T) {
	today := time.Date(2023, time.May, 10, 13, 37, 0, 0, time.UTC)
	sub := &Subscription{State: SubscriptionStateActive, NextDueDate: time.Date(2023, time.May, 10, 0, 0, 0, 0, time.UTC)}

	if !sub.PaymentDue(today) {
		t.Error("subscription due today should be due")
	}
	sub.NextDueDate = sub.NextDueDate.AddDate(0, 0, 1)
	if sub.PaymentDue(today) {
		t.Error("subscription due tomorrow should not be due")
	}
	sub.NextDueDate = sub.NextDueDate.AddDate(0, 0, -10)
	sub.State = SubscriptionStateCancelledButActive
	if sub.PaymentDue(today) {
		t.Error("cancelled subscription must never be due for booking")
	}
}
