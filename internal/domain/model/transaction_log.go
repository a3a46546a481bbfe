package model

import "time"

type TransactionLogType string

const (
	// A request we sent to the payment provider.
	TransactionLogRequest TransactionLogType = "request"
	// A postback the provider delivered to us.
	TransactionLogPostback TransactionLogType = "postback"
)

// TransactionLog is one row of the append-only audit trail of all provider
// traffic. Sensitive fields must be stripped from Data before construction;
// rows are written even when the surrounding operation fails.
type TransactionLog struct {
	ID        string // UUID
	Type      TransactionLogType
	URL       string // provider endpoint, empty for postbacks
	Data      map[string]any
	CreatedAt time.Time
}

// User is the minimal projection of a platform account this service needs.
// The surrounding platform owns the full user model and authentication.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	IsActive  bool
}
