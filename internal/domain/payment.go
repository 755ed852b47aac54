package domain

import "time"

// PaymentStatus represents the current status of a payment transaction.
type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusProcessing     PaymentStatus = "processing"
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusFailed         PaymentStatus = "failed"
	// PaymentStatusUnknown marks an attempt whose gateway outcome was not
	// observed, e.g. the call timed out.
	PaymentStatusUnknown PaymentStatus = "unknown"
)

// TransactionType distinguishes charges from refunds.
type TransactionType string

const (
	TransactionTypePayment       TransactionType = "payment"
	TransactionTypeRefund        TransactionType = "refund"
	TransactionTypePartialRefund TransactionType = "partial_refund"
)

// PaymentTransaction is one attempted charge (or refund) against the gateway.
type PaymentTransaction struct {
	ID              string
	RideID          string
	UserID          string
	PaymentMethodID string
	GatewayChargeID string
	IdempotencyKey  string
	Amount          float64
	Currency        string
	Type            TransactionType
	Status          PaymentStatus
	PlatformFee     float64
	ProcessingFee   float64
	NetAmount       float64
	AdminOverride   bool
	AdminNotes      string
	FailureCode     string
	FailureMessage  string
	ClientSecret    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsFinal reports whether the transaction has reached a terminal status.
func (t *PaymentTransaction) IsFinal() bool {
	return t.Status == PaymentStatusSucceeded || t.Status == PaymentStatusFailed
}

// PaymentMethod is a rider's saved card or account at the gateway.
type PaymentMethod struct {
	ID               string
	UserID           string
	GatewayMethodRef string
	Brand            string
	Last4            string
	IsDefault        bool
	CreatedAt        time.Time
}
