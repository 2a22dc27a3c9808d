package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusInitiated TransactionStatus = "initiated"
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusPaid      TransactionStatus = "paid"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusExpired   TransactionStatus = "expired"
)

// IsTerminal reports whether no further transition may leave the status.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusPaid, TransactionStatusFailed, TransactionStatusExpired:
		return true
	}
	return false
}

// OpenTransactionStatuses are the states a settlement may still move out of.
var OpenTransactionStatuses = []TransactionStatus{
	TransactionStatusInitiated,
	TransactionStatusPending,
}

// PaymentTransaction is one checkout attempt.
type PaymentTransaction struct {
	TransactionID    string            `json:"transaction_id" validate:"required"`
	SessionID        string            `json:"session_id" validate:"required"`
	IdempotencyKey   string            `json:"idempotency_key" validate:"required"`
	CampaignID       string            `json:"campaign_id" validate:"required"`
	DonorID          *string           `json:"donor_id"`
	DonorName        string            `json:"donor_name" validate:"required"`
	DonorEmail       *string           `json:"donor_email" validate:"omitempty,email"`
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency" validate:"required,len=3"`
	Anonymous        bool              `json:"anonymous"`
	Status           TransactionStatus `json:"payment_status" validate:"required,oneof=initiated pending paid failed expired"`
	CheckoutURL      string            `json:"checkout_url" validate:"required,url"`
	PaymentReference *string           `json:"payment_reference,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
