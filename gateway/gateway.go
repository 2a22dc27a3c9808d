// Package gateway wraps the hosted-checkout payment processor.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Checkout session states as reported by the processor.
const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"

	PaymentPaid   = "paid"
	PaymentUnpaid = "unpaid"
)

// Session is the processor's view of a hosted checkout session.
type Session struct {
	ID            string
	URL           string
	Status        string
	PaymentStatus string

	// PaymentReference identifies the underlying payment; refunds refer to it.
	PaymentReference string
}

// Paid reports whether the processor has collected the money.
func (s *Session) Paid() bool {
	return s.PaymentStatus == PaymentPaid
}

type CheckoutParams struct {
	CampaignID     string
	CampaignTitle  string
	Amount         decimal.Decimal
	Currency       string
	DonorID        string
	DonorName      string
	DonorEmail     string
	Anonymous      bool
	IdempotencyKey string
	SuccessURL     string
	CancelURL      string
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error)
}
