package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settlement event types published after the ledger changes.
const (
	EventDonationSettled  = "donation_settled"
	EventDonationRefunded = "donation_refunded"
	EventPaymentFailed    = "payment_failed"
	EventPaymentExpired   = "payment_expired"
)

type SettlementEvent struct {
	EventType        string          `json:"event_type"`
	SessionID        string          `json:"session_id,omitempty"`
	DonationID       string          `json:"donation_id,omitempty"`
	CampaignID       string          `json:"campaign_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CampaignStatus   CampaignStatus  `json:"campaign_status,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}
