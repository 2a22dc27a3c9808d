package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DonationStatus string

const (
	DonationStatusPaid     DonationStatus = "paid"
	DonationStatusRefunded DonationStatus = "refunded"
)

const AnonymousDonor = "Anonymous"

// Donation is the append-only record of a completed payment. StripeSessionID
// is unique across all donations.
type Donation struct {
	DonationID       string              `json:"donation_id" validate:"required"`
	CampaignID       string              `json:"campaign_id" validate:"required"`
	DonorID          *string             `json:"donor_id"`
	DonorName        string              `json:"donor_name" validate:"required"`
	DonorEmail       *string             `json:"donor_email,omitempty"`
	Amount           decimal.Decimal     `json:"amount"`
	Anonymous        bool                `json:"anonymous"`
	StripeSessionID  string              `json:"stripe_session_id" validate:"required"`
	PaymentReference *string             `json:"payment_reference,omitempty"`
	PaymentStatus    DonationStatus      `json:"payment_status" validate:"required,oneof=paid refunded"`
	RefundAmount     decimal.NullDecimal `json:"refund_amount"`
	RefundedAt       *time.Time          `json:"refunded_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// NewDonation builds the paid donation for a settled checkout.
func NewDonation(tx *PaymentTransaction, paymentReference string, now time.Time) *Donation {
	name := tx.DonorName
	if name == "" {
		name = AnonymousDonor
	}
	d := &Donation{
		DonationID:      NewID("donation"),
		CampaignID:      tx.CampaignID,
		DonorID:         tx.DonorID,
		DonorName:       name,
		DonorEmail:      tx.DonorEmail,
		Amount:          tx.Amount,
		Anonymous:       tx.Anonymous,
		StripeSessionID: tx.SessionID,
		PaymentStatus:   DonationStatusPaid,
		CreatedAt:       now.UTC(),
	}
	if paymentReference != "" {
		d.PaymentReference = &paymentReference
	}
	return d
}

// DisplayName is the name shown on the public donor wall.
func (d *Donation) DisplayName() string {
	if d.Anonymous || d.DonorName == "" {
		return AnonymousDonor
	}
	return d.DonorName
}

// WallEntry is one row of a campaign's public donor wall.
type WallEntry struct {
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
	Anonymous bool            `json:"anonymous"`
}

// DonorDonation is a donation enriched with its campaign for the donor's history.
type DonorDonation struct {
	Donation
	Campaign *Campaign `json:"campaign"`
}
