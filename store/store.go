// Package store persists campaigns, payment transactions and donations.
//
// Every implementation must provide two primitives the settlement engine
// relies on: a unique insert for donations keyed by checkout session, and an
// atomic single-statement increment of campaign aggregates.
package store

import (
	"context"
	"errors"
	"time"

	"donation-svc/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Ledger is the set of reads and writes available inside or outside a
// store transaction.
type Ledger interface {
	GetCampaign(ctx context.Context, campaignID string) (*models.Campaign, error)
	// IncrementCampaign adds amount and donors to the campaign aggregates in a
	// single atomic statement and returns the campaign as updated.
	IncrementCampaign(ctx context.Context, campaignID string, amount decimal.Decimal, donors int) (*models.Campaign, error)
	// CompleteCampaign moves an active campaign to completed. It reports
	// whether the status changed.
	CompleteCampaign(ctx context.Context, campaignID string) (bool, error)

	GetTransactionBySession(ctx context.Context, sessionID string) (*models.PaymentTransaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.PaymentTransaction, error)
	// CreateTransaction returns ErrDuplicate when the session id or
	// idempotency key is already taken.
	CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error
	// UpdateTransactionStatus sets the status only while the current status is
	// one of from. It reports whether a row changed.
	UpdateTransactionStatus(ctx context.Context, sessionID string, to models.TransactionStatus, paymentReference string, from []models.TransactionStatus) (bool, error)

	GetDonationBySession(ctx context.Context, sessionID string) (*models.Donation, error)
	GetDonationByPaymentReference(ctx context.Context, paymentReference string) (*models.Donation, error)
	// InsertDonation reports false without error when a donation for the same
	// session already exists.
	InsertDonation(ctx context.Context, donation *models.Donation) (bool, error)
	// MarkDonationRefunded flips a paid donation to refunded. It returns
	// (nil, false, nil) when no paid donation carries the reference.
	MarkDonationRefunded(ctx context.Context, paymentReference string, amount decimal.Decimal, at time.Time) (*models.Donation, bool, error)
	ListPaidDonations(ctx context.Context, campaignID string, limit int) ([]models.Donation, error)
	ListDonationsByDonor(ctx context.Context, donorID string, limit int) ([]models.Donation, error)
}

// Store is a Ledger that can run a group of writes atomically.
type Store interface {
	Ledger
	WithTx(ctx context.Context, fn func(Ledger) error) error
}
