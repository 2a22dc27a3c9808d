// Package donations implements the donor-facing side of settlement: opening
// checkout sessions, answering status polls and listing settled donations.
package donations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"donation-svc/apperr"
	"donation-svc/gateway"
	"donation-svc/middleware"
	"donation-svc/models"
	"donation-svc/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	validate  = validator.New()
	minAmount = decimal.New(1, -2)
)

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
}

type CheckoutRequest struct {
	CampaignID     string          `json:"campaign_id" validate:"required,max=64"`
	Amount         decimal.Decimal `json:"amount"`
	DonorName      string          `json:"donor_name" validate:"max=255"`
	DonorEmail     string          `json:"donor_email" validate:"omitempty,email"`
	Anonymous      bool            `json:"anonymous"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=255"`
	OriginURL      string          `json:"origin_url" validate:"required,http_url"`
}

type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// Donor is the signed-in user making the donation, if any.
type Donor struct {
	ID    string
	Name  string
	Email string
}

type InitiatorConfig struct {
	MaxAmount decimal.Decimal
	Currency  string
}

// Initiator opens hosted checkout sessions. A nil gateway means payments are
// not configured.
type Initiator struct {
	ledger  store.Ledger
	gateway gateway.Gateway
	cfg     InitiatorConfig
	logger  *zap.Logger
}

func NewInitiator(ledger store.Ledger, gw gateway.Gateway, cfg InitiatorConfig, logger *zap.Logger) *Initiator {
	return &Initiator{ledger: ledger, gateway: gw, cfg: cfg, logger: logger}
}

func (i *Initiator) Initiate(ctx context.Context, req CheckoutRequest, donor *Donor) (*CheckoutResult, error) {
	ctx, span := otel.Tracer("donations").Start(ctx, "InitiateCheckout")
	defer span.End()
	span.SetAttributes(attribute.String("campaign_id", req.CampaignID))

	if err := i.validate(&req); err != nil {
		middleware.RecordCheckout("invalid")
		return nil, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = synthesizeKey(req.CampaignID, req.Amount)
	}

	logger := i.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("campaign_id", req.CampaignID),
		zap.String("idempotency_key", req.IdempotencyKey),
	)

	existing, err := i.ledger.GetTransactionByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil {
		logger.Info("Returning existing checkout session", zap.String("session_id", existing.SessionID))
		middleware.RecordCheckout("replayed")
		return &CheckoutResult{URL: existing.CheckoutURL, SessionID: existing.SessionID}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	campaign, err := i.ledger.GetCampaign(ctx, req.CampaignID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Campaign not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil, apperr.InvalidState("Campaign is not accepting donations")
	}

	if i.gateway == nil {
		return nil, apperr.NotConfigured("Payment service not configured")
	}

	txn := newTransaction(req, donor, i.cfg.Currency)
	origin := strings.TrimRight(req.OriginURL, "/")

	session, err := i.gateway.CreateCheckoutSession(ctx, gateway.CheckoutParams{
		CampaignID:     campaign.CampaignID,
		CampaignTitle:  campaign.Title,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		DonorID:        deref(txn.DonorID),
		DonorName:      txn.DonorName,
		DonorEmail:     deref(txn.DonorEmail),
		Anonymous:      txn.Anonymous,
		IdempotencyKey: txn.IdempotencyKey,
		SuccessURL: fmt.Sprintf("%s/donate/success?session_id={CHECKOUT_SESSION_ID}&campaign_id=%s",
			origin, url.QueryEscape(campaign.CampaignID)),
		CancelURL: fmt.Sprintf("%s/campaign/%s", origin, url.PathEscape(campaign.CampaignID)),
	})
	if err != nil {
		span.RecordError(err)
		middleware.RecordCheckout("gateway_error")
		return nil, err
	}

	txn.SessionID = session.ID
	txn.CheckoutURL = session.URL
	if err := i.ledger.CreateTransaction(ctx, txn); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// lost a race with an identical request
			winner, lookupErr := i.ledger.GetTransactionByIdempotencyKey(ctx, txn.IdempotencyKey)
			if lookupErr == nil {
				middleware.RecordCheckout("replayed")
				return &CheckoutResult{URL: winner.CheckoutURL, SessionID: winner.SessionID}, nil
			}
		}
		logger.Error("Failed to record payment transaction",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to record payment transaction: %w", err)
	}

	logger.Info("Checkout session created",
		zap.String("session_id", session.ID),
		zap.String("amount", txn.Amount.StringFixed(2)),
	)
	middleware.RecordCheckout("created")
	span.SetAttributes(attribute.String("session_id", session.ID))
	return &CheckoutResult{URL: session.URL, SessionID: session.ID}, nil
}

func (i *Initiator) validate(req *CheckoutRequest) error {
	req.CampaignID = strings.TrimSpace(req.CampaignID)
	req.DonorName = strings.TrimSpace(req.DonorName)
	req.DonorEmail = strings.TrimSpace(req.DonorEmail)

	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Validation("Invalid %s", verrs[0].Field())
		}
		return apperr.Validation("Invalid request")
	}

	if !req.Amount.IsPositive() {
		return apperr.Validation("Amount must be greater than 0")
	}
	if req.Amount.LessThan(minAmount) {
		return apperr.Validation("Amount must be at least %s", minAmount.StringFixed(2))
	}
	if req.Amount.GreaterThan(i.cfg.MaxAmount) {
		return apperr.Validation("Amount must not exceed %s", i.cfg.MaxAmount.StringFixed(2))
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return apperr.Validation("Amount must have at most two decimal places")
	}
	return nil
}

func newTransaction(req CheckoutRequest, donor *Donor, currency string) *models.PaymentTransaction {
	now := time.Now().UTC()
	txn := &models.PaymentTransaction{
		TransactionID:  models.NewID("txn"),
		IdempotencyKey: req.IdempotencyKey,
		CampaignID:     req.CampaignID,
		DonorName:      req.DonorName,
		Amount:         req.Amount,
		Currency:       currency,
		Anonymous:      req.Anonymous,
		Status:         models.TransactionStatusInitiated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	email := req.DonorEmail
	if donor != nil {
		txn.DonorID = &donor.ID
		if txn.DonorName == "" {
			txn.DonorName = donor.Name
		}
		if email == "" {
			email = donor.Email
		}
	}
	if txn.DonorName == "" {
		txn.DonorName = models.AnonymousDonor
	}
	if email != "" {
		txn.DonorEmail = &email
	}
	return txn
}

// synthesizeKey builds "<campaignId>_<amount>_<16 hex>" for requests without
// an idempotency key. Such requests are never collapsed.
func synthesizeKey(campaignID string, amount decimal.Decimal) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return fmt.Sprintf("%s_%s_%s", campaignID, amount.StringFixed(2), suffix)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
