// Package settlement turns checkout outcomes reported by the payment gateway
// into donations and campaign ledger updates, exactly once per session.
//
// Every operation holds an in-process lock on its session id (or payment
// reference for refunds) and relies on the store's unique donation insert, so
// a duplicate delivery racing through another instance still cannot count the
// same payment twice.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"donation-svc/gateway"
	"donation-svc/middleware"
	"donation-svc/models"
	"donation-svc/store"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Outcome string

const (
	Applied   Outcome = "applied"
	Duplicate Outcome = "duplicate"
	Ignored   Outcome = "ignored"
)

type Publisher interface {
	Publish(ctx context.Context, event models.SettlementEvent) error
}

type CacheInvalidator interface {
	InvalidateCampaign(ctx context.Context, campaignID string) error
}

type Option func(*Engine)

// WithPublisher sends a settlement event after every applied change.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithCacheInvalidator drops a campaign's cached donor wall after every
// applied change.
func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(e *Engine) { e.cache = c }
}

type Engine struct {
	store     store.Store
	publisher Publisher
	cache     CacheInvalidator
	locks     *keyedMutex
	logger    *zap.Logger
	now       func() time.Time
}

func NewEngine(s store.Store, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		locks:  newKeyedMutex(),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) tracer() trace.Tracer {
	return otel.Tracer("settlement")
}

// SettleSuccess records the donation for a paid session and credits its
// campaign. Repeated calls for the same session are duplicates.
func (e *Engine) SettleSuccess(ctx context.Context, sessionID, paymentReference string) (outcome Outcome, err error) {
	ctx, span := e.tracer().Start(ctx, "SettleSuccess")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))
	defer e.record(span, "settle_success", &outcome, &err)

	unlock := e.locks.Lock(sessionID)
	defer unlock()

	logger := e.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("session_id", sessionID),
	)

	txn, err := e.store.GetTransactionBySession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("Ignoring payment for unknown checkout session")
		return Ignored, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load transaction: %w", err)
	}

	if _, err := e.store.GetDonationBySession(ctx, sessionID); err == nil {
		logger.Info("Donation already recorded for session")
		return Duplicate, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to check existing donation: %w", err)
	}

	if txn.Status == models.TransactionStatusFailed || txn.Status == models.TransactionStatusExpired {
		logger.Warn("Payment reported for a closed transaction, recording donation anyway",
			zap.String("status", string(txn.Status)),
		)
	}

	var (
		donation *models.Donation
		campaign *models.Campaign
	)
	outcome = Applied
	err = e.store.WithTx(ctx, func(l store.Ledger) error {
		donation = models.NewDonation(txn, paymentReference, e.now())
		inserted, err := l.InsertDonation(ctx, donation)
		if err != nil {
			return fmt.Errorf("failed to insert donation: %w", err)
		}
		if !inserted {
			outcome = Duplicate
			return nil
		}

		if _, err := l.UpdateTransactionStatus(ctx, sessionID, models.TransactionStatusPaid,
			paymentReference, models.OpenTransactionStatuses); err != nil {
			return fmt.Errorf("failed to mark transaction paid: %w", err)
		}

		campaign, err = l.IncrementCampaign(ctx, txn.CampaignID, txn.Amount, 1)
		if err != nil {
			return fmt.Errorf("failed to credit campaign: %w", err)
		}

		if campaign.Status == models.CampaignStatusActive && campaign.ReachedTarget() {
			completed, err := l.CompleteCampaign(ctx, campaign.CampaignID)
			if err != nil {
				return fmt.Errorf("failed to complete campaign: %w", err)
			}
			if completed {
				campaign.Status = models.CampaignStatusCompleted
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == Duplicate {
		logger.Info("Donation inserted concurrently for session")
		return Duplicate, nil
	}

	logger.Info("Donation settled",
		zap.String("donation_id", donation.DonationID),
		zap.String("campaign_id", campaign.CampaignID),
		zap.String("amount", donation.Amount.StringFixed(2)),
		zap.String("raised_amount", campaign.RaisedAmount.StringFixed(2)),
		zap.String("campaign_status", string(campaign.Status)),
	)

	e.notify(ctx, models.SettlementEvent{
		EventType:        models.EventDonationSettled,
		SessionID:        sessionID,
		DonationID:       donation.DonationID,
		CampaignID:       campaign.CampaignID,
		Amount:           donation.Amount,
		PaymentReference: paymentReference,
		CampaignStatus:   campaign.Status,
		OccurredAt:       donation.CreatedAt,
	})
	return Applied, nil
}

// SettleFailure closes a transaction whose asynchronous payment failed.
func (e *Engine) SettleFailure(ctx context.Context, sessionID string) (Outcome, error) {
	return e.close(ctx, "settle_failure", sessionID, models.TransactionStatusFailed, models.EventPaymentFailed)
}

// SettleExpiry closes a transaction whose checkout session expired.
func (e *Engine) SettleExpiry(ctx context.Context, sessionID string) (Outcome, error) {
	return e.close(ctx, "settle_expiry", sessionID, models.TransactionStatusExpired, models.EventPaymentExpired)
}

func (e *Engine) close(ctx context.Context, op, sessionID string, to models.TransactionStatus, eventType string) (outcome Outcome, err error) {
	ctx, span := e.tracer().Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))
	defer e.record(span, op, &outcome, &err)

	unlock := e.locks.Lock(sessionID)
	defer unlock()

	logger := e.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("session_id", sessionID),
	)

	txn, err := e.store.GetTransactionBySession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("Ignoring status change for unknown checkout session", zap.String("status", string(to)))
		return Ignored, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load transaction: %w", err)
	}

	changed, err := e.store.UpdateTransactionStatus(ctx, sessionID, to, "", models.OpenTransactionStatuses)
	if err != nil {
		return "", fmt.Errorf("failed to mark transaction %s: %w", to, err)
	}
	if !changed {
		logger.Info("Transaction already closed", zap.String("status", string(txn.Status)))
		return Duplicate, nil
	}

	logger.Info("Transaction closed", zap.String("status", string(to)))
	e.notify(ctx, models.SettlementEvent{
		EventType:  eventType,
		SessionID:  sessionID,
		CampaignID: txn.CampaignID,
		Amount:     txn.Amount,
		OccurredAt: e.now().UTC(),
	})
	return Applied, nil
}

// MarkPending records that the gateway still awaits payment for the session.
func (e *Engine) MarkPending(ctx context.Context, sessionID string) (outcome Outcome, err error) {
	ctx, span := e.tracer().Start(ctx, "MarkPending")
	defer span.End()
	defer e.record(span, "mark_pending", &outcome, &err)

	unlock := e.locks.Lock(sessionID)
	defer unlock()

	changed, err := e.store.UpdateTransactionStatus(ctx, sessionID, models.TransactionStatusPending, "",
		[]models.TransactionStatus{models.TransactionStatusInitiated})
	if err != nil {
		return "", fmt.Errorf("failed to mark transaction pending: %w", err)
	}
	if !changed {
		return Duplicate, nil
	}
	return Applied, nil
}

// SettleRefund reverses a refunded donation's contribution to its campaign.
// The refund is capped at the donation amount. Campaigns that already
// completed stay completed.
func (e *Engine) SettleRefund(ctx context.Context, paymentReference string, amount decimal.Decimal) (outcome Outcome, err error) {
	ctx, span := e.tracer().Start(ctx, "SettleRefund")
	defer span.End()
	span.SetAttributes(attribute.String("payment_reference", paymentReference))
	defer e.record(span, "settle_refund", &outcome, &err)

	unlock := e.locks.Lock("refund:" + paymentReference)
	defer unlock()

	logger := e.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("payment_reference", paymentReference),
	)

	if paymentReference == "" {
		logger.Warn("Ignoring refund without a payment reference")
		return Ignored, nil
	}

	donation, err := e.store.GetDonationByPaymentReference(ctx, paymentReference)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("Ignoring refund for unknown payment")
		return Ignored, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load donation: %w", err)
	}
	if donation.PaymentStatus == models.DonationStatusRefunded {
		logger.Info("Donation already refunded", zap.String("donation_id", donation.DonationID))
		return Duplicate, nil
	}
	if !amount.IsPositive() {
		logger.Warn("Ignoring refund without a positive amount", zap.String("amount", amount.String()))
		return Ignored, nil
	}
	if amount.GreaterThan(donation.Amount) {
		logger.Warn("Refund exceeds donation amount, capping",
			zap.String("refund_amount", amount.StringFixed(2)),
			zap.String("donation_amount", donation.Amount.StringFixed(2)),
		)
		amount = donation.Amount
	}

	var campaign *models.Campaign
	outcome = Applied
	err = e.store.WithTx(ctx, func(l store.Ledger) error {
		refunded, changed, err := l.MarkDonationRefunded(ctx, paymentReference, amount, e.now())
		if err != nil {
			return fmt.Errorf("failed to mark donation refunded: %w", err)
		}
		if !changed {
			outcome = Duplicate
			return nil
		}
		donation = refunded

		campaign, err = l.IncrementCampaign(ctx, donation.CampaignID, amount.Neg(), -1)
		if err != nil {
			return fmt.Errorf("failed to debit campaign: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if outcome == Duplicate {
		return Duplicate, nil
	}

	logger.Info("Donation refunded",
		zap.String("donation_id", donation.DonationID),
		zap.String("campaign_id", campaign.CampaignID),
		zap.String("refund_amount", amount.StringFixed(2)),
		zap.String("raised_amount", campaign.RaisedAmount.StringFixed(2)),
	)

	e.notify(ctx, models.SettlementEvent{
		EventType:        models.EventDonationRefunded,
		SessionID:        donation.StripeSessionID,
		DonationID:       donation.DonationID,
		CampaignID:       campaign.CampaignID,
		Amount:           amount,
		PaymentReference: paymentReference,
		CampaignStatus:   campaign.Status,
		OccurredAt:       e.now().UTC(),
	})
	return Applied, nil
}

// Reconcile applies the live state of a checkout session.
func (e *Engine) Reconcile(ctx context.Context, session *gateway.Session) (Outcome, error) {
	switch {
	case session.Paid():
		return e.SettleSuccess(ctx, session.ID, session.PaymentReference)
	case session.Status == gateway.SessionStatusExpired:
		return e.SettleExpiry(ctx, session.ID)
	case session.Status == gateway.SessionStatusOpen, session.Status == gateway.SessionStatusComplete:
		// complete but unpaid means an async payment method is still clearing
		return e.MarkPending(ctx, session.ID)
	}
	return Ignored, nil
}

func (e *Engine) record(span trace.Span, op string, outcome *Outcome, err *error) {
	if *err != nil {
		span.RecordError(*err)
		middleware.RecordSettlement(op, "error")
		return
	}
	span.SetAttributes(attribute.String("outcome", string(*outcome)))
	middleware.RecordSettlement(op, string(*outcome))
}

// notify runs the side effects of an applied change. Failures are logged and
// never undo the settlement.
func (e *Engine) notify(ctx context.Context, event models.SettlementEvent) {
	if e.cache != nil {
		if err := e.cache.InvalidateCampaign(ctx, event.CampaignID); err != nil {
			e.logger.Warn("Failed to invalidate donor wall cache",
				zap.String("campaign_id", event.CampaignID),
				zap.Error(err),
			)
		}
	}

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, event); err != nil {
			// Don't fail the settlement, it is already durable
			e.logger.Error("Failed to publish settlement event",
				zap.String("event_type", event.EventType),
				zap.String("campaign_id", event.CampaignID),
				zap.Error(err),
			)
		}
	}
}
