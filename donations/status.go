package donations

import (
	"context"
	"errors"
	"fmt"

	"donation-svc/apperr"
	"donation-svc/gateway"
	"donation-svc/middleware"
	"donation-svc/models"
	"donation-svc/settlement"
	"donation-svc/store"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type StatusResult struct {
	// Status is the checkout session state: open, complete or expired.
	Status        string                   `json:"status"`
	PaymentStatus models.TransactionStatus `json:"payment_status"`
	Amount        decimal.Decimal          `json:"amount"`
	CampaignID    string                   `json:"campaign_id"`
}

type Reconciler interface {
	Reconcile(ctx context.Context, session *gateway.Session) (settlement.Outcome, error)
}

// StatusQuery answers client polls. Live gateway state is settled through the
// same engine as webhooks before it is reported.
type StatusQuery struct {
	ledger  store.Ledger
	gateway gateway.Gateway
	engine  Reconciler
	logger  *zap.Logger
}

func NewStatusQuery(ledger store.Ledger, gw gateway.Gateway, engine Reconciler, logger *zap.Logger) *StatusQuery {
	return &StatusQuery{ledger: ledger, gateway: gw, engine: engine, logger: logger}
}

func (q *StatusQuery) Status(ctx context.Context, sessionID string) (*StatusResult, error) {
	ctx, span := otel.Tracer("donations").Start(ctx, "PaymentStatus")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	txn, err := q.transaction(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if txn.Status.IsTerminal() {
		return result(sessionStatusFor(txn.Status), txn), nil
	}

	if q.gateway == nil {
		q.logger.Warn("Payment gateway not configured, returning recorded status",
			zap.String("session_id", sessionID),
		)
		return result(sessionStatusFor(txn.Status), txn), nil
	}

	session, err := q.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	outcome, err := q.engine.Reconcile(ctx, session)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to reconcile session: %w", err)
	}

	q.logger.Info("Reconciled checkout session from status poll",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("session_id", sessionID),
		zap.String("session_status", session.Status),
		zap.String("payment_status", session.PaymentStatus),
		zap.String("outcome", string(outcome)),
	)

	txn, err = q.transaction(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return result(session.Status, txn), nil
}

func (q *StatusQuery) transaction(ctx context.Context, sessionID string) (*models.PaymentTransaction, error) {
	txn, err := q.ledger.GetTransactionBySession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Transaction not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return txn, nil
}

func result(status string, txn *models.PaymentTransaction) *StatusResult {
	return &StatusResult{
		Status:        status,
		PaymentStatus: txn.Status,
		Amount:        txn.Amount,
		CampaignID:    txn.CampaignID,
	}
}

// sessionStatusFor infers the session state from a recorded status.
func sessionStatusFor(s models.TransactionStatus) string {
	switch s {
	case models.TransactionStatusPaid, models.TransactionStatusFailed:
		return gateway.SessionStatusComplete
	case models.TransactionStatusExpired:
		return gateway.SessionStatusExpired
	}
	return gateway.SessionStatusOpen
}
