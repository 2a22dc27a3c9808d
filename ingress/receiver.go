// Package ingress authenticates payment processor webhooks and dispatches
// them to the settlement engine.
package ingress

import (
	"context"
	"fmt"

	"donation-svc/gateway"
	"donation-svc/middleware"
	"donation-svc/settlement"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Settler interface {
	SettleSuccess(ctx context.Context, sessionID, paymentReference string) (settlement.Outcome, error)
	SettleFailure(ctx context.Context, sessionID string) (settlement.Outcome, error)
	SettleExpiry(ctx context.Context, sessionID string) (settlement.Outcome, error)
	MarkPending(ctx context.Context, sessionID string) (settlement.Outcome, error)
	SettleRefund(ctx context.Context, paymentReference string, amount decimal.Decimal) (settlement.Outcome, error)
}

// Result describes a delivery that passed verification. Err is set when
// processing failed; such deliveries are still acknowledged.
type Result struct {
	EventType string
	Outcome   settlement.Outcome
	Err       error
}

type Receiver struct {
	verifier *gateway.WebhookVerifier
	settler  Settler
	logger   *zap.Logger
}

func NewReceiver(verifier *gateway.WebhookVerifier, settler Settler, logger *zap.Logger) *Receiver {
	if !verifier.Secure() {
		logger.Warn("Webhook signing secret not configured, signatures will not be verified")
	}
	return &Receiver{verifier: verifier, settler: settler, logger: logger}
}

// Receive verifies payload against signature and applies the event. It only
// returns an error when the delivery must be rejected.
func (r *Receiver) Receive(ctx context.Context, payload []byte, signature string) (*Result, error) {
	ctx, span := otel.Tracer("ingress").Start(ctx, "ReceiveWebhook")
	defer span.End()

	event, err := r.verifier.Verify(payload, signature)
	if err != nil {
		span.RecordError(err)
		middleware.RecordWebhookEvent("unknown", "rejected")
		r.logger.Warn("Rejected webhook delivery",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Error(err),
		)
		return nil, err
	}

	eventType := event.EventType()
	span.SetAttributes(attribute.String("event_type", eventType))

	outcome, err := r.dispatch(ctx, event)
	if err != nil {
		span.RecordError(err)
		middleware.RecordWebhookEvent(eventType, "error")
		r.logger.Error("Failed to process webhook event",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return &Result{EventType: eventType, Err: err}, nil
	}

	middleware.RecordWebhookEvent(eventType, string(outcome))
	r.logger.Info("Webhook event processed",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("event_type", eventType),
		zap.String("outcome", string(outcome)),
	)
	return &Result{EventType: eventType, Outcome: outcome}, nil
}

func (r *Receiver) dispatch(ctx context.Context, event gateway.Event) (settlement.Outcome, error) {
	switch e := event.(type) {
	case gateway.SessionCompleted:
		if !e.Paid {
			// async payment methods report completion before the money clears
			return r.settler.MarkPending(ctx, e.SessionID)
		}
		return r.settler.SettleSuccess(ctx, e.SessionID, e.PaymentReference)
	case gateway.AsyncPaymentSucceeded:
		return r.settler.SettleSuccess(ctx, e.SessionID, e.PaymentReference)
	case gateway.AsyncPaymentFailed:
		return r.settler.SettleFailure(ctx, e.SessionID)
	case gateway.SessionExpired:
		return r.settler.SettleExpiry(ctx, e.SessionID)
	case gateway.ChargeRefunded:
		return r.settler.SettleRefund(ctx, e.PaymentReference, e.AmountRefunded)
	case gateway.Unrecognized:
		return settlement.Ignored, nil
	}
	return "", fmt.Errorf("unhandled event %T", event)
}
