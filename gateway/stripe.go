package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"donation-svc/apperr"
	"donation-svc/circuitbreaker"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type StripeConfig struct {
	APIKey  string
	Timeout time.Duration

	// BackendURL overrides the API base URL.
	BackendURL string
}

// Stripe talks to Stripe Checkout through an injected API client. Each call
// carries its own deadline and goes through a circuit breaker.
type Stripe struct {
	api     *client.API
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewStripe(cfg StripeConfig, logger *zap.Logger) *Stripe {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	backends := &stripe.Backends{
		API:     newBackend(stripe.APIBackend, httpClient, cfg.BackendURL),
		Connect: newBackend(stripe.ConnectBackend, httpClient, cfg.BackendURL),
		Uploads: newBackend(stripe.UploadsBackend, httpClient, cfg.BackendURL),
	}

	return &Stripe{
		api:     client.New(cfg.APIKey, backends),
		timeout: cfg.Timeout,
		breaker: circuitbreaker.NewCircuitBreaker(5, 30*time.Second).CountOnly(isUpstreamFailure),
		logger:  logger,
	}
}

// newBackend disables SDK network retries; failures surface to the circuit
// breaker instead. An empty url keeps the backend's default host.
func newBackend(backendType stripe.SupportedBackend, httpClient *http.Client, url string) stripe.Backend {
	config := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if url != "" {
		config.URL = stripe.String(url)
	}
	return stripe.GetBackendWithConfig(backendType, config)
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*Session, error) {
	ctx, span := otel.Tracer("gateway").Start(ctx, "CreateCheckoutSession")
	defer span.End()
	span.SetAttributes(
		attribute.String("campaign_id", p.CampaignID),
		attribute.String("amount", p.Amount.StringFixed(2)),
	)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(p.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Donation: " + p.CampaignTitle),
					},
					UnitAmount: stripe.Int64(ToCents(p.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if p.DonorEmail != "" {
		params.CustomerEmail = stripe.String(p.DonorEmail)
	}
	params.Context = ctx
	params.SetIdempotencyKey(p.IdempotencyKey)
	params.AddMetadata("campaign_id", p.CampaignID)
	params.AddMetadata("donor_id", p.DonorID)
	params.AddMetadata("donor_name", p.DonorName)
	params.AddMetadata("anonymous", strconv.FormatBool(p.Anonymous))
	params.AddMetadata("idempotency_key", p.IdempotencyKey)

	var cs *stripe.CheckoutSession
	err := s.breaker.Execute(ctx, func() error {
		var err error
		cs, err = s.api.CheckoutSessions.New(params)
		return err
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("Failed to create checkout session",
			zap.String("campaign_id", p.CampaignID),
			zap.Error(err),
		)
		return nil, mapError("Failed to create checkout session", err)
	}

	span.SetAttributes(attribute.String("session_id", cs.ID))
	return toSession(cs), nil
}

func (s *Stripe) GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := otel.Tracer("gateway").Start(ctx, "GetCheckoutSession")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	var cs *stripe.CheckoutSession
	err := s.breaker.Execute(ctx, func() error {
		var err error
		cs, err = s.api.CheckoutSessions.Get(sessionID, params)
		return err
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("Failed to retrieve checkout session",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return nil, mapError("Failed to retrieve checkout session", err)
	}

	return toSession(cs), nil
}

func toSession(cs *stripe.CheckoutSession) *Session {
	s := &Session{
		ID:            cs.ID,
		URL:           cs.URL,
		Status:        string(cs.Status),
		PaymentStatus: string(cs.PaymentStatus),
	}
	if cs.PaymentIntent != nil {
		s.PaymentReference = cs.PaymentIntent.ID
	}
	return s
}

// isUpstreamFailure reports whether err says Stripe itself is unhealthy, as
// opposed to rejecting the request.
func isUpstreamFailure(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

func mapError(message string, err error) error {
	var stripeErr *stripe.Error
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		return apperr.GatewayUnavailable("Payment gateway unavailable", err)
	case errors.As(err, &stripeErr):
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return apperr.GatewayUnavailable(message, errors.New(stripeErr.Msg))
		}
		return apperr.Gateway(message, errors.New(stripeErr.Msg))
	}
	return apperr.GatewayUnavailable(message, err)
}
