package donations

import (
	"context"
	"net/http"
	"testing"

	"donation-svc/apperr"
	"donation-svc/gateway"
	"donation-svc/gateway/gatewaytest"
	"donation-svc/models"
	"donation-svc/settlement"
	"donation-svc/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type statusFixture struct {
	store     *store.Memory
	gateway   *gatewaytest.Fake
	engine    *settlement.Engine
	initiator *Initiator
	query     *StatusQuery
}

func newStatusFixture(t *testing.T) *statusFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	s := store.NewMemory()
	seedCampaign(s, "campaign_1", models.CampaignStatusActive)
	gw := gatewaytest.NewFake()
	engine := settlement.NewEngine(s, logger)

	return &statusFixture{
		store:   s,
		gateway: gw,
		engine:  engine,
		initiator: NewInitiator(s, gw, InitiatorConfig{
			MaxAmount: decimal.RequireFromString("100000"),
			Currency:  "usd",
		}, logger),
		query: NewStatusQuery(s, gw, engine, logger),
	}
}

func (f *statusFixture) checkout(t *testing.T, amount string) string {
	t.Helper()
	req := validRequest()
	req.IdempotencyKey = ""
	req.Amount = decimal.RequireFromString(amount)
	result, err := f.initiator.Initiate(context.Background(), req, nil)
	require.NoError(t, err)
	return result.SessionID
}

func TestStatus_UnknownSession(t *testing.T) {
	f := newStatusFixture(t)

	_, err := f.query.Status(context.Background(), "cs_missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(err))
}

func TestStatus_OpenSessionMarksPending(t *testing.T) {
	f := newStatusFixture(t)
	sessionID := f.checkout(t, "20")

	result, err := f.query.Status(context.Background(), sessionID)
	require.NoError(t, err)

	assert.Equal(t, gateway.SessionStatusOpen, result.Status)
	assert.Equal(t, models.TransactionStatusPending, result.PaymentStatus)
	assert.Equal(t, "campaign_1", result.CampaignID)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("20")))
}

func TestStatus_PaidSessionSettlesThroughEngine(t *testing.T) {
	f := newStatusFixture(t)
	sessionID := f.checkout(t, "20")
	ctx := context.Background()

	f.gateway.SetSession(gateway.Session{
		ID:               sessionID,
		Status:           gateway.SessionStatusComplete,
		PaymentStatus:    gateway.PaymentPaid,
		PaymentReference: "pi_1",
	})

	result, err := f.query.Status(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, gateway.SessionStatusComplete, result.Status)
	assert.Equal(t, models.TransactionStatusPaid, result.PaymentStatus)

	campaign, err := f.store.GetCampaign(ctx, "campaign_1")
	require.NoError(t, err)
	assert.True(t, campaign.RaisedAmount.Equal(decimal.RequireFromString("20")))
	assert.Equal(t, 1, campaign.DonorCount)

	// later polls and a late webhook must not count the payment again
	_, err = f.query.Status(ctx, sessionID)
	require.NoError(t, err)
	outcome, err := f.engine.SettleSuccess(ctx, sessionID, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, settlement.Duplicate, outcome)

	campaign, err = f.store.GetCampaign(ctx, "campaign_1")
	require.NoError(t, err)
	assert.True(t, campaign.RaisedAmount.Equal(decimal.RequireFromString("20")))
}

func TestStatus_TerminalStatusSkipsGateway(t *testing.T) {
	f := newStatusFixture(t)
	sessionID := f.checkout(t, "20")
	ctx := context.Background()

	_, err := f.engine.SettleSuccess(ctx, sessionID, "pi_1")
	require.NoError(t, err)
	f.gateway.GetCalls = 0

	result, err := f.query.Status(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.gateway.GetCalls)
	assert.Equal(t, gateway.SessionStatusComplete, result.Status)
	assert.Equal(t, models.TransactionStatusPaid, result.PaymentStatus)

	expired := f.checkout(t, "5")
	_, err = f.engine.SettleExpiry(ctx, expired)
	require.NoError(t, err)

	result, err = f.query.Status(ctx, expired)
	require.NoError(t, err)
	assert.Equal(t, 0, f.gateway.GetCalls)
	assert.Equal(t, gateway.SessionStatusExpired, result.Status)
}

func TestStatus_GatewayErrorPropagates(t *testing.T) {
	f := newStatusFixture(t)
	sessionID := f.checkout(t, "20")
	f.gateway.GetErr = apperr.GatewayUnavailable("Payment gateway unavailable", context.DeadlineExceeded)

	_, err := f.query.Status(context.Background(), sessionID)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apperr.HTTPStatus(err))

	txn, err := f.store.GetTransactionBySession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusInitiated, txn.Status)
}

func TestStatus_GatewayNotConfigured(t *testing.T) {
	f := newStatusFixture(t)
	sessionID := f.checkout(t, "20")
	query := NewStatusQuery(f.store, nil, f.engine, zaptest.NewLogger(t))

	result, err := query.Status(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusInitiated, result.PaymentStatus)
	assert.Equal(t, gateway.SessionStatusOpen, result.Status)
}
