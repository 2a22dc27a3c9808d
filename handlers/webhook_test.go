package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"donation-svc/gateway"
	"donation-svc/gateway/gatewaytest"
	"donation-svc/models"

	"github.com/shopspring/decimal"
)

func webhookRequest(payload []byte, signature string) *http.Request {
	req := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	return req
}

func deliverWebhook(t *testing.T, ts *testServer, payload []byte) envelope {
	t.Helper()
	w := ts.do(webhookRequest(payload, gatewaytest.Sign(payload, webhookSecret, time.Now())))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	return decode(t, w)
}

func TestWebhookHandler_SettlesOnce(t *testing.T) {
	ts := setupDonationTest(t)
	w := ts.do(checkoutRequest(validCheckoutBody()))
	if w.Code != http.StatusOK {
		t.Fatalf("Checkout failed: %s", w.Body.String())
	}
	txn, _ := ts.store.GetTransactionByIdempotencyKey(context.Background(), "key-1")

	payload := gatewaytest.SessionEvent(gateway.EventCheckoutCompleted, txn.SessionID, "paid", "pi_1")
	for i := 0; i < 3; i++ {
		env := deliverWebhook(t, ts, payload)
		if !env.Success || env.EventType != gateway.EventCheckoutCompleted {
			t.Errorf("Unexpected webhook response: %+v", env)
		}
	}

	c, _ := ts.store.GetCampaign(context.Background(), "campaign_1")
	if !c.RaisedAmount.Equal(decimal.RequireFromString("50")) || c.DonorCount != 1 {
		t.Errorf("Expected a single settlement, got raised=%s donors=%d", c.RaisedAmount, c.DonorCount)
	}
}

func TestWebhookHandler_RejectsBadSignature(t *testing.T) {
	ts := setupDonationTest(t)
	payload := gatewaytest.SessionEvent(gateway.EventCheckoutCompleted, "cs_test_1", "paid", "pi_1")

	tests := []struct {
		name      string
		signature string
	}{
		{"missing header", ""},
		{"wrong secret", gatewaytest.Sign(payload, "whsec_other", time.Now())},
		{"garbage", "not-a-signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(webhookRequest(payload, tt.signature))
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
			if env := decode(t, w); env.Success {
				t.Errorf("Expected failure body, got %s", w.Body.String())
			}
		})
	}
}

func TestWebhookHandler_UnknownEventAcknowledged(t *testing.T) {
	ts := setupDonationTest(t)

	env := deliverWebhook(t, ts, gatewaytest.SessionEvent("customer.created", "cus_1", "", ""))
	if !env.Success || env.EventType != "customer.created" {
		t.Errorf("Unexpected webhook response: %+v", env)
	}
}

func TestWebhookHandler_RefundReversesDonation(t *testing.T) {
	ts := setupDonationTest(t)
	ts.do(checkoutRequest(validCheckoutBody()))
	txn, _ := ts.store.GetTransactionByIdempotencyKey(context.Background(), "key-1")

	deliverWebhook(t, ts, gatewaytest.SessionEvent(gateway.EventCheckoutCompleted, txn.SessionID, "paid", "pi_1"))
	env := deliverWebhook(t, ts, gatewaytest.RefundEvent("ch_1", "pi_1", 5000))
	if !env.Success || env.EventType != gateway.EventChargeRefunded {
		t.Errorf("Unexpected refund response: %+v", env)
	}

	d, err := ts.store.GetDonationByPaymentReference(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("Expected donation: %v", err)
	}
	if d.PaymentStatus != models.DonationStatusRefunded {
		t.Errorf("Expected refunded donation, got %s", d.PaymentStatus)
	}
}

func TestWebhookHandler_RefundWithoutPaymentIntentReturnsOK(t *testing.T) {
	ts := setupDonationTest(t)

	env := deliverWebhook(t, ts, gatewaytest.RefundEvent("ch_legacy", "", 4000))
	if !env.Success || env.EventType != gateway.EventChargeRefunded {
		t.Errorf("Unexpected refund response: %+v", env)
	}
}
