// Package gatewaytest provides an in-memory payment gateway and webhook
// helpers for tests.
package gatewaytest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"donation-svc/gateway"
)

// Fake records checkout sessions in memory.
type Fake struct {
	mu       sync.Mutex
	sessions map[string]*gateway.Session
	byKey    map[string]string
	seq      int

	// CreateErr and GetErr, when set, are returned by the matching call.
	CreateErr error
	GetErr    error

	CreateCalls int
	GetCalls    int
	LastParams  gateway.CheckoutParams
}

func NewFake() *Fake {
	return &Fake{
		sessions: make(map[string]*gateway.Session),
		byKey:    make(map[string]string),
	}
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, params gateway.CheckoutParams) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateCalls++
	f.LastParams = params
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	// Stripe replays the original response for a reused idempotency key
	if id, ok := f.byKey[params.IdempotencyKey]; ok {
		s := *f.sessions[id]
		return &s, nil
	}

	f.seq++
	id := fmt.Sprintf("cs_test_%d", f.seq)
	s := &gateway.Session{
		ID:            id,
		URL:           "https://checkout.stripe.com/c/pay/" + id,
		Status:        gateway.SessionStatusOpen,
		PaymentStatus: gateway.PaymentUnpaid,
	}
	f.sessions[id] = s
	f.byKey[params.IdempotencyKey] = id

	out := *s
	return &out, nil
}

func (f *Fake) GetCheckoutSession(ctx context.Context, sessionID string) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.GetCalls++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", sessionID)
	}
	out := *s
	return &out, nil
}

// SetSession overrides the processor-side state of a session.
func (f *Fake) SetSession(s gateway.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = &s
}

// Sign builds a Stripe-Signature header for payload.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// SessionEvent renders a checkout.session.* webhook payload.
func SessionEvent(eventType, sessionID, paymentStatus, paymentIntent string) []byte {
	object := map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"payment_status": paymentStatus,
	}
	if paymentIntent != "" {
		object["payment_intent"] = paymentIntent
	}
	return event(eventType, object)
}

// RefundEvent renders a charge.refunded webhook payload. An empty
// paymentIntent renders a charge without one.
func RefundEvent(chargeID, paymentIntent string, amountRefunded int64) []byte {
	object := map[string]any{
		"id":              chargeID,
		"object":          "charge",
		"amount_refunded": amountRefunded,
		"refunded":        true,
	}
	if paymentIntent != "" {
		object["payment_intent"] = paymentIntent
	}
	return event("charge.refunded", object)
}

func event(eventType string, object map[string]any) []byte {
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + strconv.FormatInt(time.Now().UnixNano(), 36),
		"object":      "event",
		"type":        eventType,
		"api_version": "2022-11-15",
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return payload
}
