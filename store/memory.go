package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"donation-svc/models"

	"github.com/shopspring/decimal"
)

// Memory is an in-process Store used for local runs and tests. Records are
// copied on the way in and out so callers never share state with the store.
type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	campaigns    map[string]models.Campaign
	transactions map[string]models.PaymentTransaction // by session id
	keys         map[string]string                    // idempotency key -> session id
	donations    map[string]models.Donation           // by session id
	references   map[string]string                    // payment reference -> session id
}

func NewMemory() *Memory {
	return &Memory{
		campaigns:    make(map[string]models.Campaign),
		transactions: make(map[string]models.PaymentTransaction),
		keys:         make(map[string]string),
		donations:    make(map[string]models.Donation),
		references:   make(map[string]string),
	}
}

// PutCampaign seeds or replaces a campaign.
func (m *Memory) PutCampaign(c models.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.CampaignID] = c
}

// WithTx serializes fn against other WithTx callers. Writes are not rolled
// back on error.
func (m *Memory) WithTx(ctx context.Context, fn func(Ledger) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}

func (m *Memory) GetCampaign(ctx context.Context, campaignID string) (*models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.campaigns[campaignID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) IncrementCampaign(ctx context.Context, campaignID string, amount decimal.Decimal, donors int) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[campaignID]
	if !ok {
		return nil, ErrNotFound
	}
	c.RaisedAmount = c.RaisedAmount.Add(amount)
	c.DonorCount += donors
	c.UpdatedAt = time.Now().UTC()
	m.campaigns[campaignID] = c
	return &c, nil
}

func (m *Memory) CompleteCampaign(ctx context.Context, campaignID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[campaignID]
	if !ok || c.Status != models.CampaignStatusActive {
		return false, nil
	}
	c.Status = models.CampaignStatusCompleted
	c.UpdatedAt = time.Now().UTC()
	m.campaigns[campaignID] = c
	return true, nil
}

func (m *Memory) GetTransactionBySession(ctx context.Context, sessionID string) (*models.PaymentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transactions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *Memory) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessionID, ok := m.keys[key]
	if !ok {
		return nil, ErrNotFound
	}
	t := m.transactions[sessionID]
	return &t, nil
}

func (m *Memory) CreateTransaction(ctx context.Context, t *models.PaymentTransaction) error {
	if err := models.Validate(t); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[t.SessionID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.keys[t.IdempotencyKey]; ok {
		return ErrDuplicate
	}
	m.transactions[t.SessionID] = *t
	m.keys[t.IdempotencyKey] = t.SessionID
	return nil
}

func (m *Memory) UpdateTransactionStatus(ctx context.Context, sessionID string, to models.TransactionStatus, paymentReference string, from []models.TransactionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transactions[sessionID]
	if !ok || !containsStatus(from, t.Status) {
		return false, nil
	}
	t.Status = to
	if paymentReference != "" {
		ref := paymentReference
		t.PaymentReference = &ref
	}
	t.UpdatedAt = time.Now().UTC()
	m.transactions[sessionID] = t
	return true, nil
}

func (m *Memory) GetDonationBySession(ctx context.Context, sessionID string) (*models.Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.donations[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *Memory) GetDonationByPaymentReference(ctx context.Context, paymentReference string) (*models.Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessionID, ok := m.references[paymentReference]
	if !ok {
		return nil, ErrNotFound
	}
	d := m.donations[sessionID]
	return &d, nil
}

func (m *Memory) InsertDonation(ctx context.Context, d *models.Donation) (bool, error) {
	if err := models.Validate(d); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.donations[d.StripeSessionID]; ok {
		return false, nil
	}
	if d.PaymentReference != nil {
		if _, ok := m.references[*d.PaymentReference]; ok {
			return false, nil
		}
		m.references[*d.PaymentReference] = d.StripeSessionID
	}
	m.donations[d.StripeSessionID] = *d
	return true, nil
}

func (m *Memory) MarkDonationRefunded(ctx context.Context, paymentReference string, amount decimal.Decimal, at time.Time) (*models.Donation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID, ok := m.references[paymentReference]
	if !ok {
		return nil, false, nil
	}
	d := m.donations[sessionID]
	if d.PaymentStatus != models.DonationStatusPaid {
		return nil, false, nil
	}
	d.PaymentStatus = models.DonationStatusRefunded
	d.RefundAmount = decimal.NewNullDecimal(amount)
	refundedAt := at.UTC()
	d.RefundedAt = &refundedAt
	m.donations[sessionID] = d
	return &d, true, nil
}

func (m *Memory) ListPaidDonations(ctx context.Context, campaignID string, limit int) ([]models.Donation, error) {
	return m.listDonations(limit, func(d models.Donation) bool {
		return d.CampaignID == campaignID
	}), nil
}

func (m *Memory) ListDonationsByDonor(ctx context.Context, donorID string, limit int) ([]models.Donation, error) {
	return m.listDonations(limit, func(d models.Donation) bool {
		return d.DonorID != nil && *d.DonorID == donorID
	}), nil
}

func (m *Memory) listDonations(limit int, match func(models.Donation) bool) []models.Donation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var donations []models.Donation
	for _, d := range m.donations {
		if d.PaymentStatus == models.DonationStatusPaid && match(d) {
			donations = append(donations, d)
		}
	}
	sort.Slice(donations, func(i, j int) bool {
		return donations[i].CreatedAt.After(donations[j].CreatedAt)
	})
	if limit > 0 && len(donations) > limit {
		donations = donations[:limit]
	}
	return donations
}

func containsStatus(statuses []models.TransactionStatus, s models.TransactionStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
