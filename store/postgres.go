package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"donation-svc/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Postgres is the lib/pq backed Store.
type Postgres struct {
	db *sql.DB
	q  querier
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

func (p *Postgres) WithTx(ctx context.Context, fn func(Ledger) error) error {
	if p.db == nil {
		// already inside a transaction
		return fn(p)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Postgres{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const campaignColumns = "campaign_id, student_id, title, target_amount, raised_amount, donor_count, status, created_at, updated_at"

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.CampaignID, &c.StudentID, &c.Title, &c.TargetAmount, &c.RaisedAmount,
		&c.DonorCount, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Postgres) GetCampaign(ctx context.Context, campaignID string) (*models.Campaign, error) {
	c, err := scanCampaign(p.q.QueryRowContext(ctx,
		"SELECT "+campaignColumns+" FROM campaigns WHERE campaign_id = $1", campaignID))
	if err != nil {
		return nil, notFound(err, "campaign")
	}
	return c, nil
}

func (p *Postgres) IncrementCampaign(ctx context.Context, campaignID string, amount decimal.Decimal, donors int) (*models.Campaign, error) {
	c, err := scanCampaign(p.q.QueryRowContext(ctx,
		`UPDATE campaigns
		SET raised_amount = raised_amount + $2, donor_count = donor_count + $3, updated_at = NOW()
		WHERE campaign_id = $1
		RETURNING `+campaignColumns,
		campaignID, amount, donors))
	if err != nil {
		return nil, notFound(err, "campaign increment")
	}
	return c, nil
}

func (p *Postgres) CompleteCampaign(ctx context.Context, campaignID string) (bool, error) {
	res, err := p.q.ExecContext(ctx,
		"UPDATE campaigns SET status = $2, updated_at = NOW() WHERE campaign_id = $1 AND status = $3",
		campaignID, models.CampaignStatusCompleted, models.CampaignStatusActive)
	if err != nil {
		return false, fmt.Errorf("error completing campaign: %w", err)
	}
	return affected(res)
}

const transactionColumns = "transaction_id, session_id, idempotency_key, campaign_id, donor_id, donor_name, donor_email, amount, currency, anonymous, status, checkout_url, payment_reference, created_at, updated_at"

func scanTransaction(row rowScanner) (*models.PaymentTransaction, error) {
	var (
		t                          models.PaymentTransaction
		donorID, donorEmail, payRef sql.NullString
	)
	err := row.Scan(&t.TransactionID, &t.SessionID, &t.IdempotencyKey, &t.CampaignID, &donorID,
		&t.DonorName, &donorEmail, &t.Amount, &t.Currency, &t.Anonymous, &t.Status, &t.CheckoutURL,
		&payRef, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.DonorID = fromNull(donorID)
	t.DonorEmail = fromNull(donorEmail)
	t.PaymentReference = fromNull(payRef)
	return &t, nil
}

func (p *Postgres) GetTransactionBySession(ctx context.Context, sessionID string) (*models.PaymentTransaction, error) {
	t, err := scanTransaction(p.q.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM payment_transactions WHERE session_id = $1", sessionID))
	if err != nil {
		return nil, notFound(err, "transaction")
	}
	return t, nil
}

func (p *Postgres) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	t, err := scanTransaction(p.q.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM payment_transactions WHERE idempotency_key = $1", key))
	if err != nil {
		return nil, notFound(err, "transaction")
	}
	return t, nil
}

func (p *Postgres) CreateTransaction(ctx context.Context, t *models.PaymentTransaction) error {
	if err := models.Validate(t); err != nil {
		return err
	}

	_, err := p.q.ExecContext(ctx,
		`INSERT INTO payment_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.TransactionID, t.SessionID, t.IdempotencyKey, t.CampaignID, toNull(t.DonorID), t.DonorName,
		toNull(t.DonorEmail), t.Amount, t.Currency, t.Anonymous, t.Status, t.CheckoutURL,
		toNull(t.PaymentReference), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("error executing insert transaction query: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateTransactionStatus(ctx context.Context, sessionID string, to models.TransactionStatus, paymentReference string, from []models.TransactionStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	res, err := p.q.ExecContext(ctx,
		`UPDATE payment_transactions
		SET status = $2, payment_reference = COALESCE(NULLIF($3, ''), payment_reference), updated_at = NOW()
		WHERE session_id = $1 AND status = ANY($4)`,
		sessionID, to, paymentReference, pq.Array(allowed))
	if err != nil {
		return false, fmt.Errorf("error updating transaction status: %w", err)
	}
	return affected(res)
}

const donationColumns = "donation_id, campaign_id, donor_id, donor_name, donor_email, amount, anonymous, stripe_session_id, payment_reference, payment_status, refund_amount, refunded_at, created_at"

func scanDonation(row rowScanner) (*models.Donation, error) {
	var (
		d                           models.Donation
		donorID, donorEmail, payRef sql.NullString
		refundedAt                  sql.NullTime
	)
	err := row.Scan(&d.DonationID, &d.CampaignID, &donorID, &d.DonorName, &donorEmail, &d.Amount,
		&d.Anonymous, &d.StripeSessionID, &payRef, &d.PaymentStatus, &d.RefundAmount, &refundedAt,
		&d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.DonorID = fromNull(donorID)
	d.DonorEmail = fromNull(donorEmail)
	d.PaymentReference = fromNull(payRef)
	if refundedAt.Valid {
		d.RefundedAt = &refundedAt.Time
	}
	return &d, nil
}

func (p *Postgres) GetDonationBySession(ctx context.Context, sessionID string) (*models.Donation, error) {
	d, err := scanDonation(p.q.QueryRowContext(ctx,
		"SELECT "+donationColumns+" FROM donations WHERE stripe_session_id = $1", sessionID))
	if err != nil {
		return nil, notFound(err, "donation")
	}
	return d, nil
}

func (p *Postgres) GetDonationByPaymentReference(ctx context.Context, paymentReference string) (*models.Donation, error) {
	d, err := scanDonation(p.q.QueryRowContext(ctx,
		"SELECT "+donationColumns+" FROM donations WHERE payment_reference = $1", paymentReference))
	if err != nil {
		return nil, notFound(err, "donation")
	}
	return d, nil
}

func (p *Postgres) InsertDonation(ctx context.Context, d *models.Donation) (bool, error) {
	if err := models.Validate(d); err != nil {
		return false, err
	}

	res, err := p.q.ExecContext(ctx,
		`INSERT INTO donations (`+donationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (stripe_session_id) DO NOTHING`,
		d.DonationID, d.CampaignID, toNull(d.DonorID), d.DonorName, toNull(d.DonorEmail), d.Amount,
		d.Anonymous, d.StripeSessionID, toNull(d.PaymentReference), d.PaymentStatus, d.RefundAmount,
		d.RefundedAt, d.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("error inserting donation: %w", err)
	}
	return affected(res)
}

func (p *Postgres) MarkDonationRefunded(ctx context.Context, paymentReference string, amount decimal.Decimal, at time.Time) (*models.Donation, bool, error) {
	d, err := scanDonation(p.q.QueryRowContext(ctx,
		`UPDATE donations
		SET payment_status = $2, refund_amount = $3, refunded_at = $4
		WHERE payment_reference = $1 AND payment_status = $5
		RETURNING `+donationColumns,
		paymentReference, models.DonationStatusRefunded, amount, at, models.DonationStatusPaid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("error marking donation refunded: %w", err)
	}
	return d, true, nil
}

func (p *Postgres) ListPaidDonations(ctx context.Context, campaignID string, limit int) ([]models.Donation, error) {
	return p.listDonations(ctx,
		"SELECT "+donationColumns+" FROM donations WHERE campaign_id = $1 AND payment_status = $2 ORDER BY created_at DESC LIMIT $3",
		campaignID, models.DonationStatusPaid, limit)
}

func (p *Postgres) ListDonationsByDonor(ctx context.Context, donorID string, limit int) ([]models.Donation, error) {
	return p.listDonations(ctx,
		"SELECT "+donationColumns+" FROM donations WHERE donor_id = $1 AND payment_status = $2 ORDER BY created_at DESC LIMIT $3",
		donorID, models.DonationStatusPaid, limit)
}

func (p *Postgres) listDonations(ctx context.Context, query string, args ...any) ([]models.Donation, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying donations: %w", err)
	}
	defer rows.Close()

	var donations []models.Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning donation row: %w", err)
		}
		donations = append(donations, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after iterating over donation rows: %w", err)
	}
	return donations, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("error scanning %s row: %w", what, err)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected: %w", err)
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func toNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
