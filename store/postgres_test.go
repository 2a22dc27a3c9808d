package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"donation-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func testDonation() *models.Donation {
	tx := &models.PaymentTransaction{
		SessionID:  "cs_test_1",
		CampaignID: "campaign_1",
		DonorName:  "Ada",
		Amount:     decimal.RequireFromString("50.00"),
	}
	return models.NewDonation(tx, "pi_1", time.Now())
}

func TestGetCampaign_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE campaign_id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetCampaign(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestIncrementCampaign_ReturnsUpdatedRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"campaign_id", "student_id", "title", "target_amount",
		"raised_amount", "donor_count", "status", "created_at", "updated_at"}).
		AddRow("campaign_1", "student_1", "Tuition", "200.00", "50.00", 1, "active", now, now)

	mock.ExpectQuery("UPDATE campaigns SET raised_amount = raised_amount \\+ \\$2").
		WithArgs("campaign_1", sqlmock.AnyArg(), 1).
		WillReturnRows(rows)

	c, err := s.IncrementCampaign(context.Background(), "campaign_1", decimal.RequireFromString("50"), 1)
	if err != nil {
		t.Fatalf("IncrementCampaign returned error: %v", err)
	}
	if !c.RaisedAmount.Equal(decimal.RequireFromString("50")) {
		t.Errorf("Expected raised amount 50, got %s", c.RaisedAmount)
	}
	if c.DonorCount != 1 || c.Status != models.CampaignStatusActive {
		t.Errorf("Unexpected campaign: %+v", c)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestInsertDonation(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"inserted", 1, true},
		{"conflict", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)

			mock.ExpectExec("INSERT INTO donations (.+) ON CONFLICT \\(stripe_session_id\\) DO NOTHING").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := s.InsertDonation(context.Background(), testDonation())
			if err != nil {
				t.Fatalf("InsertDonation returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected inserted=%v, got %v", tt.want, got)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Database expectations were not met: %v", err)
			}
		})
	}
}

func TestInsertDonation_RejectsInvalidRecord(t *testing.T) {
	s, mock := newMockStore(t)

	d := testDonation()
	d.Amount = decimal.Zero

	if _, err := s.InsertDonation(context.Background(), d); err == nil {
		t.Error("Expected validation error for zero amount")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestCreateTransaction_UniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO payment_transactions").
		WillReturnError(&pq.Error{Code: "23505"})

	tx := &models.PaymentTransaction{
		TransactionID:  "txn_1",
		SessionID:      "cs_test_1",
		IdempotencyKey: "key-1",
		CampaignID:     "campaign_1",
		DonorName:      "Ada",
		Amount:         decimal.RequireFromString("10"),
		Currency:       "usd",
		Status:         models.TransactionStatusInitiated,
		CheckoutURL:    "https://checkout.stripe.com/c/pay/cs_test_1",
	}

	if err := s.CreateTransaction(context.Background(), tx); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestUpdateTransactionStatus_OnlyFromAllowedStates(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE payment_transactions (.+) WHERE session_id = \\$1 AND status = ANY\\(\\$4\\)").
		WithArgs("cs_test_1", models.TransactionStatusFailed, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := s.UpdateTransactionStatus(context.Background(), "cs_test_1",
		models.TransactionStatusFailed, "", models.OpenTransactionStatuses)
	if err != nil {
		t.Fatalf("UpdateTransactionStatus returned error: %v", err)
	}
	if changed {
		t.Error("Expected no change for a terminal transaction")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestMarkDonationRefunded_AlreadyRefunded(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE donations (.+) WHERE payment_reference = \\$1 AND payment_status = \\$5").
		WillReturnError(sql.ErrNoRows)

	d, changed, err := s.MarkDonationRefunded(context.Background(), "pi_1", decimal.RequireFromString("50"), time.Now())
	if err != nil {
		t.Fatalf("MarkDonationRefunded returned error: %v", err)
	}
	if changed || d != nil {
		t.Errorf("Expected no change, got changed=%v donation=%v", changed, d)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestListPaidDonations(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"donation_id", "campaign_id", "donor_id", "donor_name",
		"donor_email", "amount", "anonymous", "stripe_session_id", "payment_reference",
		"payment_status", "refund_amount", "refunded_at", "created_at"}).
		AddRow("donation_2", "campaign_1", nil, "Grace", nil, "150.00", true, "cs_2", "pi_2", "paid", nil, nil, now).
		AddRow("donation_1", "campaign_1", "user_1", "Ada", "ada@example.com", "50.00", false, "cs_1", "pi_1", "paid", nil, nil, now.Add(-time.Hour))

	mock.ExpectQuery("SELECT (.+) FROM donations WHERE campaign_id = \\$1 AND payment_status = \\$2 ORDER BY created_at DESC LIMIT \\$3").
		WithArgs("campaign_1", models.DonationStatusPaid, 100).
		WillReturnRows(rows)

	donations, err := s.ListPaidDonations(context.Background(), "campaign_1", 100)
	if err != nil {
		t.Fatalf("ListPaidDonations returned error: %v", err)
	}
	if len(donations) != 2 {
		t.Fatalf("Expected 2 donations, got %d", len(donations))
	}
	if donations[0].DonorID != nil || !donations[0].Anonymous {
		t.Errorf("Expected anonymous donation without donor id, got %+v", donations[0])
	}
	if donations[1].DonorEmail == nil || *donations[1].DonorEmail != "ada@example.com" {
		t.Errorf("Expected donor email to be scanned, got %v", donations[1].DonorEmail)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestWithTx(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE campaigns SET status").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.WithTx(context.Background(), func(l Ledger) error {
			_, err := l.CompleteCampaign(context.Background(), "campaign_1")
			return err
		})
		if err != nil {
			t.Fatalf("WithTx returned error: %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Database expectations were not met: %v", err)
		}
	})

	t.Run("rollback", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := s.WithTx(context.Background(), func(l Ledger) error { return boom })
		if !errors.Is(err, boom) {
			t.Errorf("Expected fn error, got %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Database expectations were not met: %v", err)
		}
	})
}
