package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"donation-svc/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(cfg config.Database, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name),
	)
	return db, nil
}

// schema mirrors the uniqueness guarantees settlement depends on: one
// transaction per session and idempotency key, one donation per session.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		campaign_id VARCHAR(64) PRIMARY KEY,
		student_id VARCHAR(64) NOT NULL,
		title VARCHAR(255) NOT NULL,
		target_amount NUMERIC(12, 2) NOT NULL CHECK (target_amount > 0),
		raised_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
		donor_count INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS payment_transactions (
		transaction_id VARCHAR(64) PRIMARY KEY,
		session_id VARCHAR(255) NOT NULL UNIQUE,
		idempotency_key VARCHAR(255) NOT NULL UNIQUE,
		campaign_id VARCHAR(64) NOT NULL REFERENCES campaigns (campaign_id),
		donor_id VARCHAR(64),
		donor_name VARCHAR(255) NOT NULL,
		donor_email VARCHAR(255),
		amount NUMERIC(12, 2) NOT NULL CHECK (amount > 0),
		currency VARCHAR(3) NOT NULL DEFAULT 'usd',
		anonymous BOOLEAN NOT NULL DEFAULT FALSE,
		status VARCHAR(20) NOT NULL DEFAULT 'initiated',
		checkout_url TEXT NOT NULL,
		payment_reference VARCHAR(255),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS donations (
		donation_id VARCHAR(64) PRIMARY KEY,
		campaign_id VARCHAR(64) NOT NULL REFERENCES campaigns (campaign_id),
		donor_id VARCHAR(64),
		donor_name VARCHAR(255) NOT NULL,
		donor_email VARCHAR(255),
		amount NUMERIC(12, 2) NOT NULL CHECK (amount > 0),
		anonymous BOOLEAN NOT NULL DEFAULT FALSE,
		stripe_session_id VARCHAR(255) NOT NULL UNIQUE,
		payment_reference VARCHAR(255),
		payment_status VARCHAR(20) NOT NULL DEFAULT 'paid',
		refund_amount NUMERIC(12, 2),
		refunded_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_donations_payment_reference
		ON donations (payment_reference) WHERE payment_reference IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_donations_campaign_created
		ON donations (campaign_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_donations_donor ON donations (donor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns (status)`,
}

// Migrate creates the ledger tables if they don't exist.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	logger.Info("Database schema ready", zap.Int("statements", len(schema)))
	return nil
}
