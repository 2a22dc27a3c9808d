package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

type Campaign struct {
	CampaignID   string          `json:"campaign_id" validate:"required"`
	StudentID    string          `json:"student_id" validate:"required"`
	Title        string          `json:"title" validate:"required"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	RaisedAmount decimal.Decimal `json:"raised_amount"`
	DonorCount   int             `json:"donor_count"`
	Status       CampaignStatus  `json:"status" validate:"required,oneof=active completed cancelled"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ReachedTarget reports whether the raised amount has met the target.
func (c *Campaign) ReachedTarget() bool {
	return c.RaisedAmount.GreaterThanOrEqual(c.TargetAmount)
}
