package donations

import (
	"context"
	"errors"
	"fmt"

	"donation-svc/models"
	"donation-svc/store"

	"go.uber.org/zap"
)

const listLimit = 100

// WallCache stores rendered walls. Set must drop entries whose version is
// older than the campaign's current one.
type WallCache interface {
	Get(ctx context.Context, campaignID string) ([]models.WallEntry, bool, error)
	Version(ctx context.Context, campaignID string) (int64, error)
	Set(ctx context.Context, campaignID string, version int64, entries []models.WallEntry) error
}

// Directory lists settled donations for the donor wall and donor history.
// The cache is optional and consulted best-effort.
type Directory struct {
	ledger store.Ledger
	cache  WallCache
	logger *zap.Logger
}

func NewDirectory(ledger store.Ledger, cache WallCache, logger *zap.Logger) *Directory {
	return &Directory{ledger: ledger, cache: cache, logger: logger}
}

// DonorWall returns the newest paid donations of a campaign with anonymous
// donors masked.
func (d *Directory) DonorWall(ctx context.Context, campaignID string) ([]models.WallEntry, error) {
	var (
		version   int64
		cacheable bool
	)
	if d.cache != nil {
		entries, ok, err := d.cache.Get(ctx, campaignID)
		if err != nil {
			d.logger.Warn("Donor wall cache unavailable", zap.String("campaign_id", campaignID), zap.Error(err))
		} else if ok {
			return entries, nil
		}

		// read before the store so a concurrent invalidation wins
		if version, err = d.cache.Version(ctx, campaignID); err == nil {
			cacheable = true
		}
	}

	donations, err := d.ledger.ListPaidDonations(ctx, campaignID, listLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list donations: %w", err)
	}

	entries := make([]models.WallEntry, 0, len(donations))
	for _, donation := range donations {
		entries = append(entries, models.WallEntry{
			Name:      donation.DisplayName(),
			Amount:    donation.Amount,
			Date:      donation.CreatedAt,
			Anonymous: donation.Anonymous,
		})
	}

	if cacheable {
		if err := d.cache.Set(ctx, campaignID, version, entries); err != nil {
			d.logger.Warn("Failed to cache donor wall", zap.String("campaign_id", campaignID), zap.Error(err))
		}
	}
	return entries, nil
}

// DonorHistory returns a donor's paid donations, each with its campaign.
func (d *Directory) DonorHistory(ctx context.Context, donorID string) ([]models.DonorDonation, error) {
	donations, err := d.ledger.ListDonationsByDonor(ctx, donorID, listLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list donations: %w", err)
	}

	campaigns := make(map[string]*models.Campaign)
	history := make([]models.DonorDonation, 0, len(donations))
	for _, donation := range donations {
		campaign, seen := campaigns[donation.CampaignID]
		if !seen {
			campaign, err = d.ledger.GetCampaign(ctx, donation.CampaignID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("failed to load campaign: %w", err)
			}
			campaigns[donation.CampaignID] = campaign
		}
		history = append(history, models.DonorDonation{Donation: donation, Campaign: campaign})
	}
	return history, nil
}
