package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"donation-svc/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func InitRedis(addr, password string, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", addr))
	return rdb, nil
}

var errStaleWall = errors.New("donor wall invalidated since read")

// DonorWallCache caches the rendered donor wall of each campaign. Every
// invalidation bumps a per-campaign version so a wall rendered before the
// bump is never written back.
type DonorWallCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDonorWallCache(rdb *redis.Client, ttl time.Duration) *DonorWallCache {
	return &DonorWallCache{rdb: rdb, ttl: ttl}
}

func wallKey(campaignID string) string {
	return fmt.Sprintf("donor_wall:%s", campaignID)
}

func versionKey(campaignID string) string {
	return fmt.Sprintf("donor_wall_version:%s", campaignID)
}

// Get returns the cached wall. A miss is (nil, false, nil).
func (c *DonorWallCache) Get(ctx context.Context, campaignID string) ([]models.WallEntry, bool, error) {
	data, err := c.rdb.Get(ctx, wallKey(campaignID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read donor wall cache: %w", err)
	}

	var entries []models.WallEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false, fmt.Errorf("failed to decode donor wall cache: %w", err)
	}
	return entries, true, nil
}

// Version returns the campaign's invalidation counter, 0 if never invalidated.
func (c *DonorWallCache) Version(ctx context.Context, campaignID string) (int64, error) {
	version, err := c.rdb.Get(ctx, versionKey(campaignID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read donor wall version: %w", err)
	}
	return version, nil
}

// Set caches entries rendered at version. The write is skipped when the
// campaign was invalidated after that version was read.
func (c *DonorWallCache) Set(ctx context.Context, campaignID string, version int64, entries []models.WallEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey(campaignID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleWall
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, wallKey(campaignID), data, c.ttl)
			return nil
		})
		return err
	}, versionKey(campaignID))

	if errors.Is(err, errStaleWall) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to write donor wall cache: %w", err)
	}
	return nil
}

func (c *DonorWallCache) InvalidateCampaign(ctx context.Context, campaignID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(campaignID))
		pipe.Del(ctx, wallKey(campaignID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate donor wall cache: %w", err)
	}
	return nil
}
