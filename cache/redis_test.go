package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestWallKey(t *testing.T) {
	assert.Equal(t, "donor_wall:campaign_1", wallKey("campaign_1"))
}

func TestVersionKey(t *testing.T) {
	assert.Equal(t, "donor_wall_version:campaign_1", versionKey("campaign_1"))
}

func TestDonorWallCache_UnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	c := NewDonorWallCache(rdb, time.Minute)
	ctx := context.Background()

	entries, hit, err := c.Get(ctx, "campaign_1")
	assert.Error(t, err)
	assert.False(t, hit)
	assert.Nil(t, entries)

	_, err = c.Version(ctx, "campaign_1")
	assert.Error(t, err)
	assert.Error(t, c.Set(ctx, "campaign_1", 0, nil))
	assert.Error(t, c.InvalidateCampaign(ctx, "campaign_1"))
}
