package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	terminationPrefix = "sstrace:terminate:"

	// terminationTTL bounds how long a flag outlives its run.
	terminationTTL = 24 * time.Hour
)

// SetTerminationFlag sets the flag of a run to 0 or 1.
func (c *Client) SetTerminationFlag(ctx context.Context, runID string, flag int) error {
	return c.rdb.Set(ctx, terminationPrefix+runID, flag, terminationTTL).Err()
}

// GetTerminationFlag returns the flag of a run, or 0 when it was never set.
func (c *Client) GetTerminationFlag(ctx context.Context, runID string) (int, error) {
	val, err := c.rdb.Get(ctx, terminationPrefix+runID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

// ClearTerminationFlag removes the flag of a run.
func (c *Client) ClearTerminationFlag(ctx context.Context, runID string) error {
	return c.rdb.Del(ctx, terminationPrefix+runID).Err()
}
