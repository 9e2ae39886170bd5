package fare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

const fareCachePrefix = "fare_rule:"

// CachedLookup keeps fare rules fetched from another Lookup in Redis. A
// cache failure falls through to the wrapped lookup.
type CachedLookup struct {
	Client *redis.Client
	next   Lookup
	ttl    time.Duration
	logger *logger.Logger
}

func NewCachedLookup(client *redis.Client, next Lookup, ttl time.Duration, log *logger.Logger) *CachedLookup {
	return &CachedLookup{Client: client, next: next, ttl: ttl, logger: log}
}

func cacheKey(routeID, fromStopID, toStopID string) string {
	return fmt.Sprintf("%s%s:%s:%s", fareCachePrefix, routeID, fromStopID, toStopID)
}

func (c *CachedLookup) Rule(ctx context.Context, routeID, fromStopID, toStopID string) (*models.FareRule, error) {
	key := cacheKey(routeID, fromStopID, toStopID)

	raw, err := c.Client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var rule models.FareRule
		if err := json.Unmarshal([]byte(raw), &rule); err == nil {
			return &rule, nil
		}
		c.logger.Warn("FARE", fmt.Sprintf("Discarding unreadable cached fare %s", key))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("FARE", fmt.Sprintf("Fare cache read failed: %v", err))
	}

	rule, err := c.next.Rule(ctx, routeID, fromStopID, toStopID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rule); err == nil {
		if err := c.Client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("FARE", fmt.Sprintf("Fare cache write failed: %v", err))
		}
	}
	return rule, nil
}

// Invalidate drops a cached rule after a fare change.
func (c *CachedLookup) Invalidate(ctx context.Context, routeID, fromStopID, toStopID string) error {
	return c.Client.Del(ctx, cacheKey(routeID, fromStopID, toStopID)).Err()
}
