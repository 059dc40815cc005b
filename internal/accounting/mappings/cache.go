package mappings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CachedSource keeps tenant charts in Redis in front of another Source.
type CachedSource struct {
	next   Source
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedSource wraps next. A nil client disables caching.
func NewCachedSource(next Source, client *redis.Client, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSource{next: next, client: client, ttl: ttl}
}

func chartKey(tenantID int64) string {
	return fmt.Sprintf("ledger:tenant:%d:chart", tenantID)
}

// LoadChart returns the cached chart, loading it once per tenant on a miss.
func (c *CachedSource) LoadChart(ctx context.Context, tenantID int64) (Chart, error) {
	if c.client == nil {
		return c.next.LoadChart(ctx, tenantID)
	}
	key := chartKey(tenantID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var mappings []AccountMapping
		if err := json.Unmarshal(payload, &mappings); err == nil {
			return NewChart(tenantID, mappings), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Chart{}, err
	}

	v, err, _ := c.group.Do(strconv.FormatInt(tenantID, 10), func() (interface{}, error) {
		chart, err := c.next.LoadChart(ctx, tenantID)
		if err != nil {
			return Chart{}, err
		}
		raw, err := json.Marshal(chart.Mappings())
		if err != nil {
			return Chart{}, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return Chart{}, err
		}
		return chart, nil
	})
	if err != nil {
		return Chart{}, err
	}
	return v.(Chart), nil
}

// Invalidate drops the cached chart of a tenant.
func (c *CachedSource) Invalidate(ctx context.Context, tenantID int64) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, chartKey(tenantID)).Err()
}
