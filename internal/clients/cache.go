package clients

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	u "clientdash/internal/utils"
)

// Cache keeps recently viewed clients in redis. A Cache with a nil redis
// client is a no-op.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func cacheKey(id int64) string {
	return "client:" + strconv.FormatInt(id, 10)
}

// Get returns the cached client and whether it was found. Redis failures
// count as a miss.
func (c *Cache) Get(ctx context.Context, id int64) (Client, bool) {
	if c == nil || c.rdb == nil {
		return Client{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	data, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
	if err == redis.Nil {
		return Client{}, false
	}
	if err != nil {
		u.Warn("Redis read failed", "error", err)
		return Client{}, false
	}
	var cl Client
	if err := json.Unmarshal(data, &cl); err != nil {
		u.Warn("Dropping undecodable cached client", "id", id, "error", err)
		return Client{}, false
	}
	return cl, true
}

func (c *Cache) Set(ctx context.Context, cl Client) {
	if c == nil || c.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	data, err := json.Marshal(cl)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(cl.ID), data, c.ttl).Err(); err != nil {
		u.Warn("Redis write failed", "error", err)
	}
}

func (c *Cache) Evict(ctx context.Context, id int64) {
	if c == nil || c.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := c.rdb.Del(ctx, cacheKey(id)).Err(); err != nil {
		u.Warn("Redis delete failed", "error", err)
	}
}
