package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
)

const (
	valuationKeyPrefix  = "pos:valuation:"
	generationKeyPrefix = "pos:valuation-gen:"
	syncKeyPrefix       = "pos:sync:"
)

// setIfGeneration writes KEYS[2] only while KEYS[1] still holds ARGV[1]. A
// missing generation counts as 0.
var setIfGeneration = redis.NewScript(`
local gen = redis.call("GET", KEYS[1])
if not gen then gen = "0" end
if gen ~= ARGV[1] then return 0 end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// releaseIfOwner deletes KEYS[1] only while it holds the caller's token.
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache backs both ValuationCache and SyncGuard with one client.
type RedisCache struct {
	client *redis.Client
}

var (
	_ ValuationCache = (*RedisCache)(nil)
	_ SyncGuard      = (*RedisCache)(nil)
)

func NewRedisCache(addr string, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCache{client: client}
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, storeID string) (*domain.InventoryValuation, bool, error) {
	val, err := c.client.Get(ctx, valuationKeyPrefix+storeID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var valuation domain.InventoryValuation
	if err := json.Unmarshal([]byte(val), &valuation); err != nil {
		return nil, false, err
	}
	return &valuation, true, nil
}

func (c *RedisCache) Generation(ctx context.Context, storeID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKeyPrefix+storeID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) Set(ctx context.Context, storeID string, generation int64, value *domain.InventoryValuation, ttl time.Duration) error {
	if value == nil || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	keys := []string{generationKeyPrefix + storeID, valuationKeyPrefix + storeID}
	return setIfGeneration.Run(ctx, c.client, keys, strconv.FormatInt(generation, 10), payload, ttl.Milliseconds()).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, storeID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKeyPrefix+storeID)
		pipe.Del(ctx, valuationKeyPrefix+storeID)
		return nil
	})
	return err
}

func (c *RedisCache) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, syncKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire sync guard: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (c *RedisCache) Release(ctx context.Context, key string, token string) error {
	return releaseIfOwner.Run(ctx, c.client, []string{syncKeyPrefix + key}, token).Err()
}
