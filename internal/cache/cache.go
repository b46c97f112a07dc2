package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
)

// ValuationCache holds short-lived inventory valuation summaries per store.
// Every Invalidate bumps the store's generation; Set only stores a summary
// computed under the generation that is still current, so a reader that raced
// a stock write cannot put the old summary back.
type ValuationCache interface {
	Get(ctx context.Context, storeID string) (*domain.InventoryValuation, bool, error)
	Generation(ctx context.Context, storeID string) (int64, error)
	Set(ctx context.Context, storeID string, generation int64, value *domain.InventoryValuation, ttl time.Duration) error
	Invalidate(ctx context.Context, storeID string) error
}

// SyncGuard marks a key as in flight. Acquire returns ok=false when another
// holder has the key and its ttl has not elapsed. Release only drops the key
// while it still carries the caller's token.
type SyncGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key string, token string) error
}

type NoopValuationCache struct{}

func (NoopValuationCache) Get(_ context.Context, _ string) (*domain.InventoryValuation, bool, error) {
	return nil, false, nil
}

func (NoopValuationCache) Generation(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (NoopValuationCache) Set(_ context.Context, _ string, _ int64, _ *domain.InventoryValuation, _ time.Duration) error {
	return nil
}

func (NoopValuationCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

type localValuation struct {
	value     domain.InventoryValuation
	expiresAt time.Time
}

// LocalValuationCache is the single-process ValuationCache used when Redis is
// not configured.
type LocalValuationCache struct {
	mu          sync.Mutex
	entries     map[string]localValuation
	generations map[string]int64
	now         func() time.Time
}

func NewLocalValuationCache() *LocalValuationCache {
	return &LocalValuationCache{
		entries:     make(map[string]localValuation),
		generations: make(map[string]int64),
		now:         time.Now,
	}
}

func (c *LocalValuationCache) Get(_ context.Context, storeID string) (*domain.InventoryValuation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[storeID]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (c *LocalValuationCache) Generation(_ context.Context, storeID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[storeID], nil
}

func (c *LocalValuationCache) Set(_ context.Context, storeID string, generation int64, value *domain.InventoryValuation, ttl time.Duration) error {
	if value == nil || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[storeID] != generation {
		return nil
	}
	c.entries[storeID] = localValuation{value: *value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *LocalValuationCache) Invalidate(_ context.Context, storeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[storeID]++
	delete(c.entries, storeID)
	return nil
}

type localGuard struct {
	token     string
	expiresAt time.Time
}

// LocalSyncGuard is the single-process SyncGuard used when Redis is not
// configured.
type LocalSyncGuard struct {
	mu      sync.Mutex
	entries map[string]localGuard
	now     func() time.Time
}

func NewLocalSyncGuard() *LocalSyncGuard {
	return &LocalSyncGuard{entries: make(map[string]localGuard), now: time.Now}
}

func (g *LocalSyncGuard) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if held, ok := g.entries[key]; ok && now.Before(held.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	g.entries[key] = localGuard{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (g *LocalSyncGuard) Release(_ context.Context, key string, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if held, ok := g.entries[key]; ok && held.token == token {
		delete(g.entries, key)
	}
	return nil
}
