// internal/checkout/rates.checkout.go
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RateProvider returns how many units of `to` one unit of `from` buys.
type RateProvider interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

func rateKey(from, to string) string {
	return strings.ToUpper(from) + ":" + strings.ToUpper(to)
}

// HTTPRates reads an open.er-api.com style table:
// {"result":"success","base_code":"USD","rates":{"ARS":1300.5,...}}.
// Concurrent lookups for the same base share one request.
type HTTPRates struct {
	urlTemplate string // "{base}" is replaced by the source currency
	client      *http.Client
	group       singleflight.Group
}

func NewHTTPRates(urlTemplate string, timeout time.Duration) *HTTPRates {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPRates{urlTemplate: urlTemplate, client: &http.Client{Timeout: timeout}}
}

func (h *HTTPRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	base := strings.ToUpper(from)
	v, err, _ := h.group.Do(base, func() (interface{}, error) {
		return h.fetchTable(ctx, base)
	})
	if err != nil {
		return decimal.Zero, err
	}
	table := v.(map[string]json.Number)
	n, ok := table[strings.ToUpper(to)]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate %s not in table", rateKey(from, to))
	}
	return decimal.NewFromString(n.String())
}

func (h *HTTPRates) fetchTable(ctx context.Context, base string) (map[string]json.Number, error) {
	url := strings.ReplaceAll(h.urlTemplate, "{base}", base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate fetch: status %d", resp.StatusCode)
	}
	var body struct {
		Result string                 `json:"result"`
		Rates  map[string]json.Number `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("rate decode: %w", err)
	}
	if body.Result != "" && body.Result != "success" {
		return nil, fmt.Errorf("rate fetch: result %q", body.Result)
	}
	return body.Rates, nil
}

// RateCache stores resolved rates between requests.
type RateCache interface {
	Get(ctx context.Context, key string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, key string, v decimal.Decimal, ttl time.Duration) error
}

// RedisRateCache shares rates across replicas.
type RedisRateCache struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisRateCache(rdb *redis.Client) *RedisRateCache {
	return &RedisRateCache{rdb: rdb, prefix: "ledger:rate:"}
}

func (c *RedisRateCache) Get(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	val, err := c.rdb.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

func (c *RedisRateCache) Set(ctx context.Context, key string, v decimal.Decimal, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.prefix+key, v.String(), ttl).Err()
}

// MemoryRateCache is the single-replica default.
type MemoryRateCache struct {
	mu      sync.Mutex
	entries map[string]cachedRate
	now     func() time.Time
}

type cachedRate struct {
	value     decimal.Decimal
	expiresAt time.Time
}

func NewMemoryRateCache() *MemoryRateCache {
	return &MemoryRateCache{entries: make(map[string]cachedRate), now: time.Now}
}

func (c *MemoryRateCache) Get(_ context.Context, key string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		return decimal.Zero, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryRateCache) Set(_ context.Context, key string, v decimal.Decimal, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedRate{value: v, expiresAt: c.now().Add(ttl)}
	return nil
}

// CachedRates serves from cache and fills it on miss. Cache errors only
// cost a refetch.
type CachedRates struct {
	next   RateProvider
	cache  RateCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedRates(next RateProvider, cache RateCache, ttl time.Duration, logger *zap.Logger) *CachedRates {
	return &CachedRates{next: next, cache: cache, ttl: ttl, logger: logger.Named("rates")}
}

func (c *CachedRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	key := rateKey(from, to)
	if v, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("rate cache read failed", zap.String("pair", key), zap.Error(err))
	} else if ok {
		return v, nil
	}
	v, err := c.next.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.cache.Set(ctx, key, v, c.ttl); err != nil {
		c.logger.Warn("rate cache write failed", zap.String("pair", key), zap.Error(err))
	}
	return v, nil
}

// FallbackRates never fails for a pair it has a static rate for: a checkout
// must not be blocked by the rate API being down.
type FallbackRates struct {
	next   RateProvider
	static map[string]decimal.Decimal
	logger *zap.Logger
}

// NewFallbackRates takes static rates keyed "FROM:TO", e.g. "USD:ARS".
func NewFallbackRates(next RateProvider, static map[string]decimal.Decimal, logger *zap.Logger) *FallbackRates {
	return &FallbackRates{next: next, static: static, logger: logger.Named("rates")}
}

func (f *FallbackRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	key := rateKey(from, to)
	if f.next != nil {
		v, err := f.next.Rate(ctx, from, to)
		if err == nil && v.IsPositive() {
			return v, nil
		}
		f.logger.Warn("live rate unavailable, using fallback", zap.String("pair", key), zap.Error(err))
	}
	if v, ok := f.static[key]; ok {
		return v, nil
	}
	return decimal.Zero, fmt.Errorf("no rate for %s", key)
}
