package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"signal_bot/internal/models"
)

// History — то, что реконсилеру нужно от биржи.
type History interface {
	GetKlines(ctx context.Context, symbol, interval string, startTime int64) ([]models.Candle, error)
	GetAggTrades(ctx context.Context, symbol string, startTime int64) ([]models.Trade, error)
}

// CachingHistory кэширует в Redis страницы уже закрытых свечей: они не меняются,
// а реконсилер запрашивает одни и те же окна на каждом проходе.
type CachingHistory struct {
	inner     History
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
	now       func() time.Time
}

func NewCachingHistory(rdb *redis.Client, ttl time.Duration, inner History, namespace string) *CachingHistory {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if namespace == "" {
		namespace = "signal_bot"
	}
	return &CachingHistory{
		inner:     inner,
		rdb:       rdb,
		ttl:       ttl,
		namespace: namespace,
		now:       time.Now,
	}
}

func (c *CachingHistory) GetKlines(ctx context.Context, symbol, interval string, startTime int64) ([]models.Candle, error) {
	if c.rdb == nil {
		return c.inner.GetKlines(ctx, symbol, interval, startTime)
	}

	key := c.klinesKey(symbol, interval, startTime)
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var out []models.Candle
		if err := sonic.Unmarshal(b, &out); err == nil {
			return out, nil
		}
		_ = c.rdb.Del(ctx, key).Err()
	}

	out, err := c.inner.GetKlines(ctx, symbol, interval, startTime)
	if err != nil {
		return nil, err
	}
	if !allClosed(out, c.now().UnixMilli()) {
		return out, nil
	}
	if b, err := sonic.Marshal(out); err == nil {
		_ = c.rdb.Set(ctx, key, b, c.ttl).Err()
	}
	return out, nil
}

func (c *CachingHistory) GetAggTrades(ctx context.Context, symbol string, startTime int64) ([]models.Trade, error) {
	return c.inner.GetAggTrades(ctx, symbol, startTime)
}

func (c *CachingHistory) klinesKey(symbol, interval string, startTime int64) string {
	return fmt.Sprintf("%s:klines:%s:%s:%d", c.namespace, safe(symbol), safe(interval), startTime)
}

func allClosed(cs []models.Candle, now int64) bool {
	if len(cs) == 0 {
		return false
	}
	return cs[len(cs)-1].CloseTime < now
}

func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return strings.ToLower(s)
}
