package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/domain/model"
)

type cachedQuote struct {
	Price        float64 `json:"price"`
	Change24h    float64 `json:"change24h"`
	HasChange24h bool    `json:"hasChange24h"`
	Ts           int64   `json:"ts"`
}

// QuoteCache 行情缓存装饰器：命中则直接返回，未命中的资产交给下游提供方
type QuoteCache struct {
	repo  *Repo
	inner port.MarketData
	ttl   time.Duration
}

func NewQuoteCache(repo *Repo, inner port.MarketData, ttl time.Duration) *QuoteCache {
	return &QuoteCache{repo: repo, inner: inner, ttl: ttl}
}

func (c *QuoteCache) Name() string { return c.inner.Name() + "+redis" }

// Inner returns the wrapped provider.
func (c *QuoteCache) Inner() port.MarketData { return c.inner }

func (c *QuoteCache) quotesKey(currency string) string {
	return c.repo.prefix + ":quotes:" + strings.ToLower(currency)
}

func (c *QuoteCache) GetPrices(ctx context.Context, ids []string, currency string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	key := c.quotesKey(currency)
	vals, err := c.repo.rdb.HMGet(ctx, key, ids...).Result()
	if err != nil {
		log.Warn().Err(err).Msg("quote cache read failed")
		vals = make([]any, len(ids))
	}

	now := time.Now().UnixMilli()
	var missing []string
	for i, id := range ids {
		s, ok := vals[i].(string)
		if !ok {
			missing = append(missing, id)
			continue
		}
		var cq cachedQuote
		if json.Unmarshal([]byte(s), &cq) != nil || now-cq.Ts > c.ttl.Milliseconds() {
			missing = append(missing, id)
			continue
		}
		out[id] = model.Quote{AssetID: id, Price: cq.Price, Change24h: cq.Change24h, HasChange24h: cq.HasChange24h, Ts: cq.Ts}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := c.inner.GetPrices(ctx, missing, currency)
	if err != nil {
		return nil, err
	}
	for id, q := range fresh {
		out[id] = q
	}
	if err := c.UpsertQuotes(ctx, currency, fresh); err != nil {
		log.Warn().Err(err).Msg("quote cache write failed")
	}
	return out, nil
}

// UpsertQuotes 写入行情: HASH field = assetID -> json
func (c *QuoteCache) UpsertQuotes(ctx context.Context, currency string, quotes map[string]model.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	values := make([]any, 0, len(quotes)*2)
	for id, q := range quotes {
		if q.Price <= 0 {
			continue
		}
		ts := q.Ts
		if ts == 0 {
			ts = now
		}
		b, _ := json.Marshal(cachedQuote{Price: q.Price, Change24h: q.Change24h, HasChange24h: q.HasChange24h, Ts: ts})
		values = append(values, id, string(b))
	}
	if len(values) == 0 {
		return nil
	}

	key := c.quotesKey(currency)
	pipe := c.repo.rdb.Pipeline()
	pipe.HSet(ctx, key, values...)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

var _ port.MarketData = (*QuoteCache)(nil)
