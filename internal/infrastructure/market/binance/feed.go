// Package binance 基于 Binance miniTicker 组合流的行情提供者，缓存每个交易对的最新报价。
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/domain/model"
	"cryptofolio/internal/infrastructure/market"
)

const Name = "binance"

var ErrUnsupportedCurrency = errors.New("binance: currency not supported by quote asset")

func init() {
	market.Register(Name, func(opts market.Options) (port.MarketData, error) {
		return New(opts)
	})
}

type ticker struct {
	price     float64
	change    float64
	hasChange bool
	ts        int64
}

type Feed struct {
	wsURL   string
	quote   string
	symbols map[string]string

	mu     sync.RWMutex
	latest map[string]ticker // 交易对 -> 最新报价
}

func New(opts market.Options) (*Feed, error) {
	if strings.TrimSpace(opts.WsURL) == "" {
		return nil, errors.New("binance ws url empty")
	}
	quote := strings.ToUpper(strings.TrimSpace(opts.Quote))
	if quote == "" {
		quote = "USDT"
	}
	return &Feed{
		wsURL:   strings.TrimSpace(opts.WsURL),
		quote:   quote,
		symbols: opts.Symbols,
		latest:  make(map[string]ticker),
	}, nil
}

func (f *Feed) Name() string { return Name }

// pair 资产ID -> 交易对，如 bitcoin -> BTCUSDT
func (f *Feed) pair(assetID string) (string, bool) {
	sym, ok := market.SymbolFor(f.symbols, assetID)
	if !ok {
		return "", false
	}
	return sym + f.quote, true
}

// accepts reports whether currency is served by the quote asset; USD is
// treated as any USD stablecoin.
func (f *Feed) accepts(currency string) bool {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == f.quote {
		return true
	}
	return cur == "USD" && strings.HasPrefix(f.quote, "USD")
}

// GetPrices answers from the last streamed tickers. Pairs never seen are omitted.
func (f *Feed) GetPrices(ctx context.Context, assetIDs []string, currency string) (map[string]model.Quote, error) {
	if !f.accepts(currency) {
		return nil, fmt.Errorf("%w: %s vs %s", ErrUnsupportedCurrency, currency, f.quote)
	}
	out := make(map[string]model.Quote, len(assetIDs))

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, id := range assetIDs {
		p, ok := f.pair(id)
		if !ok {
			continue
		}
		t, ok := f.latest[p]
		if !ok {
			continue
		}
		out[id] = model.Quote{AssetID: id, Price: t.price, Change24h: t.change, HasChange24h: t.hasChange, Ts: t.ts}
	}
	return out, nil
}

type combinedMsg struct {
	Stream string  `json:"stream"`
	Data   miniMsg `json:"data"`
}

type miniMsg struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Open      string `json:"o"`
}

func (f *Feed) handleMessage(b []byte) {
	var msg combinedMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Error().Str("feed", Name).Err(err).Msg("json unmarshal failed")
		return
	}
	sym := strings.ToUpper(msg.Data.Symbol)
	px, err := strconv.ParseFloat(strings.TrimSpace(msg.Data.Close), 64)
	if sym == "" || err != nil {
		return
	}

	t := ticker{price: px, ts: msg.Data.EventTime}
	if t.ts == 0 {
		t.ts = time.Now().UnixMilli()
	}
	// miniTicker 为 24h 滚动窗口，开盘价即 24h 前价格
	if open, err := strconv.ParseFloat(strings.TrimSpace(msg.Data.Open), 64); err == nil && open > 0 {
		t.change = (px - open) / open * 100
		t.hasChange = true
	}

	f.mu.Lock()
	f.latest[sym] = t
	f.mu.Unlock()
}

func (f *Feed) pairs() []string {
	seen := make(map[string]struct{}, len(f.symbols))
	out := make([]string, 0, len(f.symbols))
	for id := range f.symbols {
		p, ok := f.pair(id)
		if !ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func buildCombinedURL(base string, pairs []string) (string, error) {
	if base == "" {
		return "", errors.New("binance ws_base empty")
	}
	streams := make([]string, 0, len(pairs))
	for _, s := range pairs {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		streams = append(streams, s+"@miniTicker")
	}
	if len(streams) == 0 {
		return "", errors.New("no valid symbols")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// Run streams the configured pairs until ctx is done, reconnecting with backoff.
func (f *Feed) Run(ctx context.Context) {
	wsURL, err := buildCombinedURL(f.wsURL, f.pairs())
	if err != nil {
		log.Error().Str("feed", Name).Err(err).Msg("binance feed disabled")
		return
	}

	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		log.Info().Str("feed", Name).Str("url", wsURL).Msg("ws connecting")
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, wsURL, nil)
		cancel()
		if err != nil {
			log.Error().Str("feed", Name).Err(err).Msg("ws dial failed")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("feed", Name).Msg("ws connected")

		err = readLoop(ctx, conn, f.handleMessage)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}

		log.Warn().Str("feed", Name).Err(err).Msg("ws disconnected, reconnecting")
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = minDur(backoff*2, maxBackoff)
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

var _ market.Runner = (*Feed)(nil)
