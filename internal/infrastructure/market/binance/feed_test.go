package binance

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"cryptofolio/internal/infrastructure/market"
)

func newTestFeed(t *testing.T) *Feed {
	t.Helper()
	f, err := New(market.Options{
		WsURL:   "wss://stream.binance.com:9443",
		Quote:   "usdt",
		Symbols: map[string]string{"bitcoin": "BTC", "ethereum": "ETH"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return f
}

func TestHandleMessageAndGetPrices(t *testing.T) {
	f := newTestFeed(t)
	f.handleMessage([]byte(`{"stream":"btcusdt@miniTicker","data":{"E":1700000000000,"s":"BTCUSDT","c":"110","o":"100"}}`))
	f.handleMessage([]byte(`not json`))

	quotes, err := f.GetPrices(context.Background(), []string{"bitcoin", "ethereum"}, "usd")
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	btc, ok := quotes["bitcoin"]
	if !ok {
		t.Fatal("missing bitcoin quote")
	}
	if btc.Price != 110 || !btc.HasChange24h || math.Abs(btc.Change24h-10) > 1e-9 || btc.Ts != 1700000000000 {
		t.Errorf("unexpected quote %+v", btc)
	}
	if _, ok := quotes["ethereum"]; ok {
		t.Error("ethereum has not streamed yet")
	}
}

func TestGetPricesRejectsOtherCurrency(t *testing.T) {
	f := newTestFeed(t)
	if _, err := f.GetPrices(context.Background(), []string{"bitcoin"}, "brl"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestBuildCombinedURL(t *testing.T) {
	f := newTestFeed(t)
	u, err := buildCombinedURL(f.wsURL, f.pairs())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@miniTicker/ethusdt@miniTicker"
	if u != want {
		t.Errorf("got %s want %s", u, want)
	}
	if _, err := buildCombinedURL(f.wsURL, nil); err == nil || !strings.Contains(err.Error(), "no valid symbols") {
		t.Errorf("expected no valid symbols error, got %v", err)
	}
}
