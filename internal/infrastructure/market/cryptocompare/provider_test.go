package cryptocompare

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"cryptofolio/internal/infrastructure/market"
)

func TestGetPrices(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.URL.Path != "/data/pricemultifull" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"RAW":{
			"BTC":{"BRL":{"PRICE":350000.5,"CHANGEPCT24HOUR":-2.5,"LASTUPDATE":1700000000}},
			"ETH":{"BRL":{"PRICE":12000}}
		}}`))
	}))
	defer srv.Close()

	p := New(market.Options{RestURL: srv.URL, Symbols: map[string]string{"bitcoin": "BTC", "ethereum": "ETH"}})
	quotes, err := p.GetPrices(context.Background(), []string{"bitcoin", "ethereum", "some-long-unknown-id"}, "brl")
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}

	if gotQuery != "fsyms=BTC%2CETH&tsyms=BRL" {
		t.Errorf("unexpected query %s", gotQuery)
	}
	btc, ok := quotes["bitcoin"]
	if !ok || btc.Price != 350000.5 || !btc.HasChange24h || btc.Change24h != -2.5 || btc.Ts != 1700000000000 {
		t.Errorf("unexpected bitcoin quote %+v", btc)
	}
	eth, ok := quotes["ethereum"]
	if !ok || eth.Price != 12000 || eth.HasChange24h {
		t.Errorf("unexpected ethereum quote %+v", eth)
	}
	if len(quotes) != 2 {
		t.Errorf("expected 2 quotes, got %d", len(quotes))
	}
}

func TestGetPricesErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Response":"Error","Message":"rate limit"}`))
	}))
	defer srv.Close()

	p := New(market.Options{RestURL: srv.URL})
	if _, err := p.GetPrices(context.Background(), []string{"btc"}, "usd"); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetPricesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := New(market.Options{RestURL: srv.URL})
	if _, err := p.GetPrices(context.Background(), []string{"btc"}, "usd"); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetPricesNothingToFetch(t *testing.T) {
	p := New(market.Options{RestURL: "http://127.0.0.1:1"})
	quotes, err := p.GetPrices(context.Background(), []string{"a-very-long-asset-id"}, "usd")
	if err != nil || len(quotes) != 0 {
		t.Fatalf("expected empty result, got %v %v", quotes, err)
	}
}
