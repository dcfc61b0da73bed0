// Package cryptocompare 基于 REST pricemultifull 接口的行情提供者。
package cryptocompare

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/domain/model"
	"cryptofolio/internal/infrastructure/market"
)

const Name = "cryptocompare"

func init() {
	market.Register(Name, func(opts market.Options) (port.MarketData, error) {
		return New(opts), nil
	})
}

type Provider struct {
	base    string
	symbols map[string]string
	hc      *http.Client
}

func New(opts market.Options) *Provider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Provider{
		base:    strings.TrimRight(opts.RestURL, "/"),
		symbols: opts.Symbols,
		hc: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

func (p *Provider) Name() string { return Name }

type rawQuote struct {
	Price           float64  `json:"PRICE"`
	ChangePct24Hour *float64 `json:"CHANGEPCT24HOUR"`
	LastUpdate      int64    `json:"LASTUPDATE"`
}

type multiFullResp struct {
	Response string                         `json:"Response"`
	Message  string                         `json:"Message"`
	Raw      map[string]map[string]rawQuote `json:"RAW"`
}

func (p *Provider) GetPrices(ctx context.Context, assetIDs []string, currency string) (map[string]model.Quote, error) {
	out := make(map[string]model.Quote, len(assetIDs))
	bySym := make(map[string][]string)
	syms := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		sym, ok := market.SymbolFor(p.symbols, id)
		if !ok {
			continue
		}
		if _, seen := bySym[sym]; !seen {
			syms = append(syms, sym)
		}
		bySym[sym] = append(bySym[sym], id)
	}
	if len(syms) == 0 {
		return out, nil
	}

	cur := strings.ToUpper(currency)
	q := url.Values{}
	q.Set("fsyms", strings.Join(syms, ","))
	q.Set("tsyms", cur)

	var resp multiFullResp
	if err := p.getJSON(ctx, "/data/pricemultifull?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("cryptocompare: %w", err)
	}
	if strings.EqualFold(resp.Response, "Error") {
		return nil, fmt.Errorf("cryptocompare: %s", resp.Message)
	}

	for sym, ids := range bySym {
		raw, ok := resp.Raw[sym][cur]
		if !ok {
			continue
		}
		quote := model.Quote{Price: raw.Price, Ts: raw.LastUpdate * 1000}
		if raw.ChangePct24Hour != nil {
			quote.Change24h = *raw.ChangePct24Hour
			quote.HasChange24h = true
		}
		for _, id := range ids {
			quote.AssetID = id
			out[id] = quote
		}
	}
	return out, nil
}

func (p *Provider) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+path, nil)
	if err != nil {
		return err
	}
	res, err := p.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("http %d: %s", res.StatusCode, string(b))
	}
	return json.NewDecoder(res.Body).Decode(v)
}
