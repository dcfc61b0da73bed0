// Package market 行情提供者注册表；具体实现在子包中通过 init() 自注册。
package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/port"
)

// Options 构造行情提供者所需的配置
type Options struct {
	RestURL string
	WsURL   string
	Quote   string            // 交易所计价币，如 USDT
	Symbols map[string]string // 资产ID -> 代码，如 bitcoin -> BTC
	Timeout time.Duration
}

// Runner is implemented by streaming providers that need a background loop.
type Runner interface {
	Run(ctx context.Context)
}

type Factory func(opts Options) (port.MarketData, error)

var registry = make(map[string]Factory)

// Register 由各提供者包的 init() 调用
func Register(name string, factory Factory) {
	if factory == nil {
		log.Warn().Str("provider", name).Msg("invalid market data factory")
		return
	}
	if _, exists := registry[name]; exists {
		log.Warn().Str("provider", name).Msg("market data factory already registered, overwriting")
	}
	registry[name] = factory
}

func Get(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}

// New builds the named provider.
func New(name string, opts Options) (port.MarketData, error) {
	f, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("market provider %q not registered (have %s)", name, strings.Join(Names(), ","))
	}
	return f(opts)
}

func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SymbolFor resolves the ticker symbol of an asset id. Ids without a mapping
// fall back to their upper-cased form when short enough to be a ticker.
func SymbolFor(symbols map[string]string, assetID string) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(assetID))
	if sym, ok := symbols[id]; ok {
		return sym, true
	}
	if id == "" || len(id) > 6 {
		return "", false
	}
	return strings.ToUpper(id), true
}
