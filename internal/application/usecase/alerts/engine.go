package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/domain/model"
	domainservice "cryptofolio/internal/domain/service"
	"cryptofolio/internal/pkg/clock"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultRetention    = 5 * time.Minute
)

// ErrTransientFetch wraps price-oracle failures; the cycle skips the group.
var ErrTransientFetch = errors.New("market data unavailable")

// AlertStore is the part of the local store the engine works on.
type AlertStore interface {
	Snapshot() model.Snapshot
	MutateAlerts(fn func(alerts []model.Alert) bool) bool
}

type EngineConfig struct {
	PollInterval time.Duration
	Retention    time.Duration
	Epsilon      float64
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.Epsilon <= 0 {
		c.Epsilon = domainservice.DefaultEpsilon
	}
	return c
}

// Engine 周期性评估价格提醒
type Engine struct {
	store   AlertStore
	market  port.MarketData
	clk     clock.Clock
	metrics port.Metrics
	cfg     EngineConfig
}

func NewEngine(store AlertStore, market port.MarketData, clk clock.Clock, metrics port.Metrics, cfg EngineConfig) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	if metrics == nil {
		metrics = port.NoopMetrics{}
	}
	return &Engine{store: store, market: market, clk: clk, metrics: metrics, cfg: cfg.withDefaults()}
}

// Run evaluates alerts every poll interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clk.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	log.Info().
		Str("provider", e.market.Name()).
		Dur("poll_interval", e.cfg.PollInterval).
		Msg("alert engine started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			e.RunCycle(ctx)
		}
	}
}

// RunCycle performs one cleanup + evaluation pass. Errors never escape.
func (e *Engine) RunCycle(ctx context.Context) {
	e.cleanup()

	pending := activeUntriggered(e.store.Snapshot().Alerts)
	if len(pending) == 0 {
		return
	}

	for _, group := range groupByCurrency(pending) {
		quotes, err := e.fetch(ctx, group.currency, group.assetIDs)
		if err != nil {
			log.Warn().Err(err).Str("currency", group.currency).Msg("alert check failed")
			continue
		}

		triggered := map[string]string{}
		for _, a := range group.alerts {
			q, ok := quotes[a.AssetID]
			if !ok {
				continue
			}
			if hit, msg := domainservice.EvaluateAlert(a, q, e.cfg.Epsilon); hit {
				triggered[a.ID] = msg
			}
		}
		if len(triggered) > 0 {
			e.markTriggered(triggered)
		}
	}
}

func (e *Engine) fetch(ctx context.Context, currency string, ids []string) (map[string]model.Quote, error) {
	quotes, err := e.market.GetPrices(ctx, ids, currency)
	if err != nil {
		e.metrics.FetchFailed(e.market.Name())
		return nil, fmt.Errorf("%w: %s: %v", ErrTransientFetch, e.market.Name(), err)
	}
	return quotes, nil
}

func (e *Engine) markTriggered(msgs map[string]string) {
	now := e.clk.Now().UnixMilli()
	e.store.MutateAlerts(func(alerts []model.Alert) bool {
		changed := false
		for i := range alerts {
			a := &alerts[i]
			msg, ok := msgs[a.ID]
			if !ok || !a.IsActive || a.TriggeredAt != nil {
				continue
			}
			ts := now
			a.TriggeredAt = &ts
			changed = true
			e.metrics.AlertTriggered(string(a.Type))
			log.Info().Str("alert", a.ID).Str("symbol", a.Symbol).Msg(msg)
		}
		return changed
	})
}

// cleanup deactivates alerts whose trigger is older than the retention window.
// TriggeredAt is kept as history.
func (e *Engine) cleanup() {
	now := e.clk.Now().UnixMilli()
	retention := e.cfg.Retention.Milliseconds()

	needs := false
	for _, a := range e.store.Snapshot().Alerts {
		if expired(a, now, retention) {
			needs = true
			break
		}
	}
	if !needs {
		return
	}

	e.store.MutateAlerts(func(alerts []model.Alert) bool {
		changed := false
		for i := range alerts {
			if expired(alerts[i], now, retention) {
				alerts[i].IsActive = false
				changed = true
				e.metrics.AlertDeactivated()
			}
		}
		return changed
	})
}

func expired(a model.Alert, now, retention int64) bool {
	return a.IsActive && a.TriggeredAt != nil && now-*a.TriggeredAt > retention
}

func activeUntriggered(all []model.Alert) []model.Alert {
	out := make([]model.Alert, 0, len(all))
	for _, a := range all {
		if a.IsActive && a.TriggeredAt == nil {
			out = append(out, a)
		}
	}
	return out
}

type currencyGroup struct {
	currency string
	alerts   []model.Alert
	assetIDs []string
}

// groupByCurrency keeps first-appearance order for currencies and asset ids.
func groupByCurrency(alerts []model.Alert) []*currencyGroup {
	var order []*currencyGroup
	byCur := map[string]*currencyGroup{}
	seen := map[string]map[string]struct{}{}
	for _, a := range alerts {
		g, ok := byCur[a.Currency]
		if !ok {
			g = &currencyGroup{currency: a.Currency}
			byCur[a.Currency] = g
			seen[a.Currency] = map[string]struct{}{}
			order = append(order, g)
		}
		g.alerts = append(g.alerts, a)
		if _, dup := seen[a.Currency][a.AssetID]; !dup {
			seen[a.Currency][a.AssetID] = struct{}{}
			g.assetIDs = append(g.assetIDs, a.AssetID)
		}
	}
	return order
}
