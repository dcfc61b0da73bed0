package port

import (
	"context"

	"cryptofolio/internal/domain/model"
)

// MarketData 行情提供者，尽力而为，不做重试
type MarketData interface {
	Name() string
	// GetPrices returns quotes keyed by asset id. Unknown ids are omitted.
	GetPrices(ctx context.Context, assetIDs []string, currency string) (map[string]model.Quote, error)
}
