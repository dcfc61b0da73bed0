package service

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"cryptofolio/internal/domain/model"
)

// DefaultEpsilon keeps boundary prices from slipping through float equality.
const DefaultEpsilon = 1e-8

var (
	// ErrAlertLimit is returned when the owner's tier does not allow another alert.
	ErrAlertLimit = errors.New("alert limit reached for tier")
	// ErrHoldingLimit is returned when the owner's tier does not allow another asset.
	ErrHoldingLimit = errors.New("holding limit reached for tier")
)

const (
	// FreeAlertsPerAsset 免费版每个资产最多一个提醒
	FreeAlertsPerAsset = 1
	// FreeMaxHoldings 免费版最多持有的资产数
	FreeMaxHoldings = 3
)

// EvaluateAlert 判断提醒是否应触发，返回是否触发及提示文案
func EvaluateAlert(a model.Alert, q model.Quote, eps float64) (bool, string) {
	if eps < 0 {
		eps = DefaultEpsilon
	}
	sign := model.CurrencySign(a.Currency)
	switch a.Type {
	case model.AlertAbove:
		if q.Price >= a.TargetValue+eps {
			return true, fmt.Sprintf("%s rose to %s%s, above target %s%s",
				a.Symbol, sign, formatPrice(q.Price), sign, formatPrice(a.TargetValue))
		}
	case model.AlertBelow:
		if q.Price <= a.TargetValue-eps {
			return true, fmt.Sprintf("%s fell to %s%s, below target %s%s",
				a.Symbol, sign, formatPrice(q.Price), sign, formatPrice(a.TargetValue))
		}
	case model.AlertPercentChange:
		if !q.HasChange24h {
			return false, ""
		}
		if math.Abs(q.Change24h) >= math.Abs(a.TargetValue) {
			return true, fmt.Sprintf("%s moved %.2f%% in 24h (alert set at %s%%)",
				a.Symbol, q.Change24h, formatPrice(a.TargetValue))
		}
	}
	return false, ""
}

// CanAddAlert applies the per-tier alert quota.
func CanAddAlert(tier model.Tier, existing []model.Alert, assetID string) error {
	if tier == model.TierPremium {
		return nil
	}
	n := 0
	for _, a := range existing {
		if a.AssetID == assetID {
			n++
		}
	}
	if n >= FreeAlertsPerAsset {
		return fmt.Errorf("%w: free plan allows %d alert per asset", ErrAlertLimit, FreeAlertsPerAsset)
	}
	return nil
}

// CanAddHolding applies the per-tier asset cap. Updating an asset already
// held never counts against it.
func CanAddHolding(tier model.Tier, existing []model.Holding, assetID string) error {
	if tier == model.TierPremium {
		return nil
	}
	for _, h := range existing {
		if h.AssetID == assetID {
			return nil
		}
	}
	if len(existing) >= FreeMaxHoldings {
		return fmt.Errorf("%w: free plan allows %d assets", ErrHoldingLimit, FreeMaxHoldings)
	}
	return nil
}

// TriggerNotice builds the system notification title and body for a triggered alert.
func TriggerNotice(a model.Alert) (title, body string) {
	title = "CryptoFolio ALERT"
	sign := model.CurrencySign(a.Currency)
	switch a.Type {
	case model.AlertAbove:
		body = fmt.Sprintf("%s hit its target: above %s%s", a.Symbol, sign, formatPrice(a.TargetValue))
	case model.AlertBelow:
		body = fmt.Sprintf("%s hit its target: below %s%s", a.Symbol, sign, formatPrice(a.TargetValue))
	default:
		body = fmt.Sprintf("%s moved more than %s%% in 24h", a.Symbol, formatPrice(math.Abs(a.TargetValue)))
	}
	return title, body
}

// formatPrice 以最短的精确十进制形式输出，避免 1e+06 之类的科学计数法
func formatPrice(v float64) string {
	return decimal.NewFromFloat(v).String()
}
