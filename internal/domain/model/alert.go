package model

import (
	"fmt"
	"strings"
)

type AlertType string

const (
	AlertAbove         AlertType = "above"
	AlertBelow         AlertType = "below"
	AlertPercentChange AlertType = "percent_change"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertAbove, AlertBelow, AlertPercentChange:
		return true
	}
	return false
}

// Alert 价格提醒
//
// 生命周期: active(untriggered) -> active(triggered) -> inactive。
// CreatedAt / TriggeredAt 均为 unix 毫秒。
type Alert struct {
	ID          string    `json:"id"`
	AssetID     string    `json:"assetId"`
	Symbol      string    `json:"symbol"`
	Type        AlertType `json:"type"`
	TargetValue float64   `json:"targetValue"`
	Currency    string    `json:"currency"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   int64     `json:"createdAt"`
	TriggeredAt *int64    `json:"triggeredAt,omitempty"`
}

func (a Alert) Clone() Alert {
	if a.TriggeredAt != nil {
		ts := *a.TriggeredAt
		a.TriggeredAt = &ts
	}
	return a
}

func (a Alert) Triggered() bool { return a.TriggeredAt != nil }

// TriggerKey identifies one trigger pulse of an alert.
func (a Alert) TriggerKey() string {
	if a.TriggeredAt == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", a.ID, *a.TriggeredAt)
}

// CurrencySign maps a quote currency to its display sign.
func CurrencySign(currency string) string {
	switch strings.ToLower(currency) {
	case "brl":
		return "R$"
	case "eur":
		return "€"
	default:
		return "$"
	}
}
