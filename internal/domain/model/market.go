package model

// Quote 单个资产在某计价货币下的行情
type Quote struct {
	AssetID      string
	Price        float64
	Change24h    float64 // percent
	HasChange24h bool
	Ts           int64 // unix ms
}
