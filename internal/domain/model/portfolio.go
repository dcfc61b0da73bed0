package model

import "time"

// Holding 用户持仓，每个 AssetID 唯一
type Holding struct {
	AssetID  string  `json:"assetId"`
	Quantity float64 `json:"quantity"`
	BuyPrice float64 `json:"buyPrice,omitempty"`
	Name     string  `json:"name,omitempty"`
	Image    string  `json:"image,omitempty"`
}

// AllocationLogEntry 资金分配记录（LP、借贷、质押等）
type AllocationLogEntry struct {
	ID             string   `json:"id"`
	Category       string   `json:"categoria"`
	Asset          string   `json:"moeda"`
	Quantity       float64  `json:"quantidade"`
	SecondAsset    string   `json:"moeda2,omitempty"`
	SecondQuantity *float64 `json:"quantidade2,omitempty"`
	ProtocolName   string   `json:"nomeProtocolo"`
	ProtocolURL    string   `json:"protocolUrl,omitempty"`
	WalletRef      string   `json:"wallet"`
	Color          string   `json:"color,omitempty"`
	Timestamp      int64    `json:"timestamp,omitempty"`
}

// Snapshot is the only unit of synchronization. It is always synced whole.
// Slice order is significant: it drives render order.
type Snapshot struct {
	Holdings       []Holding            `json:"portfolioItems"`
	AllocationLogs []AllocationLogEntry `json:"allocationLogs"`
	Alerts         []Alert              `json:"alerts"`
}

// Clone returns a deep copy so callers never share backing arrays with the store.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Holdings:       make([]Holding, len(s.Holdings)),
		AllocationLogs: make([]AllocationLogEntry, len(s.AllocationLogs)),
		Alerts:         make([]Alert, len(s.Alerts)),
	}
	copy(out.Holdings, s.Holdings)
	for i, e := range s.AllocationLogs {
		if e.SecondQuantity != nil {
			q := *e.SecondQuantity
			e.SecondQuantity = &q
		}
		out.AllocationLogs[i] = e
	}
	for i, a := range s.Alerts {
		out.Alerts[i] = a.Clone()
	}
	return out
}

// Normalized replaces nil slices with empty ones.
func (s Snapshot) Normalized() Snapshot {
	if s.Holdings == nil {
		s.Holdings = []Holding{}
	}
	if s.AllocationLogs == nil {
		s.AllocationLogs = []AllocationLogEntry{}
	}
	if s.Alerts == nil {
		s.Alerts = []Alert{}
	}
	return s
}

func (s Snapshot) Empty() bool {
	return len(s.Holdings) == 0 && len(s.AllocationLogs) == 0 && len(s.Alerts) == 0
}

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Profile holds fields that only the remote side ever writes.
type Profile struct {
	Tier Tier `json:"tier"`
	Role Role `json:"role"`
}

// ProfileRecord is the persisted remote record for one owner.
type ProfileRecord struct {
	OwnerID   string
	Snapshot  Snapshot
	Tier      Tier
	Role      Role
	UpdatedAt time.Time
}
