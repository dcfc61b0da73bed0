package portfolio

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"cryptofolio/internal/domain/model"
	domainservice "cryptofolio/internal/domain/service"
	"cryptofolio/internal/pkg/clock"
)

var (
	ErrInvalidHolding     = errors.New("invalid holding")
	ErrInvalidAllocation  = errors.New("invalid allocation entry")
	ErrAllocationNotFound = errors.New("allocation entry not found")
	ErrInvalidAlert       = errors.New("invalid alert")
	ErrAlertLimit         = domainservice.ErrAlertLimit
	ErrHoldingLimit       = domainservice.ErrHoldingLimit
)

// Origin tells handlers where a change came from.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
	OriginCache
)

func (o Origin) String() string {
	switch o {
	case OriginRemote:
		return "remote"
	case OriginCache:
		return "cache"
	default:
		return "local"
	}
}

// Change is the stateChanged event.
type Change struct {
	Snapshot model.Snapshot
	Origin   Origin
}

type Handler func(Change)

// Store 本地内存快照（持仓 / 分配记录 / 提醒）
//
// Mutations are serialized and visible as soon as the call returns. After
// each mutation every handler runs in registration order with a private copy
// of the new snapshot. Handlers must not mutate the store.
type Store struct {
	writeMu sync.Mutex // 串行化 变更+通知

	mu       sync.RWMutex
	snap     model.Snapshot
	profile  model.Profile
	handlers []Handler

	clk clock.Clock
}

func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		snap:    model.Snapshot{}.Normalized(),
		profile: model.Profile{Tier: model.TierFree, Role: model.RoleUser},
		clk:     clk,
	}
}

// Subscribe registers a stateChanged handler.
func (s *Store) Subscribe(h Handler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

func (s *Store) Profile() model.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// UpsertHolding adds a holding or updates the existing one in place.
func (s *Store) UpsertHolding(h model.Holding) error {
	h.AssetID = strings.TrimSpace(h.AssetID)
	if h.AssetID == "" || !finite(h.Quantity) || h.Quantity < 0 || !finite(h.BuyPrice) {
		return fmt.Errorf("%w: asset=%q quantity=%v buy_price=%v", ErrInvalidHolding, h.AssetID, h.Quantity, h.BuyPrice)
	}
	var err error
	s.mutate(func(snap *model.Snapshot) bool {
		for i := range snap.Holdings {
			if snap.Holdings[i].AssetID == h.AssetID {
				snap.Holdings[i] = h
				return true
			}
		}
		if err = domainservice.CanAddHolding(s.Profile().Tier, snap.Holdings, h.AssetID); err != nil {
			return false
		}
		snap.Holdings = append(snap.Holdings, h)
		return true
	})
	return err
}

func (s *Store) RemoveHolding(assetID string) bool {
	return s.mutate(func(snap *model.Snapshot) bool {
		for i := range snap.Holdings {
			if snap.Holdings[i].AssetID == assetID {
				snap.Holdings = append(snap.Holdings[:i], snap.Holdings[i+1:]...)
				return true
			}
		}
		return false
	})
}

// AddAllocation appends an entry and returns its generated id.
func (s *Store) AddAllocation(e model.AllocationLogEntry) (string, error) {
	if strings.TrimSpace(e.Asset) == "" || !finite(e.Quantity) || e.Quantity < 0 ||
		(e.SecondQuantity != nil && !finite(*e.SecondQuantity)) {
		return "", fmt.Errorf("%w: asset=%q quantity=%v", ErrInvalidAllocation, e.Asset, e.Quantity)
	}
	e.ID = uuid.NewString()
	if e.Timestamp == 0 {
		e.Timestamp = s.clk.Now().UnixMilli()
	}
	s.mutate(func(snap *model.Snapshot) bool {
		snap.AllocationLogs = append(snap.AllocationLogs, e)
		return true
	})
	return e.ID, nil
}

func (s *Store) UpdateAllocationQuantity(id string, qty float64) error {
	if !finite(qty) || qty < 0 {
		return fmt.Errorf("%w: quantity=%v", ErrInvalidAllocation, qty)
	}
	found := false
	s.mutate(func(snap *model.Snapshot) bool {
		for i := range snap.AllocationLogs {
			if snap.AllocationLogs[i].ID == id {
				found = true
				if snap.AllocationLogs[i].Quantity == qty {
					return false
				}
				snap.AllocationLogs[i].Quantity = qty
				return true
			}
		}
		return false
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrAllocationNotFound, id)
	}
	return nil
}

func (s *Store) RemoveAllocation(id string) bool {
	return s.mutate(func(snap *model.Snapshot) bool {
		for i := range snap.AllocationLogs {
			if snap.AllocationLogs[i].ID == id {
				snap.AllocationLogs = append(snap.AllocationLogs[:i], snap.AllocationLogs[i+1:]...)
				return true
			}
		}
		return false
	})
}

// AddAlert validates the alert against the owner's tier quota, stamps id and
// creation time, and stores it as active and untriggered.
func (s *Store) AddAlert(a model.Alert) (string, error) {
	a.AssetID = strings.TrimSpace(a.AssetID)
	if a.AssetID == "" || !a.Type.Valid() || !finite(a.TargetValue) {
		return "", fmt.Errorf("%w: asset=%q type=%q target=%v", ErrInvalidAlert, a.AssetID, a.Type, a.TargetValue)
	}
	a.Currency = strings.ToLower(strings.TrimSpace(a.Currency))
	if a.Currency == "" {
		a.Currency = "usd"
	}
	a.ID = uuid.NewString()
	a.CreatedAt = s.clk.Now().UnixMilli()
	a.IsActive = true
	a.TriggeredAt = nil

	var err error
	s.mutate(func(snap *model.Snapshot) bool {
		if err = domainservice.CanAddAlert(s.Profile().Tier, snap.Alerts, a.AssetID); err != nil {
			return false
		}
		snap.Alerts = append(snap.Alerts, a)
		return true
	})
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (s *Store) RemoveAlert(id string) bool {
	return s.mutate(func(snap *model.Snapshot) bool {
		for i := range snap.Alerts {
			if snap.Alerts[i].ID == id {
				snap.Alerts = append(snap.Alerts[:i], snap.Alerts[i+1:]...)
				return true
			}
		}
		return false
	})
}

// MutateAlerts lets the alert engine edit alerts in place; fn reports whether
// anything changed.
func (s *Store) MutateAlerts(fn func(alerts []model.Alert) bool) bool {
	return s.mutate(func(snap *model.Snapshot) bool {
		return fn(snap.Alerts)
	})
}

// Replace swaps the whole snapshot, used for cache loads and remote merges.
func (s *Store) Replace(snap model.Snapshot, origin Origin) {
	next := snap.Clone()
	s.apply(origin, func(cur *model.Snapshot) bool {
		*cur = next
		return true
	})
}

// ApplyProfile updates remote-authoritative fields. Empty values are ignored.
func (s *Store) ApplyProfile(tier model.Tier, role model.Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	if tier != "" && tier != s.profile.Tier {
		s.profile.Tier = tier
		changed = true
	}
	if role != "" && role != s.profile.Role {
		s.profile.Role = role
		changed = true
	}
	return changed
}

// Reset returns the store to an empty default state without notifying.
func (s *Store) Reset() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	s.snap = model.Snapshot{}.Normalized()
	s.profile = model.Profile{Tier: model.TierFree, Role: model.RoleUser}
	s.mu.Unlock()
}

func (s *Store) mutate(fn func(*model.Snapshot) bool) bool {
	return s.apply(OriginLocal, fn)
}

func (s *Store) apply(origin Origin, fn func(*model.Snapshot) bool) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	work := s.snap.Clone()
	s.mu.RUnlock()

	if !fn(&work) {
		return false
	}
	work = work.Normalized()

	s.mu.Lock()
	s.snap = work
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(Change{Snapshot: work.Clone(), Origin: origin})
	}
	return true
}

// finite 拒绝 NaN/±Inf：它们无法序列化为 JSON
func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
