package portfolio

import (
	"errors"
	"math"
	"testing"
	"time"

	"cryptofolio/internal/domain/model"
	"cryptofolio/internal/pkg/clock"
)

func newTestStore() (*Store, *clock.Manual) {
	clk := clock.NewManual(time.UnixMilli(1_700_000_000_000))
	return NewStore(clk), clk
}

func TestUpsertHolding_KeepsPosition(t *testing.T) {
	s, _ := newTestStore()
	for _, id := range []string{"bitcoin", "ethereum", "solana"} {
		if err := s.UpsertHolding(model.Holding{AssetID: id, Quantity: 1}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	if err := s.UpsertHolding(model.Holding{AssetID: "ethereum", Quantity: 3, BuyPrice: 2000}); err != nil {
		t.Fatalf("update: %v", err)
	}

	h := s.Snapshot().Holdings
	if len(h) != 3 || h[1].AssetID != "ethereum" || h[1].Quantity != 3 {
		t.Fatalf("unexpected holdings: %+v", h)
	}
}

func TestUpsertHolding_Validation(t *testing.T) {
	s, _ := newTestStore()
	if err := s.UpsertHolding(model.Holding{AssetID: "  "}); !errors.Is(err, ErrInvalidHolding) {
		t.Fatalf("expected ErrInvalidHolding, got %v", err)
	}
	if err := s.UpsertHolding(model.Holding{AssetID: "bitcoin", Quantity: -1}); !errors.Is(err, ErrInvalidHolding) {
		t.Fatalf("expected ErrInvalidHolding, got %v", err)
	}
}

func TestRejectsNonFiniteNumbers(t *testing.T) {
	s, _ := newTestStore()
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := s.UpsertHolding(model.Holding{AssetID: "bitcoin", Quantity: v}); !errors.Is(err, ErrInvalidHolding) {
			t.Errorf("quantity %v: expected ErrInvalidHolding, got %v", v, err)
		}
		if err := s.UpsertHolding(model.Holding{AssetID: "bitcoin", Quantity: 1, BuyPrice: v}); !errors.Is(err, ErrInvalidHolding) {
			t.Errorf("buy price %v: expected ErrInvalidHolding, got %v", v, err)
		}
		if _, err := s.AddAllocation(model.AllocationLogEntry{Asset: "ETH", Quantity: v}); !errors.Is(err, ErrInvalidAllocation) {
			t.Errorf("allocation %v: expected ErrInvalidAllocation, got %v", v, err)
		}
		second := v
		if _, err := s.AddAllocation(model.AllocationLogEntry{Asset: "ETH", Quantity: 1, SecondQuantity: &second}); !errors.Is(err, ErrInvalidAllocation) {
			t.Errorf("second quantity %v: expected ErrInvalidAllocation, got %v", v, err)
		}
		if _, err := s.AddAlert(model.Alert{AssetID: "bitcoin", Type: model.AlertAbove, TargetValue: v}); !errors.Is(err, ErrInvalidAlert) {
			t.Errorf("target %v: expected ErrInvalidAlert, got %v", v, err)
		}
	}

	id, err := s.AddAllocation(model.AllocationLogEntry{Asset: "ETH", Quantity: 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.UpdateAllocationQuantity(id, math.NaN()); !errors.Is(err, ErrInvalidAllocation) {
		t.Errorf("expected ErrInvalidAllocation, got %v", err)
	}
	if got := s.Snapshot(); len(got.Holdings) != 0 || len(got.Alerts) != 0 || got.AllocationLogs[0].Quantity != 1 {
		t.Fatalf("rejected values leaked into the snapshot: %+v", got)
	}
}

func TestUpsertHolding_FreeTierCap(t *testing.T) {
	s, _ := newTestStore()
	for _, id := range []string{"bitcoin", "ethereum", "solana"} {
		if err := s.UpsertHolding(model.Holding{AssetID: id, Quantity: 1}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	calls := 0
	s.Subscribe(func(Change) { calls++ })
	if err := s.UpsertHolding(model.Holding{AssetID: "cardano", Quantity: 1}); !errors.Is(err, ErrHoldingLimit) {
		t.Fatalf("expected ErrHoldingLimit, got %v", err)
	}
	if len(s.Snapshot().Holdings) != 3 || calls != 0 {
		t.Fatalf("rejected asset must not be stored or announced")
	}
	if err := s.UpsertHolding(model.Holding{AssetID: "solana", Quantity: 5}); err != nil {
		t.Fatalf("updating a held asset must pass the cap: %v", err)
	}

	s.ApplyProfile(model.TierPremium, "")
	if err := s.UpsertHolding(model.Holding{AssetID: "cardano", Quantity: 1}); err != nil {
		t.Fatalf("premium should be unlimited: %v", err)
	}
}

func TestRemoveHolding(t *testing.T) {
	s, _ := newTestStore()
	_ = s.UpsertHolding(model.Holding{AssetID: "bitcoin", Quantity: 1})

	if !s.RemoveHolding("bitcoin") {
		t.Fatal("expected removal")
	}
	if s.RemoveHolding("bitcoin") {
		t.Fatal("second removal should report false")
	}
}

func TestAllocationLifecycle(t *testing.T) {
	s, clk := newTestStore()
	id, err := s.AddAllocation(model.AllocationLogEntry{Category: "staking", Asset: "ETH", Quantity: 2})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}
	logs := s.Snapshot().AllocationLogs
	if len(logs) != 1 || logs[0].Timestamp != clk.Now().UnixMilli() {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	if err := s.UpdateAllocationQuantity(id, 5); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := s.Snapshot().AllocationLogs[0].Quantity; got != 5 {
		t.Fatalf("expected 5, got %v", got)
	}
	if err := s.UpdateAllocationQuantity("missing", 1); !errors.Is(err, ErrAllocationNotFound) {
		t.Fatalf("expected ErrAllocationNotFound, got %v", err)
	}
	if !s.RemoveAllocation(id) {
		t.Fatal("expected removal")
	}
}

func TestAddAlert_FreeTierLimit(t *testing.T) {
	s, clk := newTestStore()
	id, err := s.AddAlert(model.Alert{AssetID: "bitcoin", Type: model.AlertAbove, TargetValue: 1, Currency: " BRL "})
	if err != nil {
		t.Fatalf("first alert: %v", err)
	}
	a := s.Snapshot().Alerts[0]
	if a.ID != id || !a.IsActive || a.TriggeredAt != nil || a.Currency != "brl" || a.CreatedAt != clk.Now().UnixMilli() {
		t.Fatalf("unexpected alert: %+v", a)
	}

	if _, err := s.AddAlert(model.Alert{AssetID: "bitcoin", Type: model.AlertBelow}); !errors.Is(err, ErrAlertLimit) {
		t.Fatalf("expected ErrAlertLimit, got %v", err)
	}
	if _, err := s.AddAlert(model.Alert{AssetID: "ethereum", Type: model.AlertBelow}); err != nil {
		t.Fatalf("other asset should be allowed: %v", err)
	}

	s.ApplyProfile(model.TierPremium, "")
	if _, err := s.AddAlert(model.Alert{AssetID: "bitcoin", Type: model.AlertBelow}); err != nil {
		t.Fatalf("premium should be unlimited: %v", err)
	}
}

func TestAddAlert_RejectsUnknownType(t *testing.T) {
	s, _ := newTestStore()
	if _, err := s.AddAlert(model.Alert{AssetID: "bitcoin", Type: "sideways"}); !errors.Is(err, ErrInvalidAlert) {
		t.Fatalf("expected ErrInvalidAlert, got %v", err)
	}
}

func TestHandlers_RunInOrderWithOrigin(t *testing.T) {
	s, _ := newTestStore()
	var seen []string
	s.Subscribe(func(c Change) { seen = append(seen, "first:"+c.Origin.String()) })
	s.Subscribe(func(c Change) { seen = append(seen, "second:"+c.Origin.String()) })

	_ = s.UpsertHolding(model.Holding{AssetID: "bitcoin", Quantity: 1})
	s.Replace(model.Snapshot{}, OriginRemote)

	want := []string{"first:local", "second:local", "first:remote", "second:remote"}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestHandlers_GetPrivateCopy(t *testing.T) {
	s, _ := newTestStore()
	s.Subscribe(func(c Change) {
		if len(c.Snapshot.Holdings) > 0 {
			c.Snapshot.Holdings[0].Quantity = 999
		}
	})
	_ = s.UpsertHolding(model.Holding{AssetID: "bitcoin", Quantity: 1})

	if got := s.Snapshot().Holdings[0].Quantity; got != 1 {
		t.Fatalf("handler leaked a mutation into the store: %v", got)
	}
}

func TestNoChangeNoNotify(t *testing.T) {
	s, _ := newTestStore()
	calls := 0
	s.Subscribe(func(Change) { calls++ })

	s.RemoveHolding("nothing")
	s.MutateAlerts(func([]model.Alert) bool { return false })
	if calls != 0 {
		t.Fatalf("expected no notifications, got %d", calls)
	}
}

func TestApplyProfileAndReset(t *testing.T) {
	s, _ := newTestStore()
	if s.ApplyProfile("", "") {
		t.Fatal("empty profile must not change anything")
	}
	if !s.ApplyProfile(model.TierPremium, model.RoleAdmin) {
		t.Fatal("expected change")
	}
	if p := s.Profile(); p.Tier != model.TierPremium || p.Role != model.RoleAdmin {
		t.Fatalf("unexpected profile: %+v", p)
	}

	_ = s.UpsertHolding(model.Holding{AssetID: "bitcoin", Quantity: 1})
	s.Reset()
	if len(s.Snapshot().Holdings) != 0 || s.Profile().Tier != model.TierFree {
		t.Fatal("reset should clear snapshot and profile")
	}
}
