package service

import (
	"math"
	"strings"
	"testing"

	"cryptofolio/internal/domain/model"
)

func sampleSnapshot() model.Snapshot {
	return model.Snapshot{
		Holdings: []model.Holding{
			{AssetID: "bitcoin", Quantity: 1, BuyPrice: 30000, Name: "Bitcoin"},
			{AssetID: "ethereum", Quantity: 2.5, BuyPrice: 1800, Name: "Ethereum"},
		},
		AllocationLogs: []model.AllocationLogEntry{
			{ID: "a1", Category: "lp", Asset: "ETH", Quantity: 1, ProtocolName: "Uniswap", WalletRef: "main"},
		},
		Alerts: []model.Alert{
			{ID: "x1", AssetID: "bitcoin", Symbol: "BTC", Type: model.AlertAbove, TargetValue: 100000, Currency: "usd", IsActive: true, CreatedAt: 1},
		},
	}
}

func TestFingerprintStable(t *testing.T) {
	s := sampleSnapshot()
	a := Fingerprint(s)
	b := Fingerprint(s)
	if a != b {
		t.Fatalf("fingerprint not stable: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %q", a)
	}
	if Fingerprint(s.Clone()) != a {
		t.Errorf("clone must fingerprint identically")
	}
}

func TestFingerprintOrderSensitive(t *testing.T) {
	s := sampleSnapshot()
	swapped := s.Clone()
	swapped.Holdings[0], swapped.Holdings[1] = swapped.Holdings[1], swapped.Holdings[0]

	if Fingerprint(s) == Fingerprint(swapped) {
		t.Fatal("reordered holdings must change the fingerprint")
	}
}

func TestFingerprintContentSensitive(t *testing.T) {
	base := sampleSnapshot()
	cases := map[string]func(*model.Snapshot){
		"quantity": func(s *model.Snapshot) { s.Holdings[0].Quantity = 1.0000001 },
		"allocation": func(s *model.Snapshot) {
			s.AllocationLogs[0].Quantity = 3
		},
		"trigger": func(s *model.Snapshot) {
			ts := int64(42)
			s.Alerts[0].TriggeredAt = &ts
		},
		"inactive": func(s *model.Snapshot) { s.Alerts[0].IsActive = false },
		"appended": func(s *model.Snapshot) {
			s.Holdings = append(s.Holdings, model.Holding{AssetID: "solana", Quantity: 1})
		},
	}
	want := Fingerprint(base)
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := base.Clone()
			mutate(&s)
			if Fingerprint(s) == want {
				t.Errorf("mutation %q did not change fingerprint", name)
			}
		})
	}
}

func TestFingerprintNonFinite(t *testing.T) {
	withNaN := model.Snapshot{Holdings: []model.Holding{{AssetID: "bitcoin", Quantity: math.NaN()}}}
	fp1 := Fingerprint(withNaN)
	if strings.HasPrefix(fp1, "invalid:") || len(fp1) != 16 {
		t.Fatalf("expected a digest, got %q", fp1)
	}
	if Fingerprint(withNaN.Clone()) != fp1 {
		t.Error("non-finite snapshot must still fingerprint deterministically")
	}

	more := withNaN.Clone()
	more.Holdings = append(more.Holdings, model.Holding{AssetID: "ethereum", Quantity: 1})
	if Fingerprint(more) == fp1 {
		t.Error("adding a holding next to a NaN must change the fingerprint")
	}

	zero := model.Snapshot{Holdings: []model.Holding{{AssetID: "bitcoin", Quantity: 0}}}
	if Fingerprint(zero) == fp1 {
		t.Error("NaN and 0 must not collide")
	}
	inf := model.Snapshot{Holdings: []model.Holding{{AssetID: "bitcoin", Quantity: math.Inf(1)}}}
	if Fingerprint(inf) == fp1 {
		t.Error("NaN and +Inf must not collide")
	}
}

func TestFingerprintNilEqualsEmpty(t *testing.T) {
	empty := model.Snapshot{Holdings: []model.Holding{}, AllocationLogs: []model.AllocationLogEntry{}, Alerts: []model.Alert{}}
	if Fingerprint(model.Snapshot{}) != Fingerprint(empty) {
		t.Fatal("nil and empty slices should fingerprint the same")
	}
}
