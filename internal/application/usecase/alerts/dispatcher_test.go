package alerts

import (
	"sync"
	"testing"
	"time"

	"cryptofolio/internal/domain/model"
	"cryptofolio/internal/pkg/clock"
)

type mockNotifier struct {
	mu       sync.Mutex
	sounds   int
	vibrates int
	titles   []string
	bodies   []string
}

func (m *mockNotifier) PlaySound(volume float64, d time.Duration) error {
	m.mu.Lock()
	m.sounds++
	m.mu.Unlock()
	return nil
}

func (m *mockNotifier) Vibrate(pattern []time.Duration) error {
	m.mu.Lock()
	m.vibrates++
	m.mu.Unlock()
	return nil
}

func (m *mockNotifier) ShowSystemNotification(title, body string) error {
	m.mu.Lock()
	m.titles = append(m.titles, title)
	m.bodies = append(m.bodies, body)
	m.mu.Unlock()
	return nil
}

func triggered(id string, at int64) model.Alert {
	ts := at
	return model.Alert{ID: id, AssetID: "bitcoin", Symbol: "BTC", Type: model.AlertAbove, TargetValue: 100000, Currency: "brl", IsActive: true, TriggeredAt: &ts}
}

func newDispatcherFixture() (*mockNotifier, *clock.Manual, *Dispatcher) {
	n := &mockNotifier{}
	clk := clock.NewManual(time.UnixMilli(1_700_000_000_000))
	return n, clk, NewDispatcher(n, clk, nil, DispatcherConfig{})
}

func TestDispatcher_FiresOncePerPulse(t *testing.T) {
	n, clk, d := newDispatcherFixture()
	now := clk.Now().UnixMilli()
	alerts := []model.Alert{triggered("a1", now-1000)}

	if got := d.Observe(alerts); got != 1 {
		t.Fatalf("expected 1 notification, got %d", got)
	}
	if got := d.Observe(alerts); got != 0 {
		t.Fatalf("expected dedup, got %d", got)
	}
	if n.sounds != 1 || n.vibrates != 1 || len(n.titles) != 1 {
		t.Fatalf("unexpected side effects: %+v", n)
	}
	if n.titles[0] != "CryptoFolio ALERT" || n.bodies[0] != "BTC hit its target: above R$100000" {
		t.Fatalf("unexpected notice: %q / %q", n.titles[0], n.bodies[0])
	}
}

func TestDispatcher_NewPulseFiresAgain(t *testing.T) {
	_, clk, d := newDispatcherFixture()
	now := clk.Now().UnixMilli()
	d.Observe([]model.Alert{triggered("a1", now-1000)})

	if got := d.Observe([]model.Alert{triggered("a1", now-10)}); got != 1 {
		t.Fatalf("re-triggered alert should notify, got %d", got)
	}
}

func TestDispatcher_SkipsOldAndInactive(t *testing.T) {
	_, clk, d := newDispatcherFixture()
	now := clk.Now().UnixMilli()
	stale := triggered("old", now-120_000)
	inactive := triggered("off", now-10)
	inactive.IsActive = false
	untriggered := model.Alert{ID: "none", IsActive: true}

	if got := d.Observe([]model.Alert{stale, inactive, untriggered}); got != 0 {
		t.Fatalf("expected no notifications, got %d", got)
	}
}

func TestDispatcher_SeedSuppressesColdStart(t *testing.T) {
	n, clk, d := newDispatcherFixture()
	now := clk.Now().UnixMilli()
	alerts := []model.Alert{triggered("a1", now-5000)}

	d.Seed(alerts)
	if got := d.Observe(alerts); got != 0 {
		t.Fatalf("seeded pulse must not notify, got %d", got)
	}
	if n.sounds != 0 {
		t.Fatal("no sound expected")
	}
}

func TestDispatcher_ClearsWhenOverCapacity(t *testing.T) {
	clk := clock.NewManual(time.UnixMilli(1_700_000_000_000))
	d := NewDispatcher(&mockNotifier{}, clk, nil, DispatcherConfig{MaxFired: 2})
	now := clk.Now().UnixMilli()

	d.Observe([]model.Alert{triggered("a", now), triggered("b", now)})
	if d.Fired() != 2 {
		t.Fatalf("expected 2 keys, got %d", d.Fired())
	}
	d.Observe([]model.Alert{triggered("c", now)})
	if d.Fired() != 0 {
		t.Fatalf("expected set cleared after exceeding cap, got %d", d.Fired())
	}
}
