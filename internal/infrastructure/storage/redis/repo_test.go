package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptofolio/internal/domain/model"
)

func TestDecodeProfileDefaults(t *testing.T) {
	rec, err := decodeProfile("u1", map[string]string{
		"snapshot":   `{"portfolioItems":[{"assetId":"bitcoin","quantity":1}]}`,
		"updated_at": "1700000000000",
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Tier != model.TierFree || rec.Role != model.RoleUser {
		t.Errorf("expected free/user defaults, got %s/%s", rec.Tier, rec.Role)
	}
	if len(rec.Snapshot.Holdings) != 1 || rec.Snapshot.Alerts == nil {
		t.Errorf("unexpected snapshot: %+v", rec.Snapshot)
	}
	if rec.UpdatedAt.UnixMilli() != 1_700_000_000_000 {
		t.Errorf("unexpected updated_at: %v", rec.UpdatedAt)
	}
}

func TestKeys(t *testing.T) {
	r := New(nil, "cf", time.Minute, "", "")
	if got := r.profileKey("u1"); got != "cf:profile:u1" {
		t.Errorf("profileKey = %s", got)
	}
	if got := r.changesChannel("u1"); got != "cf:profile:u1:changes" {
		t.Errorf("changesChannel = %s", got)
	}
	if r.notifyStream != "cf:notifications" || r.notifyChan != "cf:notifications:pub" {
		t.Errorf("unexpected notification keys %s %s", r.notifyStream, r.notifyChan)
	}
}

type countingMarket struct{ calls int }

func (m *countingMarket) Name() string { return "counting" }

func (m *countingMarket) GetPrices(ctx context.Context, ids []string, currency string) (map[string]model.Quote, error) {
	m.calls++
	out := map[string]model.Quote{}
	for _, id := range ids {
		out[id] = model.Quote{AssetID: id, Price: 42}
	}
	return out, nil
}

func newIntegrationRepo(t *testing.T) *Repo {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; integration test skipped")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, fmt.Sprintf("cf-test-%d", time.Now().UnixNano()), time.Minute, "", "")
}

func TestRedisProfilePushPull(t *testing.T) {
	r := newIntegrationRepo(t)
	ctx := context.Background()

	if rec, err := r.Pull(ctx, "u1"); err != nil || rec != nil {
		t.Fatalf("expected missing record, got %v %v", rec, err)
	}

	got := make(chan model.ProfileRecord, 1)
	sub, err := r.Subscribe(ctx, "u1", func(rec model.ProfileRecord) { got <- rec })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := r.Push(ctx, "u1", model.Snapshot{Holdings: []model.Holding{{AssetID: "bitcoin", Quantity: 1}}}); err != nil {
		t.Fatal(err)
	}
	select {
	case rec := <-got:
		if len(rec.Snapshot.Holdings) != 1 {
			t.Fatalf("unexpected record %+v", rec)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change published")
	}
}

func TestRedisQuoteCache(t *testing.T) {
	r := newIntegrationRepo(t)
	inner := &countingMarket{}
	c := NewQuoteCache(r, inner, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		q, err := c.GetPrices(ctx, []string{"bitcoin"}, "usd")
		if err != nil {
			t.Fatal(err)
		}
		if q["bitcoin"].Price != 42 {
			t.Fatalf("unexpected quote %+v", q)
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", inner.calls)
	}
}
