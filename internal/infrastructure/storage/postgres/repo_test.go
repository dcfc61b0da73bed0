package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cryptofolio/internal/domain/model"
)

func TestDecodeSnapshotNormalizes(t *testing.T) {
	var snap model.Snapshot
	if err := decodeSnapshot([]byte(`[{"assetId":"bitcoin","quantity":1.5}]`), []byte(`null`), []byte(`[]`), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Holdings) != 1 || snap.Holdings[0].Quantity != 1.5 {
		t.Fatalf("unexpected holdings: %+v", snap.Holdings)
	}
	if snap.AllocationLogs == nil || snap.Alerts == nil {
		t.Fatal("nil slices must be normalized to empty")
	}
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	var snap model.Snapshot
	if err := decodeSnapshot([]byte(`{`), []byte(`[]`), []byte(`[]`), &snap); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestProfileRepo_PushPullNotify(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set; integration test skipped")
	}
	repo, err := New(dsn, "profile_changes_test")
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()
	owner := fmt.Sprintf("it-%d", time.Now().UnixNano())

	rec, err := repo.Pull(ctx, owner)
	if err != nil || rec != nil {
		t.Fatalf("expected missing record, got %v %v", rec, err)
	}

	got := make(chan model.ProfileRecord, 4)
	sub, err := repo.Subscribe(ctx, owner, func(r model.ProfileRecord) { got <- r })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	snap := model.Snapshot{Holdings: []model.Holding{{AssetID: "bitcoin", Quantity: 2}}}
	if err := repo.Push(ctx, owner, snap); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-got:
		if len(r.Snapshot.Holdings) != 1 || r.Tier != model.TierFree {
			t.Fatalf("unexpected record: %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}
}
