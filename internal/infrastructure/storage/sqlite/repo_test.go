package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepoPutGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, ok, err := repo.Get(ctx, "u1:snapshot"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := repo.Put(ctx, "u1:snapshot", []byte(`{"portfolioItems":[]}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := repo.Put(ctx, "u1:snapshot", []byte(`{"portfolioItems":[{"assetId":"bitcoin"}]}`)); err != nil {
		t.Fatalf("Put overwrite failed: %v", err)
	}

	v, ok, err := repo.Get(ctx, "u1:snapshot")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(v) != `{"portfolioItems":[{"assetId":"bitcoin"}]}` {
		t.Errorf("unexpected value %s", v)
	}
}

func TestSQLiteRepoDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_ = repo.Put(ctx, "u1:profile", []byte(`{"tier":"premium"}`))
	if err := repo.Delete(ctx, "u1:profile"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, "u1:profile"); ok {
		t.Error("expected key to be gone")
	}
	if err := repo.Delete(ctx, "missing"); err != nil {
		t.Errorf("deleting a missing key should succeed: %v", err)
	}
}

func TestSQLiteNotificationLog(t *testing.T) {
	repo := newTestRepo(t)
	n := NewNotificationLog(repo)

	if err := n.ShowSystemNotification("CryptoFolio ALERT", "BTC hit its target: above $100000"); err != nil {
		t.Fatalf("ShowSystemNotification failed: %v", err)
	}
	if err := n.PlaySound(0.1, 0); err != nil {
		t.Fatalf("PlaySound: %v", err)
	}

	list, err := repo.ListNotifications(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(list) != 1 || list[0].Title != "CryptoFolio ALERT" {
		t.Errorf("unexpected notifications: %+v", list)
	}
}
