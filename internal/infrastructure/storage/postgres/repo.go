package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/domain/model"
)

// Repo 远端档案存储：每个 owner 一行，三个 JSONB 批量字段 + tier/role
type Repo struct {
	db      *sql.DB
	dsn     string
	channel string
}

func New(dsn, channel string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db, dsn: dsn, channel: channel}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

// migrate creates the table and a trigger that NOTIFYs the owner id on every
// write. channel is validated as a plain identifier by config.
func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS profiles (
  owner_id TEXT PRIMARY KEY,
  portfolio_items JSONB NOT NULL DEFAULT '[]',
  allocation_logs JSONB NOT NULL DEFAULT '[]',
  alerts JSONB NOT NULL DEFAULT '[]',
  tier TEXT NOT NULL DEFAULT 'free',
  role TEXT NOT NULL DEFAULT 'user',
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION notify_profile_change() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify(TG_ARGV[0], NEW.owner_id);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS profiles_notify ON profiles;
CREATE TRIGGER profiles_notify AFTER INSERT OR UPDATE ON profiles
  FOR EACH ROW EXECUTE FUNCTION notify_profile_change('%s');
`, r.channel))
	return err
}

func (r *Repo) Pull(ctx context.Context, ownerID string) (*model.ProfileRecord, error) {
	var (
		items, logs, alerts []byte
		tier, role          string
		updated             time.Time
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT portfolio_items, allocation_logs, alerts, tier, role, updated_at
		FROM profiles
		WHERE owner_id = $1
	`, ownerID).Scan(&items, &logs, &alerts, &tier, &role, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pull profile %s: %w", ownerID, err)
	}

	rec := &model.ProfileRecord{
		OwnerID:   ownerID,
		Tier:      model.Tier(tier),
		Role:      model.Role(role),
		UpdatedAt: updated,
	}
	if err := decodeSnapshot(items, logs, alerts, &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", ownerID, err)
	}
	return rec, nil
}

// Push merges the bulk fields; tier and role are left untouched.
func (r *Repo) Push(ctx context.Context, ownerID string, snap model.Snapshot) error {
	snap = snap.Normalized()
	items, err := json.Marshal(snap.Holdings)
	if err != nil {
		return err
	}
	logs, err := json.Marshal(snap.AllocationLogs)
	if err != nil {
		return err
	}
	alerts, err := json.Marshal(snap.Alerts)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO profiles(owner_id, portfolio_items, allocation_logs, alerts, updated_at)
		VALUES($1, $2, $3, $4, now())
		ON CONFLICT(owner_id) DO UPDATE SET
		portfolio_items=excluded.portfolio_items,
		allocation_logs=excluded.allocation_logs,
		alerts=excluded.alerts,
		updated_at=excluded.updated_at
	`, ownerID, string(items), string(logs), string(alerts))
	if err != nil {
		return fmt.Errorf("push profile %s: %w", ownerID, err)
	}
	return nil
}

func decodeSnapshot(items, logs, alerts []byte, out *model.Snapshot) error {
	if err := json.Unmarshal(items, &out.Holdings); err != nil {
		return fmt.Errorf("portfolio_items: %w", err)
	}
	if err := json.Unmarshal(logs, &out.AllocationLogs); err != nil {
		return fmt.Errorf("allocation_logs: %w", err)
	}
	if err := json.Unmarshal(alerts, &out.Alerts); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	*out = out.Normalized()
	return nil
}

var _ port.ProfileStore = (*Repo)(nil)
