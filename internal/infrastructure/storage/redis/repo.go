package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/domain/model"
)

// Repo 基于 Redis 的远端档案存储、行情缓存与通知流
//
// 档案: HASH <prefix>:profile:<owner> {snapshot, tier, role, updated_at}
// 变更: PUBLISH <prefix>:profile:<owner>:changes <owner>
type Repo struct {
	rdb          *redis.Client
	prefix       string
	ttl          time.Duration
	notifyStream string
	notifyChan   string
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, notifyStream, notifyChan string) *Repo {
	if strings.TrimSpace(notifyStream) == "" {
		notifyStream = prefix + ":notifications"
	}
	if strings.TrimSpace(notifyChan) == "" {
		notifyChan = prefix + ":notifications:pub"
	}
	return &Repo{
		rdb:          rdb,
		prefix:       prefix,
		ttl:          ttl,
		notifyStream: notifyStream,
		notifyChan:   notifyChan,
	}
}

func (r *Repo) profileKey(owner string) string { return r.prefix + ":profile:" + owner }

func (r *Repo) changesChannel(owner string) string { return r.profileKey(owner) + ":changes" }

func (r *Repo) Pull(ctx context.Context, ownerID string) (*model.ProfileRecord, error) {
	fields, err := r.rdb.HGetAll(ctx, r.profileKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("pull profile %s: %w", ownerID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeProfile(ownerID, fields)
}

func decodeProfile(ownerID string, fields map[string]string) (*model.ProfileRecord, error) {
	rec := &model.ProfileRecord{
		OwnerID: ownerID,
		Tier:    model.Tier(fields["tier"]),
		Role:    model.Role(fields["role"]),
	}
	if rec.Tier == "" {
		rec.Tier = model.TierFree
	}
	if rec.Role == "" {
		rec.Role = model.RoleUser
	}
	if raw := fields["snapshot"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", ownerID, err)
		}
	}
	rec.Snapshot = rec.Snapshot.Normalized()
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		rec.UpdatedAt = time.UnixMilli(ms)
	}
	return rec, nil
}

// Push overwrites the snapshot field only, then announces the change.
func (r *Repo) Push(ctx context.Context, ownerID string, snap model.Snapshot) error {
	b, err := json.Marshal(snap.Normalized())
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.profileKey(ownerID), "snapshot", string(b), "updated_at", time.Now().UnixMilli())
	pipe.Publish(ctx, r.changesChannel(ownerID), ownerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push profile %s: %w", ownerID, err)
	}
	return nil
}

// SetProfile writes the remote-authoritative fields (admin path).
func (r *Repo) SetProfile(ctx context.Context, ownerID string, tier model.Tier, role model.Role) error {
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.profileKey(ownerID), "tier", string(tier), "role", string(role), "updated_at", time.Now().UnixMilli())
	pipe.Publish(ctx, r.changesChannel(ownerID), ownerID)
	_, err := pipe.Exec(ctx)
	return err
}

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (r *Repo) Subscribe(ctx context.Context, ownerID string, fn func(model.ProfileRecord)) (port.Subscription, error) {
	ps := r.rdb.Subscribe(ctx, r.changesChannel(ownerID))
	// 等待订阅确认
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ownerID, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &subscription{ps: ps, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		ch := ps.Channel()
		for {
			select {
			case <-sctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				pctx, pcancel := context.WithTimeout(sctx, 10*time.Second)
				rec, err := r.Pull(pctx, ownerID)
				pcancel()
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						log.Warn().Err(err).Str("owner", ownerID).Msg("re-read after publish failed")
					}
					continue
				}
				if rec != nil {
					fn(*rec)
				}
			}
		}
	}()
	return s, nil
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
		<-s.done
	})
	return err
}

var _ port.ProfileStore = (*Repo)(nil)
