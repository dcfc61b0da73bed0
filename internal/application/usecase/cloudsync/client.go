package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/domain/model"
	domainservice "cryptofolio/internal/domain/service"
	"cryptofolio/internal/pkg/clock"
)

// DefaultPushDebounce is the idle time before a local edit is written remotely.
const DefaultPushDebounce = 800 * time.Millisecond

var (
	// ErrInitializationIncomplete 初始拉取尚未成功，推送被禁用
	ErrInitializationIncomplete = errors.New("initial pull has not completed")
	ErrNoOwner                  = errors.New("no owner bound to sync client")
)

type Config struct {
	GuardWindow  time.Duration
	PushDebounce time.Duration
	PushTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.GuardWindow <= 0 {
		c.GuardWindow = domainservice.DefaultGuardWindow
	}
	if c.PushDebounce <= 0 {
		c.PushDebounce = DefaultPushDebounce
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = 10 * time.Second
	}
	return c
}

// RemoteChange is what survives the guard and fingerprint checks of one push
// event. Snapshot is nil when the bulk fields must not be applied.
type RemoteChange struct {
	Snapshot *model.Snapshot
	Tier     model.Tier
	Role     model.Role
}

// Client 远端同步客户端：启动拉取、防抖推送、订阅推送通道
type Client struct {
	store   port.ProfileStore
	clk     clock.Clock
	guard   *domainservice.LocalChangeGuard
	metrics port.Metrics
	cfg     Config

	mu         sync.Mutex
	owner      string
	initDone   bool
	lastSynced string
	timer      clock.Timer
	sub        port.Subscription
	generation uint64
	baseCtx    context.Context
}

func NewClient(store port.ProfileStore, clk clock.Clock, metrics port.Metrics, cfg Config) *Client {
	if clk == nil {
		clk = clock.Real()
	}
	if metrics == nil {
		metrics = port.NoopMetrics{}
	}
	cfg = cfg.withDefaults()
	return &Client{
		store:   store,
		clk:     clk,
		guard:   domainservice.NewLocalChangeGuard(clk, cfg.GuardWindow),
		metrics: metrics,
		cfg:     cfg,
		baseCtx: context.Background(),
	}
}

// PullInitial fetches the owner's record. On success the last-synced
// fingerprint is recorded before the caller applies the data, so the
// resulting stateChanged event does not echo a push. A missing record is a
// success with a nil result.
func (c *Client) PullInitial(ctx context.Context, ownerID string) (*model.ProfileRecord, error) {
	if ownerID == "" {
		return nil, ErrNoOwner
	}
	c.mu.Lock()
	if c.owner != ownerID {
		c.owner = ownerID
		c.initDone = false
	}
	gen := c.generation
	c.mu.Unlock()

	rec, err := c.store.Pull(ctx, ownerID)
	if err != nil {
		log.Error().Err(err).Str("owner", ownerID).Msg("initial pull failed, pushes stay disabled")
		return nil, fmt.Errorf("%w: %v", ErrInitializationIncomplete, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.owner != ownerID {
		return nil, fmt.Errorf("%w: session changed during pull", ErrInitializationIncomplete)
	}
	if rec != nil {
		rec.Snapshot = rec.Snapshot.Normalized()
		c.lastSynced = domainservice.Fingerprint(rec.Snapshot)
	}
	c.initDone = true
	log.Info().
		Str("owner", ownerID).
		Bool("found", rec != nil).
		Str("fingerprint", c.lastSynced).
		Msg("initial pull complete")
	return rec, nil
}

// Subscribe opens the push channel for ownerID. onRemote runs for every event
// that carries something to apply.
func (c *Client) Subscribe(ctx context.Context, ownerID string, onRemote func(RemoteChange)) error {
	if ownerID == "" {
		return ErrNoOwner
	}
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	sub, err := c.store.Subscribe(ctx, ownerID, func(rec model.ProfileRecord) {
		change, ok := c.HandleRemote(gen, rec)
		if ok && onRemote != nil {
			onRemote(change)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ownerID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: session changed", ownerID)
	}
	if c.sub != nil {
		_ = c.sub.Close()
	}
	c.sub = sub
	return nil
}

// HandleRemote runs one push event through the guard and the fingerprint
// comparison. The two checks are independent: tier and role always pass.
func (c *Client) HandleRemote(gen uint64, rec model.ProfileRecord) (RemoteChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || (c.owner != "" && rec.OwnerID != "" && rec.OwnerID != c.owner) {
		return RemoteChange{}, false
	}
	if !c.initDone {
		c.metrics.RemoteEvent(port.RemoteBeforeInit)
		return RemoteChange{}, false
	}

	change := RemoteChange{Tier: rec.Tier, Role: rec.Role}

	if c.guard.Active() {
		log.Info().
			Str("owner", c.owner).
			Dur("since_local_change", c.guard.Elapsed()).
			Msg("local change pending, skipping remote bulk fields")
		c.metrics.RemoteEvent(port.RemoteGuarded)
		return change, true
	}

	snap := rec.Snapshot.Normalized()
	fp := domainservice.Fingerprint(snap)
	if fp == c.lastSynced {
		c.metrics.RemoteEvent(port.RemoteUnchanged)
		return change, true
	}

	c.lastSynced = fp
	change.Snapshot = &snap
	c.metrics.RemoteEvent(port.RemoteApplied)
	log.Info().Str("owner", c.owner).Str("fingerprint", fp).Msg("remote snapshot applied")
	return change, true
}

// Generation identifies the current owner session.
func (c *Client) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SchedulePush debounces a remote write of snap. The guard is marked now,
// at the edit, not when the write fires. A new call before the delay elapses
// restarts the timer; a call that matches the last synced state cancels it.
func (c *Client) SchedulePush(snap model.Snapshot) {
	snap = snap.Normalized()
	fp := domainservice.Fingerprint(snap)

	c.mu.Lock()
	defer c.mu.Unlock()

	if fp == c.lastSynced {
		// 回到已同步状态：取消尚未触发的旧推送
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		return
	}
	c.guard.Mark()

	if c.owner == "" || !c.initDone {
		log.Debug().Str("owner", c.owner).Msg("push skipped: initialization incomplete")
		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	owner, gen := c.owner, c.generation
	c.timer = c.clk.AfterFunc(c.cfg.PushDebounce, func() {
		c.flush(owner, gen, snap, fp)
	})
	c.metrics.PushScheduled()
}

func (c *Client) flush(owner string, gen uint64, snap model.Snapshot, fp string) {
	c.mu.Lock()
	if gen != c.generation || owner != c.owner {
		c.mu.Unlock()
		return
	}
	if fp == c.lastSynced {
		c.mu.Unlock()
		return
	}
	base := c.baseCtx
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, c.cfg.PushTimeout)
	defer cancel()

	if err := c.store.Push(ctx, owner, snap); err != nil {
		// no retry: the next local edit diverges again and re-triggers a push
		log.Error().Err(err).Str("owner", owner).Msg("push failed")
		c.metrics.PushCompleted(false)
		return
	}

	c.mu.Lock()
	if gen == c.generation {
		c.lastSynced = fp
	}
	c.mu.Unlock()
	c.metrics.PushCompleted(true)
	log.Info().Str("owner", owner).Str("fingerprint", fp).Msg("saved to cloud")
}

// SetContext sets the parent context for debounced writes.
func (c *Client) SetContext(ctx context.Context) {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()
}

// Teardown cancels pending work and resets all bookkeeping to stale so the
// next owner starts clean. The subscription is closed after the lock is
// released; in-flight callbacks see the new generation and drop out.
func (c *Client) Teardown() {
	c.mu.Lock()
	timer, sub, owner := c.timer, c.sub, c.owner
	c.timer = nil
	c.sub = nil
	c.generation++
	c.owner = ""
	c.initDone = false
	c.lastSynced = ""
	c.guard.Reset()
	c.baseCtx = context.Background()
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			log.Warn().Err(err).Str("owner", owner).Msg("close subscription failed")
		}
	}
}

// LastSynced returns the authoritative last-synced fingerprint.
func (c *Client) LastSynced() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSynced
}

func (c *Client) InitDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initDone
}

// Guard exposes the local-change guard.
func (c *Client) Guard() *domainservice.LocalChangeGuard { return c.guard }
