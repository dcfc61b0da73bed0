// Package session 管理单个登录用户的同步与提醒生命周期。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/application/usecase/alerts"
	"cryptofolio/internal/application/usecase/cloudsync"
	"cryptofolio/internal/application/usecase/portfolio"
	"cryptofolio/internal/domain/model"
	"cryptofolio/internal/pkg/clock"
)

var ErrNoOwner = errors.New("session: owner id is required")

// RetryConfig 初始拉取失败后的后台重试配置
type RetryConfig struct {
	MaxRetries   int           // 0 表示不限次数
	InitialDelay time.Duration // 初始延迟
	MaxDelay     time.Duration // 最大延迟
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries:   0,
	InitialDelay: 1 * time.Second,
	MaxDelay:     30 * time.Second,
}

type Config struct {
	Retry RetryConfig
}

// Deps are the collaborators a session drives. Cache may be nil.
type Deps struct {
	Store      *portfolio.Store
	Sync       *cloudsync.Client
	Engine     *alerts.Engine
	Dispatcher *alerts.Dispatcher
	Cache      port.LocalCache
	Clock      clock.Clock
}

// Session owns everything bound to the signed-in owner. Start replaces the
// current owner; Close tears it down.
type Session struct {
	store      *portfolio.Store
	sync       *cloudsync.Client
	engine     *alerts.Engine
	dispatcher *alerts.Dispatcher
	cache      port.LocalCache
	clk        clock.Clock
	cfg        Config

	mu         sync.Mutex
	owner      string
	gen        uint64
	ctx        context.Context
	cancel     context.CancelFunc
	engineDone chan struct{}
	retryTimer clock.Timer
}

func New(deps Deps, cfg Config) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if cfg.Retry.InitialDelay <= 0 {
		cfg.Retry = DefaultRetryConfig
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		cfg.Retry.MaxDelay = cfg.Retry.InitialDelay
	}
	s := &Session{
		store:      deps.Store,
		sync:       deps.Sync,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		cache:      deps.Cache,
		clk:        deps.Clock,
		cfg:        cfg,
	}
	s.store.Subscribe(s.onChange)
	return s
}

func snapshotKey(owner string) string { return owner + ":snapshot" }
func profileKey(owner string) string { return owner + ":profile" }

// Start binds the session to ownerID. A failed initial pull leaves the cached
// state in place with pushes disabled and retries in the background; the
// error is still returned so the caller can surface it.
func (s *Session) Start(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return ErrNoOwner
	}
	s.Close()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.owner = ownerID
	s.ctx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	s.sync.SetContext(runCtx)
	s.loadCache(runCtx, ownerID)

	pullErr := s.pull(runCtx, ownerID, gen)
	if pullErr != nil {
		s.scheduleRetry(ownerID, gen, 1, s.cfg.Retry.InitialDelay)
	}

	if err := s.sync.Subscribe(runCtx, ownerID, s.onRemote); err != nil {
		log.Warn().Err(err).Str("owner", ownerID).Msg("push channel unavailable, live updates disabled")
	}

	if s.engine != nil {
		done := make(chan struct{})
		s.mu.Lock()
		s.engineDone = done
		s.mu.Unlock()
		go func() {
			defer close(done)
			if err := s.engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("alert engine stopped")
			}
		}()
	}

	log.Info().Str("owner", ownerID).Bool("synced", pullErr == nil).Msg("session started")
	return pullErr
}

// Owner returns the bound owner or "".
func (s *Session) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Close tears down timers, subscriptions and the engine loop, and clears the
// in-memory state. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	owner := s.owner
	cancel, done, timer := s.cancel, s.engineDone, s.retryTimer
	s.gen++
	s.owner = ""
	s.cancel = nil
	s.engineDone = nil
	s.retryTimer = nil
	s.ctx = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.sync.Teardown()
	s.dispatcher.Reset()
	s.store.Reset()

	if owner != "" {
		log.Info().Str("owner", owner).Msg("session closed")
	}
}

// SignOut closes the session and drops the owner's cached state.
func (s *Session) SignOut(ctx context.Context) error {
	owner := s.Owner()
	s.Close()
	if owner == "" || s.cache == nil {
		return nil
	}
	var errs []error
	for _, key := range []string{snapshotKey(owner), profileKey(owner)} {
		if err := s.cache.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) loadCache(ctx context.Context, owner string) {
	if s.cache == nil {
		return
	}
	if raw, ok, err := s.cache.Get(ctx, profileKey(owner)); err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("read cached profile failed")
	} else if ok {
		var p model.Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Warn().Err(err).Msg("decode cached profile failed")
		} else {
			s.store.ApplyProfile(p.Tier, p.Role)
		}
	}

	raw, ok, err := s.cache.Get(ctx, snapshotKey(owner))
	if err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("read cached snapshot failed")
		return
	}
	if !ok {
		return
	}
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		log.Warn().Err(err).Msg("decode cached snapshot failed")
		return
	}
	s.dispatcher.Seed(snap.Alerts)
	s.store.Replace(snap, portfolio.OriginCache)
	log.Info().Str("owner", owner).Int("holdings", len(snap.Holdings)).Msg("restored cached snapshot")
}

func (s *Session) pull(ctx context.Context, owner string, gen uint64) error {
	rec, err := s.sync.PullInitial(ctx, owner)
	if err != nil {
		return err
	}
	if !s.current(gen) {
		return nil
	}
	if rec == nil {
		// 远端没有记录：以本地状态作为初始数据
		if snap := s.store.Snapshot(); !snap.Empty() {
			s.sync.SchedulePush(snap)
		}
		return nil
	}
	s.dispatcher.Seed(rec.Snapshot.Alerts)
	if s.store.ApplyProfile(rec.Tier, rec.Role) {
		s.saveProfile(owner)
	}
	s.store.Replace(rec.Snapshot, portfolio.OriginRemote)
	return nil
}

func (s *Session) scheduleRetry(owner string, gen uint64, attempt int, delay time.Duration) {
	limit := s.cfg.Retry.MaxRetries
	if limit > 0 && attempt > limit {
		log.Error().Str("owner", owner).Int("attempts", limit).Msg("giving up initial pull, pushes stay disabled")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	ctx := s.ctx
	log.Info().
		Str("owner", owner).
		Int("attempt", attempt).
		Int64("delay_ms", delay.Milliseconds()).
		Msg("retrying initial pull")

	s.retryTimer = s.clk.AfterFunc(delay, func() {
		if !s.current(gen) {
			return
		}
		if err := s.pull(ctx, owner, gen); err == nil {
			log.Info().Str("owner", owner).Int("attempt", attempt).Msg("initial pull recovered")
			return
		}
		// 指数退避：每次重试延迟翻倍，但不超过最大延迟
		next := delay * 2
		if next > s.cfg.Retry.MaxDelay {
			next = s.cfg.Retry.MaxDelay
		}
		s.scheduleRetry(owner, gen, attempt+1, next)
	})
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

func (s *Session) onRemote(change cloudsync.RemoteChange) {
	owner := s.Owner()
	if owner == "" {
		return
	}
	if s.store.ApplyProfile(change.Tier, change.Role) {
		log.Info().Str("tier", string(change.Tier)).Str("role", string(change.Role)).Msg("profile updated remotely")
		s.saveProfile(owner)
	}
	if change.Snapshot != nil {
		s.store.Replace(*change.Snapshot, portfolio.OriginRemote)
	}
}

// onChange is the single stateChanged handler: mirror to cache, schedule a
// push, notify fresh triggers.
func (s *Session) onChange(c portfolio.Change) {
	s.mu.Lock()
	owner, ctx := s.owner, s.ctx
	s.mu.Unlock()
	if owner == "" {
		return
	}

	if c.Origin != portfolio.OriginCache {
		s.saveSnapshot(ctx, owner, c.Snapshot)
		s.sync.SchedulePush(c.Snapshot)
	}
	s.dispatcher.Observe(c.Snapshot.Alerts)
}

func (s *Session) saveSnapshot(ctx context.Context, owner string, snap model.Snapshot) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		log.Warn().Err(err).Msg("encode snapshot failed")
		return
	}
	if err := s.cache.Put(ctx, snapshotKey(owner), raw); err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("cache snapshot failed")
	}
}

func (s *Session) saveProfile(owner string) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(s.store.Profile())
	if err != nil {
		return
	}
	if err := s.cache.Put(context.Background(), profileKey(owner), raw); err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("cache profile failed")
	}
}
