package svc

import (
	"context"
	"fmt"
	"os"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/application/session"
	"cryptofolio/internal/application/usecase/alerts"
	"cryptofolio/internal/application/usecase/cloudsync"
	"cryptofolio/internal/application/usecase/portfolio"
	"cryptofolio/internal/infrastructure/config"
	"cryptofolio/internal/infrastructure/market"
	_ "cryptofolio/internal/infrastructure/market/binance"
	_ "cryptofolio/internal/infrastructure/market/cryptocompare"
	"cryptofolio/internal/infrastructure/metrics"
	"cryptofolio/internal/infrastructure/notify"
	"cryptofolio/internal/infrastructure/storage"
	pgrepo "cryptofolio/internal/infrastructure/storage/postgres"
	redisrepo "cryptofolio/internal/infrastructure/storage/redis"
	sqliterepo "cryptofolio/internal/infrastructure/storage/sqlite"
	"cryptofolio/internal/interfaces/console"
	"cryptofolio/internal/pkg/clock"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	redisClient *redisclient.Client
	redisRepo   *redisrepo.Repo
	sqliteRepo  *sqliterepo.Repo
	pgRepo      *pgrepo.Repo

	Remote  port.ProfileStore
	Cache   port.LocalCache
	Market  port.MarketData
	Metrics *metrics.Prometheus
	Sink    *console.Sink

	// 应用业务组件（依赖基础设施）
	Store      *portfolio.Store
	Sync       *cloudsync.Client
	Engine     *alerts.Engine
	Dispatcher *alerts.Dispatcher
	Session    *session.Session

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Metrics:     metrics.NewPrometheus(),
		closerChain: make([]func() error, 0),
	}
	if cfg.Notify.Console {
		sc.Sink = console.NewSink(os.Stdout)
	}

	// 初始化所有组件，按依赖顺序
	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents() error {
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}
	if err := sc.initRemote(); err != nil {
		return err
	}
	if err := sc.initMarket(); err != nil {
		return fmt.Errorf("market initialization failed: %w", err)
	}

	clk := clock.Real()
	sc.Store = portfolio.NewStore(clk)
	sc.Sync = cloudsync.NewClient(sc.Remote, clk, sc.Metrics, cloudsync.Config{
		GuardWindow:  sc.Config.GuardWindow(),
		PushDebounce: sc.Config.PushDebounce(),
		PushTimeout:  sc.Config.PushTimeout(),
	})
	sc.Engine = alerts.NewEngine(sc.Store, sc.Market, clk, sc.Metrics, alerts.EngineConfig{
		PollInterval: sc.Config.PollInterval(),
		Retention:    sc.Config.Retention(),
		Epsilon:      sc.Config.Alerts.Epsilon,
	})
	sc.Dispatcher = alerts.NewDispatcher(sc.buildNotifier(), clk, sc.Metrics, alerts.DispatcherConfig{
		Window:         sc.Config.NotifyWindow(),
		MaxFired:       sc.Config.Notify.MaxFired,
		SoundVolume:    sc.Config.Notify.SoundVolume,
		SoundDuration:  sc.Config.SoundDuration(),
		VibratePattern: sc.Config.VibratePattern(),
	})
	sc.Session = session.New(session.Deps{
		Store:      sc.Store,
		Sync:       sc.Sync,
		Engine:     sc.Engine,
		Dispatcher: sc.Dispatcher,
		Cache:      sc.Cache,
		Clock:      clk,
	}, session.Config{Retry: session.RetryConfig{
		MaxRetries:   sc.Config.Sync.PullRetryMax,
		InitialDelay: time.Duration(sc.Config.Sync.PullRetryInitMs) * time.Millisecond,
		MaxDelay:     time.Duration(sc.Config.Sync.PullRetryMaxMs) * time.Millisecond,
	}})
	sc.closerChain = append(sc.closerChain, func() error {
		sc.Session.Close()
		return nil
	})

	if sc.Sink != nil {
		sc.Store.Subscribe(func(c portfolio.Change) {
			_ = sc.Sink.WriteSnapshot(time.Now(), console.RenderSnapshot(c.Snapshot, sc.Store.Profile(), c.Origin.String()))
		})
	}

	log.Info().
		Str("remote", sc.Config.Remote.Backend).
		Str("market", sc.Market.Name()).
		Bool("cache", sc.sqliteRepo != nil).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 初始化存储层 (Redis 和 SQLite)
func (sc *ServiceContext) initializeStorage() error {
	if sc.Config.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}

	if sc.Config.SQLite.Enabled {
		if err := sc.initSQLite(); err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
		sc.Cache = sc.sqliteRepo
	} else {
		log.Warn().Msg("sqlite disabled, local cache kept in memory only")
		sc.Cache = storage.NewInMemoryCache()
	}
	return nil
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() error {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	sc.redisRepo = redisrepo.New(
		rdb,
		sc.Config.Redis.Prefix,
		time.Duration(sc.Config.Redis.TTLSeconds)*time.Second,
		sc.Config.Redis.NotifyStream,
		sc.Config.Redis.NotifyChannel,
	)

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")
	return nil
}

// initSQLite 初始化 SQLite 数据库
func (sc *ServiceContext) initSQLite() error {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path)
	if err != nil {
		return fmt.Errorf("sqlite repo creation failed: %w", err)
	}
	sc.sqliteRepo = repo

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", sc.Config.SQLite.Path).
		Msg("✓ SQLite initialized")
	return nil
}

func (sc *ServiceContext) initRemote() error {
	switch sc.Config.Remote.Backend {
	case config.BackendPostgres:
		repo, err := pgrepo.New(sc.Config.Postgres.DSN, sc.Config.Postgres.Channel)
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		sc.pgRepo = repo
		sc.Remote = repo
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing postgres connection")
			return repo.Close()
		})
		log.Info().Str("channel", sc.Config.Postgres.Channel).Msg("✓ Postgres initialized")
	case config.BackendRedis:
		if sc.redisRepo == nil {
			return ErrNoRemoteStore
		}
		sc.Remote = sc.redisRepo
	case config.BackendMemory:
		log.Warn().Msg("remote backend is in-memory, nothing survives restart")
		sc.Remote = storage.NewInMemoryProfileStore()
	default:
		return fmt.Errorf("%w: %q", ErrNoRemoteStore, sc.Config.Remote.Backend)
	}
	return nil
}

func (sc *ServiceContext) initMarket() error {
	m := sc.Config.Market
	provider, err := market.New(m.Provider, market.Options{
		RestURL: m.RestURL,
		WsURL:   m.WsURL,
		Quote:   m.Quote,
		Symbols: m.Symbols,
		Timeout: time.Duration(m.TimeoutSec) * time.Second,
	})
	if err != nil {
		return err
	}
	sc.Market = provider

	// 行情缓存：多进程共享 Redis 报价
	if sc.redisRepo != nil && m.CacheTTLSec > 0 {
		sc.Market = redisrepo.NewQuoteCache(sc.redisRepo, provider, time.Duration(m.CacheTTLSec)*time.Second)
	}
	return nil
}

func (sc *ServiceContext) buildNotifier() port.Notifier {
	var sinks []port.Notifier
	if sc.Sink != nil {
		sinks = append(sinks, sc.Sink)
	}
	if sc.Config.Notify.RedisStream && sc.redisRepo != nil {
		sinks = append(sinks, redisrepo.NewStreamNotifier(sc.redisRepo, sc.Config.App.DeviceName))
	}
	if sc.Config.Notify.SQLiteLog && sc.sqliteRepo != nil {
		sinks = append(sinks, sqliterepo.NewNotificationLog(sc.sqliteRepo))
	}
	return notify.New(sinks...)
}

// StartBackground 启动后台任务：流式行情与 /metrics
func (sc *ServiceContext) StartBackground(ctx context.Context) {
	if r, ok := sc.unwrapMarket().(market.Runner); ok {
		go r.Run(ctx)
	}
	if addr := sc.Config.Metrics.Addr; addr != "" {
		go func() {
			if err := sc.Metrics.Serve(ctx, addr); err != nil {
				log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
			}
		}()
	}
}

func (sc *ServiceContext) unwrapMarket() port.MarketData {
	if qc, ok := sc.Market.(*redisrepo.QuoteCache); ok {
		return qc.Inner()
	}
	return sc.Market
}

// Close 按照相反的顺序关闭所有资源
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}
