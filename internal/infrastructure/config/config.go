package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"

	ProviderCryptoCompare = "cryptocompare"
	ProviderBinance       = "binance"
)

type Config struct {
	App struct {
		OwnerID    string `toml:"owner_id"`
		DeviceName string `toml:"device_name"`
		LogLevel   string `toml:"log_level"`
	} `toml:"app"`

	Sync struct {
		GuardWindowMs   int `toml:"guard_window_ms"`
		PushDebounceMs  int `toml:"push_debounce_ms"`
		ExpectedRTTMs   int `toml:"expected_rtt_ms"`
		PushTimeoutSec  int `toml:"push_timeout_sec"`
		PullRetryMax    int `toml:"pull_retry_max"`
		PullRetryInitMs int `toml:"pull_retry_initial_ms"`
		PullRetryMaxMs  int `toml:"pull_retry_max_ms"`
	} `toml:"sync"`

	Alerts struct {
		PollIntervalSec int     `toml:"poll_interval_sec"`
		RetentionMs     int     `toml:"retention_ms"`
		Epsilon         float64 `toml:"epsilon"`
	} `toml:"alerts"`

	Notify struct {
		WindowMs         int     `toml:"window_ms"`
		MaxFired         int     `toml:"max_fired"`
		SoundVolume      float64 `toml:"sound_volume"`
		SoundDurationMs  int     `toml:"sound_duration_ms"`
		VibratePatternMs []int   `toml:"vibrate_pattern_ms"`
		Console          bool    `toml:"console"`
		RedisStream      bool    `toml:"redis_stream"`
		SQLiteLog        bool    `toml:"sqlite_log"`
	} `toml:"notify"`

	Remote struct {
		Backend string `toml:"backend"`
	} `toml:"remote"`

	Postgres struct {
		DSN     string `toml:"dsn"`
		Channel string `toml:"channel"`
	} `toml:"postgres"`

	Redis struct {
		Enabled       bool   `toml:"enabled"`
		Addr          string `toml:"addr"`
		Password      string `toml:"password"`
		DB            int    `toml:"db"`
		Prefix        string `toml:"prefix"`
		TTLSeconds    int    `toml:"ttl_seconds"`
		NotifyStream  string `toml:"notify_stream"`
		NotifyChannel string `toml:"notify_channel"`
	} `toml:"redis"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Market struct {
		Provider    string            `toml:"provider"`
		RestURL     string            `toml:"rest_url"`
		WsURL       string            `toml:"ws_url"`
		Quote       string            `toml:"quote"`
		Symbols     map[string]string `toml:"symbols"`
		CacheTTLSec int               `toml:"cache_ttl_sec"`
		TimeoutSec  int               `toml:"timeout_sec"`
	} `toml:"market"`

	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.DeviceName == "" {
		cfg.App.DeviceName = "cli"
	}

	if cfg.Sync.GuardWindowMs <= 0 {
		cfg.Sync.GuardWindowMs = 4000
	}
	if cfg.Sync.PushDebounceMs <= 0 {
		cfg.Sync.PushDebounceMs = 800
	}
	if cfg.Sync.ExpectedRTTMs <= 0 {
		cfg.Sync.ExpectedRTTMs = 1000
	}
	if cfg.Sync.PushTimeoutSec <= 0 {
		cfg.Sync.PushTimeoutSec = 10
	}
	if cfg.Sync.PullRetryInitMs <= 0 {
		cfg.Sync.PullRetryInitMs = 1000
	}
	if cfg.Sync.PullRetryMaxMs <= 0 {
		cfg.Sync.PullRetryMaxMs = 30000
	}

	if cfg.Alerts.PollIntervalSec <= 0 {
		cfg.Alerts.PollIntervalSec = 30
	}
	if cfg.Alerts.RetentionMs <= 0 {
		cfg.Alerts.RetentionMs = 300000
	}
	if cfg.Alerts.Epsilon <= 0 {
		cfg.Alerts.Epsilon = 1e-8
	}

	if cfg.Notify.WindowMs <= 0 {
		cfg.Notify.WindowMs = 120000
	}
	if cfg.Notify.MaxFired <= 0 {
		cfg.Notify.MaxFired = 50
	}
	if cfg.Notify.SoundVolume <= 0 {
		cfg.Notify.SoundVolume = 0.1
	}
	if cfg.Notify.SoundDurationMs <= 0 {
		cfg.Notify.SoundDurationMs = 5000
	}
	if len(cfg.Notify.VibratePatternMs) == 0 {
		cfg.Notify.VibratePatternMs = []int{300, 100, 300, 100, 300}
	}

	cfg.Remote.Backend = strings.ToLower(strings.TrimSpace(cfg.Remote.Backend))
	if cfg.Remote.Backend == "" {
		cfg.Remote.Backend = BackendPostgres
	}
	if cfg.Postgres.Channel == "" {
		cfg.Postgres.Channel = "profile_changes"
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "cryptofolio"
	}
	if cfg.Redis.TTLSeconds <= 0 {
		cfg.Redis.TTLSeconds = 60
	}

	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/cryptofolio.db"
	}

	cfg.Market.Provider = strings.ToLower(strings.TrimSpace(cfg.Market.Provider))
	if cfg.Market.Provider == "" {
		cfg.Market.Provider = ProviderCryptoCompare
	}
	if cfg.Market.RestURL == "" {
		cfg.Market.RestURL = "https://min-api.cryptocompare.com"
	}
	if cfg.Market.WsURL == "" {
		cfg.Market.WsURL = "wss://stream.binance.com:9443"
	}
	if cfg.Market.Quote == "" {
		cfg.Market.Quote = "USDT"
	}
	if cfg.Market.TimeoutSec <= 0 {
		cfg.Market.TimeoutSec = 15
	}
}

var channelRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validate(cfg *Config) error {
	guard := cfg.Sync.GuardWindowMs
	debounce := cfg.Sync.PushDebounceMs
	rtt := cfg.Sync.ExpectedRTTMs
	// 保护窗口必须大于 防抖 + 一次往返
	if guard <= debounce+rtt {
		return fmt.Errorf("sync.guard_window_ms (%d) must exceed push_debounce_ms + expected_rtt_ms (%d)", guard, debounce+rtt)
	}
	if cfg.Sync.PullRetryMaxMs < cfg.Sync.PullRetryInitMs {
		return errors.New("sync.pull_retry_max_ms must be >= pull_retry_initial_ms")
	}

	if cfg.Notify.SoundVolume > 1 {
		return errors.New("notify.sound_volume must be within (0, 1]")
	}
	for _, v := range cfg.Notify.VibratePatternMs {
		if v < 0 {
			return errors.New("notify.vibrate_pattern_ms has a negative entry")
		}
	}

	switch cfg.Remote.Backend {
	case BackendPostgres:
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			return errors.New("postgres.dsn empty but remote.backend = postgres")
		}
		if !channelRe.MatchString(cfg.Postgres.Channel) {
			return fmt.Errorf("postgres.channel %q is not a plain identifier", cfg.Postgres.Channel)
		}
	case BackendRedis:
		if !cfg.Redis.Enabled {
			return errors.New("remote.backend = redis but redis.enabled = false")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown remote.backend %q", cfg.Remote.Backend)
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	if cfg.Notify.RedisStream && !cfg.Redis.Enabled {
		return errors.New("notify.redis_stream requires redis.enabled")
	}
	if cfg.Notify.SQLiteLog && !cfg.SQLite.Enabled {
		return errors.New("notify.sqlite_log requires sqlite.enabled")
	}

	switch cfg.Market.Provider {
	case ProviderCryptoCompare:
		if strings.TrimSpace(cfg.Market.RestURL) == "" {
			return errors.New("market.rest_url empty")
		}
	case ProviderBinance:
		if strings.TrimSpace(cfg.Market.WsURL) == "" {
			return errors.New("market.ws_url empty but provider = binance")
		}
	default:
		return fmt.Errorf("unknown market.provider %q", cfg.Market.Provider)
	}
	cfg.Market.Symbols = normalizeSymbols(cfg.Market.Symbols)
	return nil
}

// normalizeSymbols 统一为 小写资产ID -> 大写代码
func normalizeSymbols(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for id, sym := range in {
		id = strings.ToLower(strings.TrimSpace(id))
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if id == "" || sym == "" {
			continue
		}
		out[id] = sym
	}
	return out
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) GuardWindow() time.Duration { return ms(c.Sync.GuardWindowMs) }
func (c *Config) PushDebounce() time.Duration { return ms(c.Sync.PushDebounceMs) }
func (c *Config) PushTimeout() time.Duration {
	return time.Duration(c.Sync.PushTimeoutSec) * time.Second
}
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Alerts.PollIntervalSec) * time.Second
}
func (c *Config) Retention() time.Duration { return ms(c.Alerts.RetentionMs) }
func (c *Config) NotifyWindow() time.Duration { return ms(c.Notify.WindowMs) }
func (c *Config) SoundDuration() time.Duration { return ms(c.Notify.SoundDurationMs) }

func (c *Config) VibratePattern() []time.Duration {
	out := make([]time.Duration, len(c.Notify.VibratePatternMs))
	for i, v := range c.Notify.VibratePatternMs {
		out[i] = ms(v)
	}
	return out
}
