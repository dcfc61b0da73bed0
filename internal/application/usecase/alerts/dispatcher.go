package alerts

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cryptofolio/internal/application/port"
	"cryptofolio/internal/domain/model"
	domainservice "cryptofolio/internal/domain/service"
	"cryptofolio/internal/pkg/clock"
)

const (
	DefaultNotifyWindow = 2 * time.Minute
	DefaultMaxFired     = 50
)

// DefaultVibratePattern alternates buzz and pause.
var DefaultVibratePattern = []time.Duration{
	300 * time.Millisecond, 100 * time.Millisecond,
	300 * time.Millisecond, 100 * time.Millisecond,
	300 * time.Millisecond,
}

type DispatcherConfig struct {
	Window         time.Duration
	MaxFired       int
	SoundVolume    float64
	SoundDuration  time.Duration
	VibratePattern []time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Window <= 0 {
		c.Window = DefaultNotifyWindow
	}
	if c.MaxFired <= 0 {
		c.MaxFired = DefaultMaxFired
	}
	if c.SoundVolume <= 0 {
		c.SoundVolume = 0.1
	}
	if c.SoundDuration <= 0 {
		c.SoundDuration = 5 * time.Second
	}
	if len(c.VibratePattern) == 0 {
		c.VibratePattern = DefaultVibratePattern
	}
	return c
}

// Dispatcher 每台设备对每个触发脉冲 (alertID, triggeredAt) 至多通知一次
type Dispatcher struct {
	notifier port.Notifier
	clk      clock.Clock
	metrics  port.Metrics
	cfg      DispatcherConfig

	mu    sync.Mutex
	fired map[string]struct{}
}

func NewDispatcher(notifier port.Notifier, clk clock.Clock, metrics port.Metrics, cfg DispatcherConfig) *Dispatcher {
	if clk == nil {
		clk = clock.Real()
	}
	if metrics == nil {
		metrics = port.NoopMetrics{}
	}
	return &Dispatcher{
		notifier: notifier,
		clk:      clk,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		fired:    make(map[string]struct{}),
	}
}

// Seed marks every already-triggered alert as fired so pulses that happened
// before this session are never notified here.
func (d *Dispatcher) Seed(alerts []model.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range alerts {
		if a.TriggeredAt != nil {
			d.fired[a.TriggerKey()] = struct{}{}
		}
	}
}

// Observe notifies for fresh trigger pulses and returns how many fired.
func (d *Dispatcher) Observe(alerts []model.Alert) int {
	now := d.clk.Now().UnixMilli()
	window := d.cfg.Window.Milliseconds()

	var due []model.Alert
	d.mu.Lock()
	for _, a := range alerts {
		if !a.IsActive || a.TriggeredAt == nil {
			continue
		}
		if now-*a.TriggeredAt >= window {
			continue
		}
		key := a.TriggerKey()
		if _, ok := d.fired[key]; ok {
			continue
		}
		d.fired[key] = struct{}{}
		due = append(due, a)
	}
	if len(d.fired) > d.cfg.MaxFired {
		d.fired = make(map[string]struct{})
	}
	d.mu.Unlock()

	for _, a := range due {
		d.notify(a)
	}
	return len(due)
}

func (d *Dispatcher) notify(a model.Alert) {
	title, body := domainservice.TriggerNotice(a)
	log.Info().Str("alert", a.ID).Str("symbol", a.Symbol).Msg("alert siren triggering")

	if err := d.notifier.PlaySound(d.cfg.SoundVolume, d.cfg.SoundDuration); err != nil {
		log.Warn().Err(err).Msg("play sound failed")
	}
	if err := d.notifier.Vibrate(d.cfg.VibratePattern); err != nil {
		log.Warn().Err(err).Msg("vibrate failed")
	}
	if err := d.notifier.ShowSystemNotification(title, body); err != nil {
		log.Warn().Err(err).Msg("system notification failed")
	}
	d.metrics.NotificationFired()
}

// Fired reports how many trigger keys are currently remembered.
func (d *Dispatcher) Fired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fired)
}

func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.fired = make(map[string]struct{})
	d.mu.Unlock()
}
