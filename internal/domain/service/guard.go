package service

import (
	"sync"
	"time"

	"cryptofolio/internal/pkg/clock"
)

// DefaultGuardWindow is how long a local edit shields bulk fields from remote pushes.
const DefaultGuardWindow = 4 * time.Second

// LocalChangeGuard 记录最近一次本地修改时间，窗口内丢弃远端推送的批量字段
//
// The marker lives in memory only and starts stale on every process start.
type LocalChangeGuard struct {
	mu     sync.Mutex
	clk    clock.Clock
	window time.Duration
	last   time.Time
}

func NewLocalChangeGuard(clk clock.Clock, window time.Duration) *LocalChangeGuard {
	if clk == nil {
		clk = clock.Real()
	}
	if window <= 0 {
		window = DefaultGuardWindow
	}
	return &LocalChangeGuard{clk: clk, window: window}
}

// Mark records a local mutation at the current instant.
func (g *LocalChangeGuard) Mark() {
	g.mu.Lock()
	g.last = g.clk.Now()
	g.mu.Unlock()
}

// Active reports whether a remote update arriving now falls inside the window.
func (g *LocalChangeGuard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last.IsZero() {
		return false
	}
	return g.clk.Now().Sub(g.last) < g.window
}

// Elapsed returns the time since the last mark, or -1 when stale.
func (g *LocalChangeGuard) Elapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last.IsZero() {
		return -1
	}
	return g.clk.Now().Sub(g.last)
}

func (g *LocalChangeGuard) Window() time.Duration { return g.window }

// Reset drops the marker back to stale.
func (g *LocalChangeGuard) Reset() {
	g.mu.Lock()
	g.last = time.Time{}
	g.mu.Unlock()
}
