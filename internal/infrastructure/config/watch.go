package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher 监听配置文件变化，重新加载后回调
type Watcher struct {
	path     string
	cooldown time.Duration
	watcher  *fsnotify.Watcher
	onChange func(*Config)
}

// NewWatcher watches the directory of path so editors that replace the file
// on save are still seen.
func NewWatcher(path string, cooldown time.Duration, onChange func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		cooldown: cooldown,
		watcher:  w,
		onChange: onChange,
	}, nil
}

// Run blocks until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if time.Since(last) < w.cooldown {
				continue
			}
			last = time.Now()

			cfg, err := Load(w.path)
			if err != nil {
				log.Warn().Err(err).Str("config", w.path).Msg("config reload rejected")
				continue
			}
			log.Info().Str("config", w.path).Msg("config reloaded")
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) Close() error { return w.watcher.Close() }
