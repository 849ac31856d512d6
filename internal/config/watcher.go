// Package config - watcher.go provides config file hot-reload support.
//
// The watcher polls the config file for changes (stat-based, every 5 seconds)
// and notifies registered callbacks when risk/position-monitor/circuit-breaker
// parameters change.
//
// Only those three sections are reloadable. The MT5 bridge connection,
// database settings, trading mode, and symbol list require an engine
// restart.
package config

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ConfigWatcher monitors the config file for changes and invokes callbacks
// when reloadable fields change. It uses stat-based polling (no external
// dependencies like fsnotify required).
type ConfigWatcher struct {
	path     string
	logger   zerolog.Logger
	mu       sync.RWMutex
	current  *Config
	lastMod  time.Time
	onChange []func(old, new *Config)
	done     chan struct{}
	stopped  bool
}

// NewConfigWatcher creates a watcher for the given config file path.
// initial is the currently loaded config. The watcher does not start
// until Start() is called.
func NewConfigWatcher(path string, initial *Config, logger zerolog.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		path:    path,
		logger:  logger.With().Str("component", "config-watcher").Logger(),
		current: initial,
		done:    make(chan struct{}),
	}
}

// OnChange registers a callback invoked when the config file changes and
// the new config passes validation. Multiple callbacks may be registered.
//
// Only risk_management, position_monitoring, and circuit_breaker changes
// trigger callbacks; everything else requires a restart.
func (w *ConfigWatcher) OnChange(fn func(old, new *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins polling the config file for changes. It returns immediately;
// the watcher runs in a background goroutine. Returns an error if the
// initial file stat fails.
func (w *ConfigWatcher) Start() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	w.logger.Info().Str("path", w.path).Msg("watching config file for changes")

	go w.pollLoop()
	return nil
}

// Stop stops the config watcher. Safe to call multiple times.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.done)
		w.logger.Info().Msg("stopped")
	}
}

// Current returns the most recently loaded valid config.
func (w *ConfigWatcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *ConfigWatcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

func (w *ConfigWatcher) checkForChanges() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("stat failed")
		return
	}

	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("read failed")
		return
	}

	var newCfg Config
	if err := json.Unmarshal(data, &newCfg); err != nil {
		w.logger.Warn().Err(err).Msg("parse failed, keeping old config")
		return
	}

	if err := newCfg.Validate(); err != nil {
		w.logger.Warn().Err(err).Msg("validation failed, keeping old config")
		return
	}

	w.mu.RLock()
	oldCfg := w.current
	w.mu.RUnlock()

	if !reloadableChanged(oldCfg, &newCfg) {
		return
	}
	w.logChanges(oldCfg, &newCfg)

	w.mu.Lock()
	w.current = &newCfg
	callbacks := make([]func(old, new *Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(oldCfg, &newCfg)
	}
}

func reloadableChanged(old, new *Config) bool {
	return old.Risk != new.Risk ||
		old.PositionMonitor != new.PositionMonitor ||
		old.CircuitBreaker != new.CircuitBreaker
}

func (w *ConfigWatcher) logChanges(old, new *Config) {
	if old.Risk != new.Risk {
		w.logger.Info().
			Float64("risk_per_trade_percent", new.Risk.RiskPerTradePercent).
			Int("max_trades_per_day", new.Risk.MaxTradesPerDay).
			Float64("max_position_size", new.Risk.MaxPositionSize).
			Msg("risk_management changed")
	}
	if old.PositionMonitor != new.PositionMonitor {
		w.logger.Info().
			Bool("trailing_stop_enabled", new.PositionMonitor.TrailingStop.Enabled).
			Float64("trigger_percent", new.PositionMonitor.TrailingStop.TriggerPercent).
			Msg("position_monitoring changed")
	}
	if old.CircuitBreaker != new.CircuitBreaker {
		w.logger.Info().
			Int("max_consecutive_failures", new.CircuitBreaker.MaxConsecutiveFailures).
			Int("max_failures_per_hour", new.CircuitBreaker.MaxFailuresPerHour).
			Int("cooldown_minutes", new.CircuitBreaker.CooldownMinutes).
			Msg("circuit_breaker changed")
	}
}
