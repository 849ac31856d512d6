package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func watcherLogger() zerolog.Logger {
	return zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
}

func writeWatcherTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func baseTestConfig() *Config {
	return &Config{
		MT5:         MT5Config{Login: "12345", Server: "Broker-Demo"},
		TradingMode: ModePaper,
		Symbols:     []string{"EURUSD"},
		Strategy:    StrategyConfig{Name: "turtle_soup"},
		StrategyParams: StrategyParamsConfig{
			CRTEntryTimeframe: "M5",
			MinRR:             2.0,
		},
		Risk: RiskConfig{
			RiskPerTradePercent: 1.0,
			MaxTradesPerDay:     5,
			AccountEquity:       10000,
			ValuePerPoint:       10,
		},
		News: NewsConfig{CalendarBaseURL: "https://calendar.example.com"},
	}
}

func TestConfigWatcher_DetectsChange(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.json")

	initial := baseTestConfig()
	writeWatcherTestConfig(t, cfgPath, initial)

	watcher := NewConfigWatcher(cfgPath, initial, watcherLogger())

	changed := make(chan bool, 1)
	watcher.OnChange(func(old, new *Config) {
		changed <- true
	})

	if err := watcher.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)
	updated := baseTestConfig()
	updated.Risk.MaxTradesPerDay = 3
	writeWatcherTestConfig(t, cfgPath, updated)

	watcher.checkForChanges()

	select {
	case <-changed:
		current := watcher.Current()
		if current.Risk.MaxTradesPerDay != 3 {
			t.Errorf("expected MaxTradesPerDay=3, got %d", current.Risk.MaxTradesPerDay)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for config change notification")
	}
}

func TestConfigWatcher_IgnoresInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.json")

	initial := baseTestConfig()
	writeWatcherTestConfig(t, cfgPath, initial)

	watcher := NewConfigWatcher(cfgPath, initial, watcherLogger())

	changed := make(chan bool, 1)
	watcher.OnChange(func(old, new *Config) {
		changed <- true
	})

	if err := watcher.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)
	os.WriteFile(cfgPath, []byte("not valid json"), 0644)
	watcher.checkForChanges()

	select {
	case <-changed:
		t.Error("should NOT fire callback for invalid JSON")
	case <-time.After(100 * time.Millisecond):
	}

	current := watcher.Current()
	if current.Risk.MaxTradesPerDay != 5 {
		t.Errorf("expected original MaxTradesPerDay=5, got %d", current.Risk.MaxTradesPerDay)
	}
}

func TestConfigWatcher_IgnoresNonReloadableChanges(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.json")

	initial := baseTestConfig()
	writeWatcherTestConfig(t, cfgPath, initial)

	watcher := NewConfigWatcher(cfgPath, initial, watcherLogger())

	changed := make(chan bool, 1)
	watcher.OnChange(func(old, new *Config) {
		changed <- true
	})

	if err := watcher.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)
	updated := baseTestConfig()
	updated.Symbols = []string{"EURUSD", "GBPUSD"} // non-reloadable field
	writeWatcherTestConfig(t, cfgPath, updated)
	watcher.checkForChanges()

	select {
	case <-changed:
		t.Error("should NOT fire callback for non-reloadable changes")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConfigWatcher_IgnoresValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.json")

	initial := baseTestConfig()
	writeWatcherTestConfig(t, cfgPath, initial)

	watcher := NewConfigWatcher(cfgPath, initial, watcherLogger())

	changed := make(chan bool, 1)
	watcher.OnChange(func(old, new *Config) {
		changed <- true
	})

	if err := watcher.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)
	updated := baseTestConfig()
	updated.Risk.MaxTradesPerDay = 0 // invalid
	writeWatcherTestConfig(t, cfgPath, updated)
	watcher.checkForChanges()

	select {
	case <-changed:
		t.Error("should NOT fire callback for invalid config")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReloadableChanged(t *testing.T) {
	base := baseTestConfig()

	same := *base
	if reloadableChanged(base, &same) {
		t.Error("identical configs should not be flagged as changed")
	}

	modified := *base
	modified.Risk.MaxTradesPerDay = 3
	if !reloadableChanged(base, &modified) {
		t.Error("should detect risk_management change")
	}

	modified2 := *base
	modified2.PositionMonitor.TrailingStop.Enabled = true
	if !reloadableChanged(base, &modified2) {
		t.Error("should detect position_monitoring change")
	}

	modified3 := *base
	modified3.CircuitBreaker.MaxConsecutiveFailures = 5
	if !reloadableChanged(base, &modified3) {
		t.Error("should detect circuit_breaker change")
	}
}

func TestConfigWatcher_StopIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.json")
	writeWatcherTestConfig(t, cfgPath, baseTestConfig())

	watcher := NewConfigWatcher(cfgPath, baseTestConfig(), watcherLogger())
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	watcher.Stop()
	watcher.Stop()
	watcher.Stop()
}
