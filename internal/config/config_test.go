package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

const validConfigJSON = `{
	"mt5": {"login": "12345", "password": "x", "server": "Broker-Demo"},
	"trading_mode": "paper",
	"symbols": ["EURUSD", "GBPUSD"],
	"trading_hours": {"enabled": true, "start_time": "08:00", "end_time": "17:00", "timezone": "America/New_York"},
	"strategy": {"name": "turtle_soup"},
	"strategy_config": {"crt_entry_timeframe": "M5", "min_rr": 2.0, "crt_high_timeframe": "H4", "crt_lookback": 5},
	"risk_management": {"risk_per_trade_percent": 1.0, "max_trades_per_day": 5, "max_position_size": 10, "close_day_on_first_tp": false, "account_equity": 10000, "value_per_point": 10},
	"position_monitoring": {"trailing_stop": {"enabled": true, "trigger_percent": 70, "sl_percent": 50}, "auto_close": {"enabled": true, "time": "16:50", "timezone": "America/New_York"}},
	"circuit_breaker": {"max_consecutive_failures": 5, "max_failures_per_hour": 10, "cooldown_minutes": 15},
	"database": {"enabled": true, "server": "localhost", "database": "engine", "driver": "pgx"},
	"news": {"calendar_base_url": "https://calendar.example.com"},
	"general": {"log_level": "INFO"}
}`

func TestConfig_LoadValid(t *testing.T) {
	path := writeTestConfig(t, validConfigJSON)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TradingMode != ModePaper {
		t.Errorf("expected paper, got %s", cfg.TradingMode)
	}
	if len(cfg.Symbols) != 2 {
		t.Errorf("expected 2 symbols, got %d", len(cfg.Symbols))
	}
	if cfg.StrategyParams.CRTEntryTimeframe != "M5" {
		t.Errorf("expected M5, got %s", cfg.StrategyParams.CRTEntryTimeframe)
	}
}

func TestConfig_RejectsInvalidMode(t *testing.T) {
	path := writeTestConfig(t, strings.Replace(validConfigJSON, `"trading_mode": "paper"`, `"trading_mode": "invalid"`, 1))

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid trading mode")
	}
}

func TestConfig_RejectsEmptySymbols(t *testing.T) {
	path := writeTestConfig(t, strings.Replace(validConfigJSON, `"symbols": ["EURUSD", "GBPUSD"]`, `"symbols": []`, 1))

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for empty symbols list")
	}
}

func TestConfig_RejectsBadEntryTimeframe(t *testing.T) {
	path := writeTestConfig(t, strings.Replace(validConfigJSON, `"crt_entry_timeframe": "M5"`, `"crt_entry_timeframe": "M2"`, 1))

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for unsupported entry timeframe")
	}
}

func TestConfig_EnvOverride(t *testing.T) {
	path := writeTestConfig(t, validConfigJSON)

	os.Setenv("ENGINE_TRADING_MODE", "live")
	defer os.Unsetenv("ENGINE_TRADING_MODE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TradingMode != ModeLive {
		t.Errorf("expected env override to live, got %s", cfg.TradingMode)
	}
}

// ────────────────────────────────────────────────────────────────────
// Live mode validation tests
// ────────────────────────────────────────────────────────────────────

func validLiveConfig() Config {
	return Config{
		MT5:         MT5Config{Login: "12345", Server: "Broker-Demo"},
		TradingMode: ModeLive,
		Symbols:     []string{"EURUSD"},
		Strategy:    StrategyConfig{Name: "turtle_soup"},
		StrategyParams: StrategyParamsConfig{
			CRTEntryTimeframe: "M5",
			MinRR:             2.0,
		},
		Risk: RiskConfig{
			RiskPerTradePercent: 1.0,
			MaxTradesPerDay:     5,
			MaxPositionSize:     10,
			AccountEquity:       10000,
			ValuePerPoint:       10,
		},
		News: NewsConfig{CalendarBaseURL: "https://calendar.example.com"},
	}
}

func TestLiveMode_RequiresMT5Credentials(t *testing.T) {
	cfg := validLiveConfig()
	cfg.MT5.Login = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when mt5 login is empty in live mode")
	}
}

func TestLiveMode_RequiresMaxPositionSize(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Risk.MaxPositionSize = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when max_position_size is zero in live mode")
	}
}

func TestLiveMode_MaxRiskPerTradeCap(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Risk.RiskPerTradePercent = 5.0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when risk_per_trade_percent > 2 in live mode")
	}
	if !strings.Contains(err.Error(), "risk_per_trade_percent") {
		t.Errorf("error should mention risk_per_trade_percent, got: %v", err)
	}
}

func TestLiveMode_MaxTradesPerDayCap(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Risk.MaxTradesPerDay = 50

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when max_trades_per_day > 20 in live mode")
	}
}

func TestLiveMode_ValidConfigPasses(t *testing.T) {
	cfg := validLiveConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid live config should pass validation, got: %v", err)
	}
}

func TestPaperMode_SkipsLiveChecks(t *testing.T) {
	cfg := Config{
		TradingMode: ModePaper,
		Symbols:     []string{"EURUSD"},
		Strategy:    StrategyConfig{Name: "turtle_soup"},
		StrategyParams: StrategyParamsConfig{
			CRTEntryTimeframe: "M5",
			MinRR:             2.0,
		},
		Risk: RiskConfig{
			RiskPerTradePercent: 50, // would fail live mode, fine for paper
			MaxTradesPerDay:     500,
			AccountEquity:       10000,
			ValuePerPoint:       10,
		},
		News: NewsConfig{CalendarBaseURL: "https://calendar.example.com"},
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("paper mode should not enforce live mode caps, got: %v", err)
	}
}
