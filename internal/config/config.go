// Package config provides application-wide configuration management.
// All configuration is loaded from files and environment variables.
// No configuration is hardcoded in strategy, detector, or gateway logic.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Mode defines whether the system runs in paper or live trading mode.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Config holds all system configuration.
// Loaded once at startup and passed as read-only to all components.
type Config struct {
	MT5              MT5Config              `json:"mt5"`
	TradingMode      Mode                    `json:"trading_mode"`
	Symbols          []string                `json:"symbols"`
	TradingHours     TradingHoursConfig      `json:"trading_hours"`
	Strategy         StrategyConfig          `json:"strategy"`
	StrategySchedule StrategyScheduleConfig  `json:"strategy_schedule"`
	StrategyParams   StrategyParamsConfig    `json:"strategy_config"`
	Risk             RiskConfig              `json:"risk_management"`
	PositionMonitor  PositionMonitorConfig   `json:"position_monitoring"`
	CircuitBreaker   CircuitBreakerConfig    `json:"circuit_breaker"`
	Database         DatabaseConfig          `json:"database"`
	Postback         PostbackConfig         `json:"postback"`
	News             NewsConfig              `json:"news"`
	Calendar         CalendarConfig          `json:"calendar"`
	General          GeneralConfig           `json:"general"`
}

// NewsConfig configures the economic-calendar scrape the News Gate reads
// for high-impact events.
type NewsConfig struct {
	CalendarBaseURL string `json:"calendar_base_url"`
	CacheMinutes    int    `json:"cache_minutes"` // default 30 if zero
}

// CalendarConfig configures the trading-day holiday calendar the Clock
// consults independently of the News Gate's event scrape.
type CalendarConfig struct {
	Timezone     string `json:"timezone"` // default "America/New_York" if empty
	HolidaysFile string `json:"holidays_file"`
}

// MT5Config holds the broker-terminal bridge connection parameters.
type MT5Config struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
	// BrokerUTCOffsetMinutes, when non-zero, overrides the auto-detected
	// broker-zone offset (see candle.Reader). Left at zero, the reader
	// infers the offset from one recently closed bar, as the original
	// source behavior did.
	BrokerUTCOffsetMinutes int `json:"broker_utc_offset_minutes"`
}

// TradingHoursConfig bounds the window during which the Execution Loop
// is permitted to run the Strategy Pipeline (the Position Monitor always
// runs regardless).
type TradingHoursConfig struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"start_time"` // "HH:MM"
	EndTime   string `json:"end_time"`   // "HH:MM"
	Timezone  string `json:"timezone"`
}

// StrategyConfig names the default strategy used when the session
// schedule does not cover the current instant.
type StrategyConfig struct {
	Name string `json:"name"`
}

// StrategyScheduleConfig maps wall-clock sessions to strategy names.
type StrategyScheduleConfig struct {
	Enabled  bool            `json:"enabled"`
	Timezone string          `json:"timezone"`
	Sessions []SessionConfig `json:"sessions"`
}

// SessionConfig is one entry of the session schedule.
type SessionConfig struct {
	Name      string `json:"name"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Strategy  string `json:"strategy"`
}

// StrategyParamsConfig tunes the detector/entry layer of the pipeline.
type StrategyParamsConfig struct {
	CRTEntryTimeframe       string  `json:"crt_entry_timeframe"`
	MinRR                   float64 `json:"min_rr"`
	CRTHighTimeframe        string  `json:"crt_high_timeframe"`
	CRTUseVayas             bool    `json:"crt_use_vayas"`
	CRTUseEngulfing         bool    `json:"crt_use_engulfing"`
	CRTLookback             int     `json:"crt_lookback"`
	DailyLevelTolerancePips float64 `json:"daily_level_tolerance_pips"`
	DailyLevelLookback      int     `json:"daily_level_lookback"`
	FVGEntryTolerancePips   float64 `json:"fvg_entry_tolerance_pips"`
	NewsBeforeMinutes       int     `json:"news_before_minutes"`
	NewsAfterMinutes        int     `json:"news_after_minutes"`
	NewsConsecutiveWindow   int     `json:"news_consecutive_window_minutes"`
}

// RiskConfig defines hard risk guardrails. Hot-reloadable.
type RiskConfig struct {
	RiskPerTradePercent float64 `json:"risk_per_trade_percent"`
	MaxTradesPerDay     int     `json:"max_trades_per_day"`
	MaxPositionSize     float64 `json:"max_position_size"`
	CloseDayOnFirstTP   bool    `json:"close_day_on_first_tp"`
	// AccountEquity and ValuePerPoint feed risk.Size's sizing formula.
	// The Broker Gateway contract (§6) has no account-info capability, so
	// equity is configured rather than queried live; a hot-reload is the
	// operator's way of keeping it current between restarts.
	AccountEquity float64 `json:"account_equity"`
	ValuePerPoint float64 `json:"value_per_point"`
}

// PositionMonitorConfig configures the Position Monitor. Hot-reloadable.
type PositionMonitorConfig struct {
	TrailingStop TrailingStopConfig `json:"trailing_stop"`
	AutoClose    AutoCloseConfig    `json:"auto_close"`
}

// TrailingStopConfig tunes trailing-stop advancement.
type TrailingStopConfig struct {
	Enabled        bool    `json:"enabled"`
	TriggerPercent float64 `json:"trigger_percent"`
	SLPercent      float64 `json:"sl_percent"`
}

// AutoCloseConfig tunes the T_flat hard close-out.
type AutoCloseConfig struct {
	Enabled  bool   `json:"enabled"`
	Time     string `json:"time"` // "HH:MM", default 16:50
	Timezone string `json:"timezone"`
}

// CircuitBreakerConfig tunes the gateway-failure circuit breaker.
// Hot-reloadable.
type CircuitBreakerConfig struct {
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
	MaxFailuresPerHour     int `json:"max_failures_per_hour"`
	CooldownMinutes        int `json:"cooldown_minutes"`
}

// DatabaseConfig describes the durable order ledger connection.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Server   string `json:"server"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	Driver   string `json:"driver"`
}

// PostbackConfig configures the optional async fill-notification server.
type PostbackConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// GeneralConfig holds miscellaneous operational settings.
type GeneralConfig struct {
	LogLevel string `json:"log_level"`
}

// Load reads configuration from a JSON file.
// Environment variables override file values where applicable.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}

	if v := os.Getenv("ENGINE_TRADING_MODE"); v != "" {
		cfg.TradingMode = Mode(v)
	}
	if v := os.Getenv("ENGINE_DATABASE_URL"); v != "" {
		cfg.Database.Server = v
	}
	if v := os.Getenv("ENGINE_MT5_SERVER"); v != "" {
		cfg.MT5.Server = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are present and sane.
func (c *Config) Validate() error {
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if c.Risk.RiskPerTradePercent <= 0 || c.Risk.RiskPerTradePercent > 100 {
		return fmt.Errorf("risk_management.risk_per_trade_percent must be in (0, 100], got %f", c.Risk.RiskPerTradePercent)
	}
	if c.Risk.MaxTradesPerDay <= 0 {
		return fmt.Errorf("risk_management.max_trades_per_day must be positive, got %d", c.Risk.MaxTradesPerDay)
	}
	if c.Risk.AccountEquity <= 0 {
		return fmt.Errorf("risk_management.account_equity must be positive, got %f", c.Risk.AccountEquity)
	}
	if c.Risk.ValuePerPoint <= 0 {
		return fmt.Errorf("risk_management.value_per_point must be positive, got %f", c.Risk.ValuePerPoint)
	}
	if c.StrategyParams.MinRR < 1 {
		return fmt.Errorf("strategy_config.min_rr must be >= 1, got %f", c.StrategyParams.MinRR)
	}
	switch c.StrategyParams.CRTEntryTimeframe {
	case "M1", "M5", "M15", "M30", "H1":
	default:
		return fmt.Errorf("strategy_config.crt_entry_timeframe must be one of M1/M5/M15/M30/H1, got %q", c.StrategyParams.CRTEntryTimeframe)
	}
	if c.Database.Enabled && c.Database.Server == "" {
		return fmt.Errorf("database.server is required when database.enabled is true")
	}
	if c.News.CalendarBaseURL == "" {
		return fmt.Errorf("news.calendar_base_url is required")
	}
	for _, s := range c.StrategySchedule.Sessions {
		if s.Name == "" || s.Strategy == "" {
			return fmt.Errorf("strategy_schedule: every session requires name and strategy")
		}
	}
	switch c.General.LogLevel {
	case "", "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		return fmt.Errorf("general.log_level must be one of DEBUG/INFO/WARNING/ERROR, got %q", c.General.LogLevel)
	}

	if c.TradingMode == ModeLive {
		if err := c.validateLiveMode(); err != nil {
			return fmt.Errorf("live mode: %w", err)
		}
	}

	return nil
}

// validateLiveMode enforces extra safety checks when running with real money.
func (c *Config) validateLiveMode() error {
	if c.MT5.Login == "" || c.MT5.Server == "" {
		return fmt.Errorf("mt5.login and mt5.server are required for live trading")
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("risk_management.max_position_size must be positive in live mode")
	}
	if c.Risk.RiskPerTradePercent > 2.0 {
		return fmt.Errorf("risk_per_trade_percent cannot exceed 2%% in live mode (got %.1f%%)", c.Risk.RiskPerTradePercent)
	}
	if c.Risk.MaxTradesPerDay > 20 {
		return fmt.Errorf("max_trades_per_day cannot exceed 20 in live mode (got %d)", c.Risk.MaxTradesPerDay)
	}
	return nil
}
