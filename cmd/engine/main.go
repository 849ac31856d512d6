// Package main is the entry point for the MT5 CRT/Turtle-Soup trading
// engine.
//
// The engine:
//  1. Loads configuration and opens the Order Ledger.
//  2. Connects the Broker Gateway to the MT5 bridge.
//  3. Builds the Session Scheduler, News Gate, and trading-day Clock.
//  4. Wires the Strategy Pipeline and Position Monitor.
//  5. Runs the Execution Loop until signalled to stop.
//
// Modes:
//   - paper: orders are simulated in-process against live ticks.
//   - live:  orders are sent to the real MT5 terminal via the bridge;
//     requires both --confirm-live and ENGINE_LIVE_CONFIRMED=true.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nitinkhare/mt5crtengine/internal/broker"
	"github.com/nitinkhare/mt5crtengine/internal/calendar"
	"github.com/nitinkhare/mt5crtengine/internal/candle"
	"github.com/nitinkhare/mt5crtengine/internal/config"
	"github.com/nitinkhare/mt5crtengine/internal/engine"
	"github.com/nitinkhare/mt5crtengine/internal/ledger"
	"github.com/nitinkhare/mt5crtengine/internal/monitor"
	"github.com/nitinkhare/mt5crtengine/internal/news"
	"github.com/nitinkhare/mt5crtengine/internal/postback"
	"github.com/nitinkhare/mt5crtengine/internal/risk"
	"github.com/nitinkhare/mt5crtengine/internal/scheduler"
	"github.com/nitinkhare/mt5crtengine/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	confirmLive := flag.Bool("confirm-live", false, "required safety flag to run in live trading mode")
	flag.Parse()

	logger := newLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = logger.Level(logLevelFromConfig(cfg.General.LogLevel))
	logger.Info().Str("mode", string(cfg.TradingMode)).Strs("symbols", cfg.Symbols).Msg("config loaded")

	if cfg.TradingMode == config.ModeLive {
		requireLiveConfirmation(*confirmLive, logger)
		logger.Warn().Msg("LIVE MODE ACTIVE - real orders will be placed against the broker")
	} else {
		logger.Info().Msg("PAPER MODE - simulated orders only, no real money at risk")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledg := openLedger(ctx, cfg, logger)
	defer ledg.Close()

	gw := openBroker(cfg, logger)
	if cfg.TradingMode == config.ModePaper {
		gw = broker.NewPaperBroker(gw, cfg.Risk.AccountEquity)
		logger.Info().Float64("starting_equity", cfg.Risk.AccountEquity).Msg("wrapped gateway in paper broker")
	}

	clock, err := calendar.LoadHolidays(orDefault(cfg.Calendar.Timezone, "America/New_York"), cfg.Calendar.HolidaysFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load trading-day calendar")
	}

	scraper := news.NewHTTPScraper(cfg.News.CalendarBaseURL)
	cacheMinutes := cfg.News.CacheMinutes
	if cacheMinutes <= 0 {
		cacheMinutes = 30
	}
	newsGate := news.NewGate(scraper, clock, time.Duration(cacheMinutes)*time.Minute)

	knownStrategies := map[string]bool{cfg.Strategy.Name: true}
	for _, s := range cfg.StrategySchedule.Sessions {
		knownStrategies[s.Strategy] = true
	}
	sched, err := scheduler.New(cfg.StrategySchedule, cfg.Strategy.Name, knownStrategies)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build session scheduler")
	}

	candles := candle.NewReader(gw, cfg.MT5.BrokerUTCOffsetMinutes)

	pipeline := strategy.New(gw, candles, newsGate, ledg, cfg.StrategyParams, cfg.Risk, logger)

	mon, err := monitor.New(gw, ledg, cfg.PositionMonitor.AutoClose, cfg.PositionMonitor.TrailingStop, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build position monitor")
	}

	breaker := risk.NewCircuitBreaker(cfg.CircuitBreaker, logger)

	loop := engine.New(gw, mon, sched, pipeline, newsGate, ledg, breaker, cfg.Symbols, cfg.TradingHours, cfg.Risk, logger)

	watcher := config.NewConfigWatcher(*configPath, cfg, logger)
	watcher.OnChange(func(old, newCfg *config.Config) {
		loop.Risk = newCfg.Risk
		pipeline.Risk = newCfg.Risk
		breaker.UpdateConfig(newCfg.CircuitBreaker)
		if newMon, err := monitor.New(gw, ledg, newCfg.PositionMonitor.AutoClose, newCfg.PositionMonitor.TrailingStop, logger); err != nil {
			logger.Warn().Err(err).Msg("config reload: failed to rebuild position monitor, keeping previous settings")
		} else {
			loop.Monitor = newMon
		}
	})
	if err := watcher.Start(); err != nil {
		logger.Warn().Err(err).Msg("config watcher failed to start, hot-reload disabled")
	}
	defer watcher.Stop()

	if cfg.Postback.Enabled {
		pb := postback.NewServer(postback.Config{Port: cfg.Postback.Port, Path: cfg.Postback.Path, Enabled: true}, logger)
		pb.OnOrderUpdate(func(update postback.OrderUpdate) {
			logger.Debug().Str("ticket", update.Ticket).Str("status", string(update.Status)).Msg("postback received, nudging monitor")
			mon.Nudge(ctx)
		})
		if err := pb.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start postback server")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			pb.Shutdown(shutdownCtx)
		}()
	}

	events := ledger.NewEventListener(dbURLFromConfig(cfg), nil, logger)
	eventCh := events.Start(ctx)
	go func() {
		for ev := range eventCh {
			logger.Debug().Str("channel", ev.Channel).Str("payload", ev.Payload).Msg("ledger event")
		}
	}()
	defer events.Stop()

	go serveMetrics(logger)

	logger.Info().Msg("engine: starting execution loop")
	loop.Run(ctx)
	logger.Info().Msg("engine: shutdown complete")
}

// requireLiveConfirmation enforces the double-confirmation gate for live
// trading: both the CLI flag and the environment variable must agree.
func requireLiveConfirmation(confirmLiveFlag bool, logger zerolog.Logger) {
	envConfirmed := os.Getenv("ENGINE_LIVE_CONFIRMED") == "true"
	if confirmLiveFlag && envConfirmed {
		return
	}
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "  LIVE MODE BLOCKED")
	fmt.Fprintln(os.Stderr, "  Live trading requires two explicit confirmations:")
	fmt.Fprintln(os.Stderr, "    1. CLI flag:   --confirm-live")
	fmt.Fprintln(os.Stderr, "    2. Env var:    ENGINE_LIVE_CONFIRMED=true")
	fmt.Fprintln(os.Stderr, "")
	if !confirmLiveFlag {
		fmt.Fprintln(os.Stderr, "  MISSING: --confirm-live flag")
	}
	if !envConfirmed {
		fmt.Fprintln(os.Stderr, "  MISSING: ENGINE_LIVE_CONFIRMED=true environment variable")
	}
	fmt.Fprintln(os.Stderr, "")
	os.Exit(1)
}

// newLogger builds the process-wide zerolog.Logger: a colorized console
// writer on an interactive TTY, plain JSON lines otherwise (e.g. under
// a supervisor or in CI).
func newLogger() zerolog.Logger {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *ledger.Ledger {
	if !cfg.Database.Enabled {
		logger.Fatal().Msg("database.enabled is false; the Order Ledger is required to run the engine")
	}
	ledg, err := ledger.Open(ctx, dbURLFromConfig(cfg), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open order ledger")
	}
	return ledg
}

func dbURLFromConfig(cfg *config.Config) string {
	if cfg.Database.Username == "" && cfg.Database.Password == "" {
		return cfg.Database.Server
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s", cfg.Database.Username, cfg.Database.Password, cfg.Database.Server, cfg.Database.Database)
}

func openBroker(cfg *config.Config, logger zerolog.Logger) broker.Broker {
	wsCfg := broker.WSConfig{URL: cfg.MT5.Server}
	configJSON, err := json.Marshal(wsCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to marshal broker config")
	}
	gw, err := broker.New("mt5-ws", configJSON)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize broker gateway")
	}
	return gw
}

// serveMetrics exposes Prometheus metrics on :9090/metrics. Failing to
// bind is logged, not fatal: metrics are observability, not correctness.
func serveMetrics(logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := ":9090"
	logger.Info().Str("addr", addr).Msg("serving prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn().Err(err).Msg("metrics server stopped")
	}
}

// logLevelFromConfig maps general.log_level to a zerolog.Level, matching
// the values config.Validate accepts.
func logLevelFromConfig(level string) zerolog.Level {
	switch level {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// orDefault returns v unless it is empty, in which case def is returned.
func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
