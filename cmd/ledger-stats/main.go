// Package main - ledger-stats prints a performance report over the
// Order Ledger's closed orders, using internal/analytics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nitinkhare/mt5crtengine/internal/analytics"
	"github.com/nitinkhare/mt5crtengine/internal/config"
	"github.com/nitinkhare/mt5crtengine/internal/ledger"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	sinceFlag := flag.String("since", "", "only include orders closed on or after this date (YYYY-MM-DD); defaults to 30 days back")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if !cfg.Database.Enabled {
		logger.Fatal().Msg("database.enabled is false; ledger-stats requires the Order Ledger")
	}

	since := time.Now().AddDate(0, 0, -30)
	if *sinceFlag != "" {
		parsed, err := time.Parse("2006-01-02", *sinceFlag)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid -since date, expected YYYY-MM-DD")
		}
		since = parsed
	}

	dbURL := dbURLFromConfig(cfg)
	ledg, err := ledger.Open(context.Background(), dbURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open order ledger")
	}
	defer ledg.Close()

	orders, err := ledg.ListClosed(context.Background(), since)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list closed orders")
	}

	report := analytics.Analyze(orders, cfg.Risk.AccountEquity, cfg.Risk.ValuePerPoint)
	fmt.Println(analytics.FormatReport(report))
}

func dbURLFromConfig(cfg *config.Config) string {
	if cfg.Database.Username == "" && cfg.Database.Password == "" {
		return cfg.Database.Server
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s", cfg.Database.Username, cfg.Database.Password, cfg.Database.Server, cfg.Database.Database)
}
