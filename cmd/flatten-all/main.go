// Package main - flatten-all forces an immediate close of every open
// position via the Broker Gateway and marks the corresponding Order
// Ledger rows closed, independent of the Position Monitor's normal
// T_flat schedule. Intended for manual intervention (a stuck position,
// an operator-triggered emergency flatten).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nitinkhare/mt5crtengine/internal/broker"
	"github.com/nitinkhare/mt5crtengine/internal/config"
	"github.com/nitinkhare/mt5crtengine/internal/ledger"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	confirm := flag.Bool("confirm", false, "required safety flag; without it, only a dry-run list of open positions is printed")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if !cfg.Database.Enabled {
		logger.Fatal().Msg("database.enabled is false; flatten-all requires the Order Ledger")
	}

	ctx := context.Background()

	wsCfg := broker.WSConfig{URL: cfg.MT5.Server}
	configJSON, err := json.Marshal(wsCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to marshal broker config")
	}
	gw, err := broker.New("mt5-ws", configJSON)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to broker gateway")
	}

	ledg, err := ledger.Open(ctx, dbURLFromConfig(cfg), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open order ledger")
	}
	defer ledg.Close()

	positions, err := gw.OpenPositions(ctx, "")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list open positions")
	}

	if len(positions) == 0 {
		fmt.Println("no open positions, nothing to flatten")
		return
	}

	fmt.Printf("%d open position(s):\n", len(positions))
	for _, p := range positions {
		fmt.Printf("  ticket=%s symbol=%s side=%s volume=%.2f entry=%.5f\n", p.Ticket, p.Symbol, p.Side, p.Volume, p.Entry)
	}

	if !*confirm {
		fmt.Println("\ndry run: pass -confirm to close every position listed above")
		return
	}

	now := time.Now().UTC()
	var failures int
	for _, p := range positions {
		if err := gw.Close(ctx, p.Ticket); err != nil {
			logger.Error().Err(err).Str("ticket", p.Ticket).Msg("failed to close position")
			failures++
			continue
		}
		tick, err := gw.Tick(ctx, p.Symbol)
		closePrice := p.Entry
		if err == nil {
			closePrice = tick.Bid
		}
		if err := ledg.MarkClosed(ctx, p.Ticket, closePrice, "manual_flatten", now); err != nil {
			logger.Error().Err(err).Str("ticket", p.Ticket).Msg("closed at broker but failed to mark ledger row closed")
			failures++
			continue
		}
		fmt.Printf("closed %s\n", p.Ticket)
	}

	if failures > 0 {
		fmt.Printf("\n%d of %d positions failed to close cleanly; check logs and re-run\n", failures, len(positions))
		os.Exit(1)
	}
	fmt.Println("\nall positions flattened")
}

func dbURLFromConfig(cfg *config.Config) string {
	if cfg.Database.Username == "" && cfg.Database.Password == "" {
		return cfg.Database.Server
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s", cfg.Database.Username, cfg.Database.Password, cfg.Database.Server, cfg.Database.Database)
}
