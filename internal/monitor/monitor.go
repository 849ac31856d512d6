// Package monitor implements the Position Monitor: the component that
// keeps the Ledger's view of open positions honest against the broker
// (reconciliation), force-closes everything at the daily flatten time
// (auto-close), and advances trailing stops on winning positions. It
// runs every Execution Loop cycle regardless of whether the Strategy
// Pipeline is permitted to analyze, since a position can need closing or
// protecting outside the trading window.
//
// Grounded on the reference engine's reconcilePositions/
// adjustTrailingStopLoss pair: the same read-broker-then-diff-ledger
// shape, and the same raise-only trailing stop with a cancel/replace
// order action, generalized from per-trade polling to the Broker Gateway
// contract.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nitinkhare/mt5crtengine/internal/broker"
	"github.com/nitinkhare/mt5crtengine/internal/config"
	"github.com/nitinkhare/mt5crtengine/internal/ledger"
)

// ledgerStore is the slice of *ledger.Ledger the monitor needs.
type ledgerStore interface {
	ListOpen(ctx context.Context) ([]ledger.Order, error)
	MarkClosed(ctx context.Context, ticket string, price float64, reason string, at time.Time) error
	Log(ctx context.Context, level, component, message string) error
}

// Monitor implements §4.5's two responsibilities (auto-close, trailing
// stop) plus the reconciliation pass that precedes both.
type Monitor struct {
	Broker broker.Broker
	Ledger ledgerStore
	Logger zerolog.Logger

	AutoClose config.AutoCloseConfig
	Trailing  config.TrailingStopConfig

	loc *time.Location

	mu            sync.Mutex
	flattenedDate string // "YYYY-MM-DD" in loc, set once today's flatten succeeds
}

// New builds a Monitor. Returns an error if auto_close.timezone is set
// but not a valid IANA zone.
func New(b broker.Broker, ledg ledgerStore, autoCloseCfg config.AutoCloseConfig, trailingCfg config.TrailingStopConfig, logger zerolog.Logger) (*Monitor, error) {
	loc := time.UTC
	if autoCloseCfg.Timezone != "" {
		l, err := time.LoadLocation(autoCloseCfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("monitor: invalid auto_close.timezone %q: %w", autoCloseCfg.Timezone, err)
		}
		loc = l
	}
	return &Monitor{Broker: b, Ledger: ledg, Logger: logger, AutoClose: autoCloseCfg, Trailing: trailingCfg, loc: loc}, nil
}

// Run executes one monitor cycle at instant now: reconcile, then
// auto-close, then trailing stop, per §5's ordering guarantee. Each
// sub-step logs and continues past its own failure rather than aborting
// the whole cycle — a broker hiccup in the trailing-stop pass must not
// prevent next cycle's reconciliation from healing drift.
func (m *Monitor) Run(ctx context.Context, now time.Time) {
	if err := m.reconcile(ctx, nil); err != nil {
		m.Logger.Warn().Err(err).Msg("monitor: reconcile failed, broker remains source of truth")
	}
	if err := m.autoClose(ctx, now); err != nil {
		m.Logger.Error().Err(err).Msg("monitor: auto_close failed")
	}
	if err := m.trailingStop(ctx); err != nil {
		m.Logger.Warn().Err(err).Msg("monitor: trailing_stop failed")
	}
}

// Nudge lets an out-of-band signal — a postback fill/reject
// notification — short-circuit the wait for next cycle's reconcile pass.
// It is a pure optimization: reconcile still runs every Execution Loop
// cycle regardless, so a dropped or failed Nudge only costs latency,
// never correctness.
func (m *Monitor) Nudge(ctx context.Context) {
	if err := m.reconcile(ctx, nil); err != nil {
		m.Logger.Debug().Err(err).Msg("monitor: postback-triggered reconcile failed")
	}
}

// reconcile diffs the ledger's open set against the broker's, marking
// any ledger row absent from the broker's open positions as closed.
// forced supplies a known close_reason for tickets this cycle's
// auto-close just requested (AutoClose), overriding the normal
// price-comparison inference.
func (m *Monitor) reconcile(ctx context.Context, forced map[string]string) error {
	ledgerOpen, err := m.Ledger.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: list_open: %w", err)
	}
	if len(ledgerOpen) == 0 {
		return nil
	}

	brokerOpen, err := m.Broker.OpenPositions(ctx, "")
	if err != nil {
		return fmt.Errorf("reconcile: open_positions: %w", err)
	}
	brokerSet := make(map[string]bool, len(brokerOpen))
	for _, p := range brokerOpen {
		brokerSet[p.Ticket] = true
	}

	for _, o := range ledgerOpen {
		if brokerSet[o.Ticket] {
			continue
		}
		deal, err := m.Broker.HistoryDeal(ctx, o.Ticket)
		if err != nil {
			m.Logger.Warn().Err(err).Str("ticket", o.Ticket).
				Msg("monitor: reconcile: history_deal unavailable, leaving open for next cycle")
			continue
		}

		reason := forced[o.Ticket]
		if reason == "" {
			reason = m.inferCloseReason(ctx, o, deal)
		}
		if err := m.Ledger.MarkClosed(ctx, o.Ticket, deal.ClosePrice, reason, deal.ClosedAt); err != nil {
			m.Logger.Error().Err(err).Str("ticket", o.Ticket).Msg("monitor: reconcile: mark_closed failed")
			continue
		}
		m.Logger.Info().Str("ticket", o.Ticket).Str("symbol", o.Symbol).Str("reason", reason).
			Msg("monitor: reconcile: position closed")
	}
	return nil
}

// inferCloseReason classifies a ticket no longer open at the broker by
// comparing its historical close price to the recorded tp/sl within a
// small tolerance derived from the symbol's point size.
func (m *Monitor) inferCloseReason(ctx context.Context, o ledger.Order, deal broker.Deal) string {
	var tol float64
	if info, err := m.Broker.SymbolInfo(ctx, o.Symbol); err == nil && info.Point > 0 {
		tol = info.Point * 3
	}
	switch {
	case o.TakeProfit > 0 && absf(deal.ClosePrice-o.TakeProfit) <= tol:
		return string(broker.CloseReasonTP)
	case o.StopLoss > 0 && absf(deal.ClosePrice-o.StopLoss) <= tol:
		return string(broker.CloseReasonSL)
	default:
		return string(broker.CloseReasonManual)
	}
}

// autoClose implements §4.5.1: at or after T_flat, close every open
// position, once per calendar day in the configured zone. It is
// idempotent within the day — once a pass finds the ledger empty, the
// guard is set and subsequent calls this day are no-ops.
func (m *Monitor) autoClose(ctx context.Context, now time.Time) error {
	if !m.AutoClose.Enabled {
		return nil
	}
	targetMinute, err := parseHHMM(orDefaultStr(m.AutoClose.Time, "16:50"))
	if err != nil {
		return fmt.Errorf("auto_close: %w", err)
	}

	local := now.In(m.loc)
	today := local.Format("2006-01-02")

	m.mu.Lock()
	already := m.flattenedDate == today
	m.mu.Unlock()
	if already {
		return nil
	}
	if minuteOfDay(local) < targetMinute {
		return nil
	}

	open, err := m.Ledger.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("auto_close: list_open: %w", err)
	}
	if len(open) == 0 {
		m.markFlattened(today)
		return nil
	}

	closed := make(map[string]string, len(open))
	for _, o := range open {
		if err := m.Broker.Close(ctx, o.Ticket); err != nil {
			m.Logger.Warn().Err(err).Str("ticket", o.Ticket).
				Msg("monitor: auto_close: close failed, will retry next cycle")
			continue
		}
		closed[o.Ticket] = string(broker.CloseReasonAutoClose)
		m.Logger.Info().Str("ticket", o.Ticket).Str("symbol", o.Symbol).Msg("monitor: auto_close: close requested")
	}

	if err := m.reconcile(ctx, closed); err != nil {
		m.Logger.Warn().Err(err).Msg("monitor: auto_close: reconcile after close failed")
	}

	remaining, err := m.Ledger.ListOpen(ctx)
	if err == nil && len(remaining) == 0 {
		m.markFlattened(today)
		if err := m.Ledger.Log(ctx, "INFO", "position_monitor", "auto_close: flattened all positions for "+today); err != nil {
			m.Logger.Warn().Err(err).Msg("monitor: auto_close: ledger log failed")
		}
	}
	return nil
}

func (m *Monitor) markFlattened(today string) {
	m.mu.Lock()
	m.flattenedDate = today
	m.mu.Unlock()
}

// trailingStop implements §4.5.2. It reads the broker's own open
// positions as the source of truth for the currently-applied stop loss
// (rather than the Ledger's insert-time snapshot), which is what makes a
// second consecutive pass at an unchanged price a no-op: the broker will
// already report the raised stop.
func (m *Monitor) trailingStop(ctx context.Context) error {
	if !m.Trailing.Enabled {
		return nil
	}
	positions, err := m.Broker.OpenPositions(ctx, "")
	if err != nil {
		return fmt.Errorf("trailing_stop: open_positions: %w", err)
	}

	trigger := orDefaultF(m.Trailing.TriggerPercent, 70) / 100
	slFraction := orDefaultF(m.Trailing.SLPercent, 50) / 100

	for _, pos := range positions {
		if pos.TakeProfit <= 0 || pos.Entry <= 0 {
			continue
		}
		tick, err := m.Broker.Tick(ctx, pos.Symbol)
		if err != nil {
			m.Logger.Warn().Err(err).Str("ticket", pos.Ticket).Msg("monitor: trailing_stop: tick unavailable")
			continue
		}

		var progress, newSL, refPrice float64
		switch pos.Side {
		case broker.Buy:
			reward := pos.TakeProfit - pos.Entry
			if reward <= 0 {
				continue
			}
			progress = (tick.Bid - pos.Entry) / reward
			newSL = pos.Entry + slFraction*reward
			refPrice = tick.Bid
		case broker.Sell:
			reward := pos.Entry - pos.TakeProfit
			if reward <= 0 {
				continue
			}
			progress = (pos.Entry - tick.Ask) / reward
			newSL = pos.Entry - slFraction*reward
			refPrice = tick.Ask
		default:
			continue
		}
		progress = clamp01(progress)
		if progress < trigger {
			continue
		}

		favorable := false
		switch pos.Side {
		case broker.Buy:
			favorable = pos.StopLoss <= 0 || newSL > pos.StopLoss
		case broker.Sell:
			favorable = pos.StopLoss <= 0 || newSL < pos.StopLoss
		}
		if !favorable {
			continue
		}

		if info, err := m.Broker.SymbolInfo(ctx, pos.Symbol); err == nil && info.StopLevelPoints > 0 {
			minDist := info.StopLevelPoints * info.Point
			if absf(refPrice-newSL) < minDist {
				continue
			}
		}

		if err := m.Broker.Modify(ctx, pos.Ticket, newSL, pos.TakeProfit); err != nil {
			m.Logger.Warn().Err(err).Str("ticket", pos.Ticket).Msg("monitor: trailing_stop: modify failed")
			continue
		}
		m.Logger.Info().Str("ticket", pos.Ticket).Float64("old_sl", pos.StopLoss).
			Float64("new_sl", newSL).Float64("progress", progress).Msg("monitor: trailing_stop: raised")
		if err := m.Ledger.Log(ctx, "INFO", "position_monitor",
			fmt.Sprintf("trailing stop %s: %.5f -> %.5f (progress=%.2f)", pos.Ticket, pos.StopLoss, newSL, progress)); err != nil {
			m.Logger.Warn().Err(err).Msg("monitor: trailing_stop: ledger log failed")
		}
	}
	return nil
}

func parseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time out of range: %q", s)
	}
	return h*60 + m, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func orDefaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultF(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
