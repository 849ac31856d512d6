// Package analytics computes performance metrics from closed orders in
// the Order Ledger.
//
// It provides:
//   - Win rate, total P&L, average P&L
//   - Maximum drawdown (absolute and percentage)
//   - Sharpe ratio (annualized, assuming 252 trading days)
//   - Profit factor (gross profits / gross losses)
//   - Average hold time, min/max hold hours
//   - Per-strategy breakdown
//   - Human-readable formatted report
//
// All functions are stateless and work on slices of ledger.Order.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nitinkhare/mt5crtengine/internal/ledger"
)

// PerformanceReport holds all computed performance metrics.
type PerformanceReport struct {
	// Overall trade stats.
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // percentage (0-100)

	// P&L.
	TotalPnL    float64
	AveragePnL  float64
	GrossProfit float64
	GrossLoss   float64

	// Risk metrics.
	MaxDrawdown    float64 // absolute drawdown
	MaxDrawdownPct float64 // percentage drawdown from peak
	SharpeRatio    float64 // annualized
	ProfitFactor   float64 // gross profit / gross loss

	// Time metrics.
	AverageHoldHours float64
	MaxHoldHours     float64
	MinHoldHours     float64

	// Strategy breakdown.
	StrategyReports map[string]*StrategyReport
}

// StrategyReport holds per-strategy performance metrics.
type StrategyReport struct {
	StrategyID       string
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	TotalPnL         float64
	AveragePnL       float64
	AverageHoldHours float64
}

// EquityCurvePoint represents a point on the equity curve.
type EquityCurvePoint struct {
	Date     time.Time
	Equity   float64
	Drawdown float64
}

// pnl computes one order's realized profit in account currency. Side
// "SELL" inverts the price delta; valuePerPoint converts a one-unit
// price move at one lot of volume into account currency (e.g. $10 per
// point per standard lot for most FX pairs quoted in USD).
func pnl(o ledger.Order, valuePerPoint float64) float64 {
	if o.ClosePrice == nil {
		return 0
	}
	delta := *o.ClosePrice - o.Entry
	if o.Side == "SELL" {
		delta = -delta
	}
	return delta * o.Volume * valuePerPoint
}

func closeTime(o ledger.Order) time.Time {
	if o.ClosedAt != nil {
		return *o.ClosedAt
	}
	return o.OpenedAt
}

func holdHours(o ledger.Order) float64 {
	h := closeTime(o).Sub(o.OpenedAt).Hours()
	if h < 0 {
		h = 0
	}
	return h
}

// Analyze computes the full performance report from a slice of closed
// orders. initialCapital is the starting equity; valuePerPoint converts
// price deltas into account currency (see pnl). Returns an empty report
// (not nil) if no orders are provided.
func Analyze(orders []ledger.Order, initialCapital, valuePerPoint float64) *PerformanceReport {
	report := &PerformanceReport{
		StrategyReports: make(map[string]*StrategyReport),
	}

	if len(orders) == 0 {
		return report
	}

	sorted := make([]ledger.Order, len(orders))
	copy(sorted, orders)
	sort.Slice(sorted, func(i, j int) bool {
		return closeTime(sorted[i]).Before(closeTime(sorted[j]))
	})

	var totalHoldHours float64
	var pnls []float64
	report.MinHoldHours = math.MaxFloat64

	for _, o := range sorted {
		p := pnl(o, valuePerPoint)
		pnls = append(pnls, p)
		report.TotalTrades++
		report.TotalPnL += p

		if p > 0 {
			report.WinningTrades++
			report.GrossProfit += p
		} else if p < 0 {
			report.LosingTrades++
			report.GrossLoss += math.Abs(p)
		}

		hh := holdHours(o)
		totalHoldHours += hh
		if hh > report.MaxHoldHours {
			report.MaxHoldHours = hh
		}
		if hh < report.MinHoldHours {
			report.MinHoldHours = hh
		}

		sr, ok := report.StrategyReports[o.Strategy]
		if !ok {
			sr = &StrategyReport{StrategyID: o.Strategy}
			report.StrategyReports[o.Strategy] = sr
		}
		sr.TotalTrades++
		sr.TotalPnL += p
		sr.AverageHoldHours += hh
		if p > 0 {
			sr.WinningTrades++
		} else if p < 0 {
			sr.LosingTrades++
		}
	}

	if report.TotalTrades == 0 {
		report.MinHoldHours = 0
		return report
	}

	report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades) * 100
	report.AveragePnL = report.TotalPnL / float64(report.TotalTrades)
	report.AverageHoldHours = totalHoldHours / float64(report.TotalTrades)

	if report.GrossLoss > 0 {
		report.ProfitFactor = report.GrossProfit / report.GrossLoss
	} else if report.GrossProfit > 0 {
		report.ProfitFactor = math.Inf(1)
	}

	equity := initialCapital
	peak := equity
	for _, p := range pnls {
		equity += p
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		if dd > report.MaxDrawdown {
			report.MaxDrawdown = dd
			if peak > 0 {
				report.MaxDrawdownPct = (dd / peak) * 100
			}
		}
	}

	report.SharpeRatio = computeSharpeRatio(pnls)

	for _, sr := range report.StrategyReports {
		if sr.TotalTrades > 0 {
			sr.WinRate = float64(sr.WinningTrades) / float64(sr.TotalTrades) * 100
			sr.AveragePnL = sr.TotalPnL / float64(sr.TotalTrades)
			sr.AverageHoldHours = sr.AverageHoldHours / float64(sr.TotalTrades)
		}
	}

	return report
}

// EquityCurve generates the equity curve from orders sorted by close time.
func EquityCurve(orders []ledger.Order, initialCapital, valuePerPoint float64) []EquityCurvePoint {
	if len(orders) == 0 {
		return nil
	}

	sorted := make([]ledger.Order, len(orders))
	copy(sorted, orders)
	sort.Slice(sorted, func(i, j int) bool {
		return closeTime(sorted[i]).Before(closeTime(sorted[j]))
	})

	equity := initialCapital
	peak := equity
	points := make([]EquityCurvePoint, 0, len(sorted)+1)

	points = append(points, EquityCurvePoint{
		Date:   sorted[0].OpenedAt,
		Equity: equity,
	})

	for _, o := range sorted {
		equity += pnl(o, valuePerPoint)
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		points = append(points, EquityCurvePoint{
			Date:     closeTime(o),
			Equity:   equity,
			Drawdown: dd,
		})
	}

	return points
}

// FormatReport returns a human-readable text summary of the performance report.
func FormatReport(report *PerformanceReport) string {
	if report == nil || report.TotalTrades == 0 {
		return "No closed trades to analyze."
	}

	var b strings.Builder

	b.WriteString("======================================================\n")
	b.WriteString("              PERFORMANCE REPORT\n")
	b.WriteString("======================================================\n\n")

	b.WriteString("-- TRADE SUMMARY --\n")
	fmt.Fprintf(&b, "  Total trades:    %d\n", report.TotalTrades)
	fmt.Fprintf(&b, "  Winning trades:  %d (%.1f%%)\n", report.WinningTrades, report.WinRate)
	fmt.Fprintf(&b, "  Losing trades:   %d\n", report.LosingTrades)
	b.WriteString("\n")

	b.WriteString("-- PROFIT & LOSS --\n")
	fmt.Fprintf(&b, "  Total P&L:       %.2f\n", report.TotalPnL)
	fmt.Fprintf(&b, "  Average P&L:     %.2f\n", report.AveragePnL)
	fmt.Fprintf(&b, "  Gross profit:    %.2f\n", report.GrossProfit)
	fmt.Fprintf(&b, "  Gross loss:      %.2f\n", report.GrossLoss)
	fmt.Fprintf(&b, "  Profit factor:   %.2f\n", report.ProfitFactor)
	b.WriteString("\n")

	b.WriteString("-- RISK METRICS --\n")
	fmt.Fprintf(&b, "  Max drawdown:    %.2f (%.2f%%)\n", report.MaxDrawdown, report.MaxDrawdownPct)
	fmt.Fprintf(&b, "  Sharpe ratio:    %.2f\n", report.SharpeRatio)
	b.WriteString("\n")

	b.WriteString("-- HOLD TIME --\n")
	fmt.Fprintf(&b, "  Average:         %.1f hours\n", report.AverageHoldHours)
	fmt.Fprintf(&b, "  Min:             %.1f hours\n", report.MinHoldHours)
	fmt.Fprintf(&b, "  Max:             %.1f hours\n", report.MaxHoldHours)
	b.WriteString("\n")

	if len(report.StrategyReports) > 1 {
		b.WriteString("-- STRATEGY BREAKDOWN --\n")
		names := make([]string, 0, len(report.StrategyReports))
		for name := range report.StrategyReports {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sr := report.StrategyReports[name]
			fmt.Fprintf(&b, "  [%s]\n", sr.StrategyID)
			fmt.Fprintf(&b, "    Trades: %d | Win rate: %.1f%% | P&L: %.2f | Avg hold: %.1f hours\n",
				sr.TotalTrades, sr.WinRate, sr.TotalPnL, sr.AverageHoldHours)
		}
		b.WriteString("\n")
	}

	b.WriteString("======================================================\n")

	return b.String()
}

// computeSharpeRatio calculates the annualized Sharpe ratio from a slice
// of P&L values. Assumes zero risk-free rate and 252 trading days per
// year.
func computeSharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pnls {
		sum += p
	}
	mean := sum / float64(len(pnls))

	var variance float64
	for _, p := range pnls {
		diff := p - mean
		variance += diff * diff
	}
	variance /= float64(len(pnls) - 1)
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		return 0
	}

	return (mean / stdDev) * math.Sqrt(252)
}
