// Package risk implements the hard guardrails between a detected pattern
// and a submitted order: risk-reward enforcement, position sizing, and
// the daily/position caps from spec §4.4 Stage 4 and §6's
// risk_management config. These rules cannot be overridden by the
// Strategy Pipeline — a trade that fails here is never sent to the
// broker, full stop.
package risk

import (
	"fmt"

	"github.com/nitinkhare/mt5crtengine/internal/broker"
	"github.com/nitinkhare/mt5crtengine/internal/config"
)

// Direction mirrors the pattern package's Bullish/Bearish distinction
// without importing it, to keep risk dependency-free of detector types.
type Direction int

const (
	Bullish Direction = iota
	Bearish
)

// SizingInput bundles everything Stage 4 needs to turn a pattern target
// into a sized, RR-validated order.
type SizingInput struct {
	Direction     Direction
	Entry         float64
	StopLoss      float64
	TakeProfit    float64
	AccountEquity float64
	RiskPercent   float64 // risk_management.risk_per_trade_percent
	RRMin         float64 // strategy_config.min_rr
	ValuePerPoint float64 // account-currency value of one price unit per 1.0 lot
	Symbol        broker.SymbolInfo
	MaxPositionSize float64 // risk_management.max_position_size, 0 = unbounded
}

// SizingResult is the final, risk-validated order sizing.
type SizingResult struct {
	StopLoss   float64
	TakeProfit float64
	RR         float64
	Volume     float64
}

// RejectionReason explains why Stage 4 rejected a candidate order.
type RejectionReason struct {
	Rule    string
	Message string
}

func (r RejectionReason) Error() string {
	return fmt.Sprintf("risk rejected [%s]: %s", r.Rule, r.Message)
}

// Size computes §4.4 Stage 4: enforce rr >= rr_min (tightening sl once,
// then forcing tp outward if still short), size the position from
// risk-percent of equity, and clamp/snap to the broker's volume
// constraints. Returns a RejectionReason if the symbol cannot be traded
// at any volume that satisfies the broker's minimums.
func Size(in SizingInput) (SizingResult, error) {
	if in.Entry <= 0 || in.StopLoss <= 0 {
		return SizingResult{}, RejectionReason{"INVALID_PRICES", "entry and stop loss must be positive"}
	}

	riskPerUnit := absf(in.Entry - in.StopLoss)
	if riskPerUnit <= 0 {
		return SizingResult{}, RejectionReason{"ZERO_RISK", "stop loss equals entry"}
	}

	sl := in.StopLoss
	tp := in.TakeProfit
	rrMin := in.RRMin
	if rrMin < 1 {
		rrMin = 1
	}

	rr := absf(tp-in.Entry) / riskPerUnit

	if rr < rrMin {
		// First attempt: tighten sl once, moving it toward entry just far
		// enough that rr == rrMin. Size is not given the pattern's
		// invalidation boundary, so the tightened sl is not kept beyond
		// it; with a non-zero reward this step alone reaches rrMin.
		tightenedRisk := absf(tp-in.Entry) / rrMin
		if tightenedRisk > 0 && tightenedRisk < riskPerUnit {
			riskPerUnit = tightenedRisk
			if in.Direction == Bullish {
				sl = in.Entry - riskPerUnit
			} else {
				sl = in.Entry + riskPerUnit
			}
			rr = absf(tp-in.Entry) / riskPerUnit
		}
	}

	if rr < rrMin {
		// Still short: force tp outward to satisfy rr_min exactly. Never
		// tighten tp below the pattern target — only extend away from
		// entry.
		requiredReward := riskPerUnit * rrMin
		if in.Direction == Bullish {
			forced := in.Entry + requiredReward
			if forced > tp {
				tp = forced
			}
		} else {
			forced := in.Entry - requiredReward
			if forced < tp {
				tp = forced
			}
		}
		rr = absf(tp-in.Entry) / riskPerUnit
	}

	if rr < rrMin-1e-9 {
		return SizingResult{}, RejectionReason{"RR_BELOW_MINIMUM", fmt.Sprintf("rr %.3f below minimum %.3f even after forcing", rr, rrMin)}
	}

	if in.ValuePerPoint <= 0 {
		return SizingResult{}, RejectionReason{"INVALID_VALUE_PER_POINT", "value_per_point must be positive"}
	}
	if in.AccountEquity <= 0 || in.RiskPercent <= 0 {
		return SizingResult{}, RejectionReason{"INVALID_EQUITY", "account equity and risk percent must be positive"}
	}

	riskAmount := in.AccountEquity * (in.RiskPercent / 100.0)
	rawVolume := riskAmount / (riskPerUnit * in.ValuePerPoint)

	volume := clampAndSnapVolume(rawVolume, in.Symbol)
	if in.MaxPositionSize > 0 && volume > in.MaxPositionSize {
		volume = snapToStep(in.MaxPositionSize, in.Symbol.VolumeStep)
	}
	if volume < in.Symbol.VolumeMin {
		return SizingResult{}, RejectionReason{"VOLUME_BELOW_MINIMUM", fmt.Sprintf("sized volume %.4f below broker minimum %.4f", volume, in.Symbol.VolumeMin)}
	}

	return SizingResult{StopLoss: sl, TakeProfit: tp, RR: rr, Volume: volume}, nil
}

// clampAndSnapVolume clamps raw to [volume_min, volume_max] and snaps to
// the nearest volume_step, per §4.4 and the Broker Gateway contract in §6.
func clampAndSnapVolume(raw float64, sym broker.SymbolInfo) float64 {
	v := raw
	if sym.VolumeMax > 0 && v > sym.VolumeMax {
		v = sym.VolumeMax
	}
	if sym.VolumeMin > 0 && v < sym.VolumeMin {
		v = sym.VolumeMin
	}
	return snapToStep(v, sym.VolumeStep)
}

func snapToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	steps := v / step
	rounded := float64(int64(steps + 0.5))
	return rounded * step
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Preconditions holds the remaining Stage 4 gate checks that are not
// about price/size: daily trade count, duplicate-symbol guard, and
// AutoTrading permission.
type Preconditions struct {
	TradesToday        int
	MaxTradesPerDay     int
	HasOpenPositionHere bool
	AutoTradingAllowed  bool
}

// CheckPreconditions evaluates the final Stage-4 gate before an order is
// submitted. Returns a RejectionReason on the first failing check.
func CheckPreconditions(p Preconditions) error {
	if p.MaxTradesPerDay > 0 && p.TradesToday >= p.MaxTradesPerDay {
		return RejectionReason{"MAX_TRADES_PER_DAY", fmt.Sprintf("%d/%d trades already taken today", p.TradesToday, p.MaxTradesPerDay)}
	}
	if p.HasOpenPositionHere {
		return RejectionReason{"DUPLICATE_POSITION", "an order on this symbol is already open"}
	}
	if !p.AutoTradingAllowed {
		return RejectionReason{"AUTOTRADING_DISABLED", "AutoTrading is not permitted by the broker terminal"}
	}
	return nil
}

// ShouldCloseDayOnFirstTP reports whether risk_management.close_day_on_first_tp
// should suppress further entries after today's first take-profit close.
func ShouldCloseDayOnFirstTP(cfg config.RiskConfig, hasFirstTPToday bool) bool {
	return cfg.CloseDayOnFirstTP && hasFirstTPToday
}
