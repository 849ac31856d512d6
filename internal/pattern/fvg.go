// Package pattern implements the CRT/Turtle-Soup pattern family as pure
// functions over 3-5 bars: FVG, Turtle-Soup, CRT-Continuation,
// CRT-Revision, CRT-Extreme, and Daily-Levels. No detector performs I/O;
// all history is supplied by the caller via internal/candle.
package pattern

import (
	"github.com/nitinkhare/mt5crtengine/internal/candle"
)

// FVGKind classifies a Fair Value Gap by direction.
type FVGKind int

const (
	NoFVG FVGKind = iota
	FVGBullish
	FVGBearish
)

// FVG is a three-bar non-overlap gap pattern. V1 is the older bar, V2 the
// middle bar (ignored for formation), V3 the forming/current bar.
type FVG struct {
	Kind      FVGKind
	Bottom    float64
	Top       float64
	Size      float64
	Symbol    string
	Timeframe candle.Timeframe

	Entered          bool
	Exited           bool
	ExitDirection    FVGKind // direction of the exit, Bullish or Bearish
	BottomTouched    bool
	TopTouched       bool
	FilledCompletely bool
}

// DetectFVG evaluates v1/v2/v3 for a Fair Value Gap and, given the
// current tick price, derives the entered/exited/touched flags. v2 only
// participates as the bar between v1 and v3; its own OHLC does not affect
// formation.
func DetectFVG(v1, v2, v3 candle.Bar, tickPrice float64) FVG {
	_ = v2

	switch {
	case v3.Low > v1.High:
		f := FVG{
			Kind:      FVGBullish,
			Bottom:    v1.High,
			Top:       v3.Low,
			Symbol:    v3.Symbol,
			Timeframe: v3.Timeframe,
		}
		f.Size = f.Top - f.Bottom
		f.Entered = v3.Low <= f.Top && v3.High >= f.Bottom
		f.BottomTouched = tickPrice <= f.Bottom
		f.TopTouched = tickPrice >= f.Top
		f.FilledCompletely = v3.Low <= v1.High
		if f.Entered {
			if tickPrice > f.Top {
				f.Exited = true
				f.ExitDirection = FVGBullish
			} else if tickPrice < f.Bottom {
				f.Exited = true
				f.ExitDirection = FVGBearish
			}
		}
		return f

	case v3.High < v1.Low:
		f := FVG{
			Kind:      FVGBearish,
			Bottom:    v3.High,
			Top:       v1.Low,
			Symbol:    v3.Symbol,
			Timeframe: v3.Timeframe,
		}
		f.Size = f.Top - f.Bottom
		f.Entered = v3.High >= f.Bottom && v3.Low <= f.Top
		f.BottomTouched = tickPrice <= f.Bottom
		f.TopTouched = tickPrice >= f.Top
		f.FilledCompletely = v3.High >= v1.Low
		if f.Entered {
			if tickPrice < f.Bottom {
				f.Exited = true
				f.ExitDirection = FVGBearish
			} else if tickPrice > f.Top {
				f.Exited = true
				f.ExitDirection = FVGBullish
			}
		}
		return f

	default:
		return FVG{Kind: NoFVG}
	}
}

// ExitedWithTolerance re-evaluates the exit condition allowing price to
// be within tolerance of the boundary rather than strictly beyond it —
// the "implicit" entry/exit tolerance §9 leaves open, exposed by callers
// as strategy_config.fvg_entry_tolerance_pips. tolerance of 0 matches
// DetectFVG's own strict Exited/ExitDirection fields exactly.
func (f FVG) ExitedWithTolerance(tickPrice, tolerance float64) (bool, FVGKind) {
	if !f.Entered {
		return false, NoFVG
	}
	switch f.Kind {
	case FVGBullish:
		if tickPrice > f.Top-tolerance {
			return true, FVGBullish
		}
		if tickPrice < f.Bottom+tolerance {
			return true, FVGBearish
		}
	case FVGBearish:
		if tickPrice < f.Bottom+tolerance {
			return true, FVGBearish
		}
		if tickPrice > f.Top-tolerance {
			return true, FVGBullish
		}
	}
	return false, NoFVG
}
