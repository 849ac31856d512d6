package pattern

import "github.com/nitinkhare/mt5crtengine/internal/candle"

// Direction is the directional bias a detector assigns to a signal.
type Direction int

const (
	NoDirection Direction = iota
	Bullish
	Bearish
)

// TurtleSoupSignal is the result of the H4 liquidity-sweep detector.
type TurtleSoupSignal struct {
	Detected    bool
	Direction   Direction
	TargetPrice float64
	SweptBar    candle.Bar // the c1/c5 bar whose extreme was swept
}

// DetectTurtleSoup evaluates the 1 AM / 5 AM / 9 AM NY H4 key candles for
// a liquidity sweep at c9. c9 may still be forming.
func DetectTurtleSoup(c1, c5, c9 candle.Bar) TurtleSoupSignal {
	switch {
	case c9.High > maxf(c1.High, c5.High):
		swept := c1
		if c5.High > c1.High {
			swept = c5
		}
		return TurtleSoupSignal{
			Detected:    true,
			Direction:   Bearish,
			TargetPrice: swept.Low,
			SweptBar:    swept,
		}

	case c9.Low < minf(c1.Low, c5.Low):
		swept := c1
		if c5.Low < c1.Low {
			swept = c5
		}
		return TurtleSoupSignal{
			Detected:    true,
			Direction:   Bullish,
			TargetPrice: swept.High,
			SweptBar:    swept,
		}

	default:
		return TurtleSoupSignal{}
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
