package pattern

import "github.com/nitinkhare/mt5crtengine/internal/candle"

// LevelKind distinguishes the previous-day-high and previous-day-low
// reference levels.
type LevelKind int

const (
	PDH LevelKind = iota
	PDL
)

// DailyLevel is one previous-day reference level and its relationship to
// the current bid.
type DailyLevel struct {
	Kind      LevelKind
	Price     float64
	IsTaking  bool // within tolerance of the level, or beyond it
	HasTaken  bool // strictly crossed
	Distance  float64
}

// DetectDailyLevels scans the last N daily bars (most recent last) for
// previous-day-high/low levels the current bid is interacting with.
// tolerance is in price units (typically a broker's pip size). When
// multiple levels qualify, the closest by absolute distance wins.
func DetectDailyLevels(dailyBars []candle.Bar, bid float64, tolerance float64) (DailyLevel, bool) {
	var best DailyLevel
	found := false

	for _, b := range dailyBars {
		levels := []DailyLevel{
			{Kind: PDH, Price: b.High},
			{Kind: PDL, Price: b.Low},
		}
		for _, lvl := range levels {
			var taking, taken bool
			var dist float64
			if lvl.Kind == PDH {
				taking = bid >= lvl.Price-tolerance
				taken = bid > lvl.Price
				dist = absf(lvl.Price - bid)
			} else {
				taking = bid <= lvl.Price+tolerance
				taken = bid < lvl.Price
				dist = absf(bid - lvl.Price)
			}
			if !taking && !taken {
				continue
			}
			lvl.IsTaking = taking
			lvl.HasTaken = taken
			lvl.Distance = dist

			if !found || dist < best.Distance {
				best = lvl
				found = true
			}
		}
	}

	return best, found
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
