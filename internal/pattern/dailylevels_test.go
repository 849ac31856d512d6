package pattern

import (
	"testing"

	"github.com/nitinkhare/mt5crtengine/internal/candle"
)

func TestDetectDailyLevels_TakingPDH(t *testing.T) {
	bars := []candle.Bar{
		{High: 1.1050, Low: 1.0980},
	}
	lvl, ok := DetectDailyLevels(bars, 1.1045, 0.0010)
	if !ok {
		t.Fatal("expected a level")
	}
	if lvl.Kind != PDH {
		t.Errorf("expected PDH, got %v", lvl.Kind)
	}
	if !lvl.IsTaking {
		t.Error("expected IsTaking=true within tolerance of the high")
	}
	if lvl.HasTaken {
		t.Error("expected HasTaken=false, bid has not crossed the high yet")
	}
}

func TestDetectDailyLevels_HasTakenPDL(t *testing.T) {
	bars := []candle.Bar{
		{High: 1.1050, Low: 1.0980},
	}
	lvl, ok := DetectDailyLevels(bars, 1.0970, 0.0010)
	if !ok {
		t.Fatal("expected a level")
	}
	if lvl.Kind != PDL {
		t.Errorf("expected PDL, got %v", lvl.Kind)
	}
	if !lvl.HasTaken {
		t.Error("expected HasTaken=true, bid strictly below the low")
	}
	if !lvl.IsTaking {
		t.Error("a crossed level is also within tolerance of itself")
	}
}

func TestDetectDailyLevels_ClosestWins(t *testing.T) {
	bars := []candle.Bar{
		{High: 1.1050, Low: 1.0980},
		{High: 1.1020, Low: 1.0960},
	}
	// bid sits between both highs and both lows, closer to 1.1020 (dist 0.0015)
	// than to 1.1050 (dist 0.0045) or either low.
	lvl, ok := DetectDailyLevels(bars, 1.1005, 0.0030)
	if !ok {
		t.Fatal("expected a level")
	}
	if lvl.Kind != PDH || lvl.Price != 1.1020 {
		t.Errorf("expected closest level PDH@1.1020, got %v@%v", lvl.Kind, lvl.Price)
	}
}

func TestDetectDailyLevels_OutOfRange(t *testing.T) {
	bars := []candle.Bar{
		{High: 1.1050, Low: 1.0980},
	}
	_, ok := DetectDailyLevels(bars, 1.1020, 0.0010)
	if ok {
		t.Error("expected no level, bid is well inside the range and outside tolerance of either edge")
	}
}

func TestDetectDailyLevels_EmptyBars(t *testing.T) {
	_, ok := DetectDailyLevels(nil, 1.1000, 0.0010)
	if ok {
		t.Error("expected no level with no daily bars")
	}
}
