package pattern

import (
	"testing"

	"github.com/nitinkhare/mt5crtengine/internal/candle"
)

// A 9am bar sweeping above the higher of two prior session highs, then
// failing to hold, signals a short back toward the swept bar's low.
func TestDetectTurtleSoup_BearishSweep(t *testing.T) {
	c1 := candle.Bar{High: 1.1000, Low: 1.0950}
	c5 := candle.Bar{High: 1.0990, Low: 1.0960}
	c9 := candle.Bar{High: 1.1005, Low: 1.0980}

	sig := DetectTurtleSoup(c1, c5, c9)
	if !sig.Detected {
		t.Fatal("expected detection")
	}
	if sig.Direction != Bearish {
		t.Errorf("expected Bearish direction, got %v", sig.Direction)
	}
	if sig.TargetPrice != 1.0950 {
		t.Errorf("expected target 1.0950 (c1.Low, the swept bar), got %v", sig.TargetPrice)
	}
}

func TestDetectTurtleSoup_BullishSweep(t *testing.T) {
	c1 := candle.Bar{High: 1.1050, Low: 1.1000}
	c5 := candle.Bar{High: 1.1040, Low: 1.1010}
	c9 := candle.Bar{High: 1.1045, Low: 1.0995}

	sig := DetectTurtleSoup(c1, c5, c9)
	if !sig.Detected {
		t.Fatal("expected detection")
	}
	if sig.Direction != Bullish {
		t.Errorf("expected Bullish direction, got %v", sig.Direction)
	}
	if sig.TargetPrice != 1.1050 {
		t.Errorf("expected target 1.1050 (c1.High, the swept bar), got %v", sig.TargetPrice)
	}
}

func TestDetectTurtleSoup_TieBreakEarlierBar(t *testing.T) {
	c1 := candle.Bar{High: 1.1000, Low: 1.0950}
	c5 := candle.Bar{High: 1.1000, Low: 1.0960} // same high as c1
	c9 := candle.Bar{High: 1.1010, Low: 1.0990}

	sig := DetectTurtleSoup(c1, c5, c9)
	if !sig.Detected {
		t.Fatal("expected detection")
	}
	if sig.SweptBar != c1 {
		t.Error("expected tie to resolve to the earlier bar c1")
	}
}

func TestDetectTurtleSoup_NotDetected(t *testing.T) {
	c1 := candle.Bar{High: 1.1000, Low: 1.0950}
	c5 := candle.Bar{High: 1.0990, Low: 1.0960}
	c9 := candle.Bar{High: 1.0995, Low: 1.0965} // inside both ranges

	sig := DetectTurtleSoup(c1, c5, c9)
	if sig.Detected {
		t.Error("expected no detection when 9am bar stays inside range")
	}
}
