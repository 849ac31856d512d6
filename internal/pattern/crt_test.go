package pattern

import (
	"testing"

	"github.com/nitinkhare/mt5crtengine/internal/candle"
)

// A 5am key candle whose body sits entirely above the 1am candle's high
// (and so above its body range) confirms a bullish continuation.
func TestDetectCRTContinuation_Bullish(t *testing.T) {
	c1 := candle.Bar{Open: 1.10800, High: 1.11000, Low: 1.10700, Close: 1.10900}
	c5 := candle.Bar{Open: 1.11020, High: 1.11150, Low: 1.11000, Close: 1.11120}

	sig := DetectCRTContinuation(c1, c5)
	if !sig.Detected {
		t.Fatal("expected detection")
	}
	if sig.Direction != Bullish {
		t.Errorf("expected Bullish, got %v", sig.Direction)
	}
	if sig.TargetPrice != 1.11150 {
		t.Errorf("expected target c5.High=1.11150, got %v", sig.TargetPrice)
	}
}

func TestDetectCRTContinuation_Bearish(t *testing.T) {
	c1 := candle.Bar{Open: 1.10900, High: 1.11000, Low: 1.10700, Close: 1.10800}
	c5 := candle.Bar{Open: 1.10680, High: 1.10700, Low: 1.10550, Close: 1.10600}

	sig := DetectCRTContinuation(c1, c5)
	if !sig.Detected {
		t.Fatal("expected detection")
	}
	if sig.Direction != Bearish {
		t.Errorf("expected Bearish, got %v", sig.Direction)
	}
	if sig.TargetPrice != 1.10550 {
		t.Errorf("expected target c5.Low=1.10550, got %v", sig.TargetPrice)
	}
}

func TestDetectCRTContinuation_NotDetected(t *testing.T) {
	c1 := candle.Bar{Open: 1.10800, High: 1.11000, Low: 1.10700, Close: 1.10900}
	c5 := candle.Bar{Open: 1.10850, High: 1.10950, Low: 1.10750, Close: 1.10900}

	sig := DetectCRTContinuation(c1, c5)
	if sig.Detected {
		t.Error("expected no detection, c5 body overlaps c1")
	}
}

// A single-side sweep: c5 dips below c1.Low on the wick but its body
// closes back inside c1's range and c1.High is left untouched.
func TestDetectCRTRevision_Bullish(t *testing.T) {
	c1 := candle.Bar{Open: 1.10800, High: 1.11000, Low: 1.10700, Close: 1.10900}
	c5 := candle.Bar{Open: 1.10850, High: 1.10900, Low: 1.10650, Close: 1.10750}

	sig := DetectCRTRevision(c1, c5)
	if !sig.Detected {
		t.Fatal("expected detection")
	}
	if sig.Direction != Bullish {
		t.Errorf("expected Bullish, got %v", sig.Direction)
	}
	if sig.TargetPrice != 1.11000 {
		t.Errorf("expected target c1.High=1.11000, got %v", sig.TargetPrice)
	}
}

func TestDetectCRTRevision_BothSweptIsNotRevision(t *testing.T) {
	c1 := candle.Bar{Open: 1.10800, High: 1.11000, Low: 1.10700, Close: 1.10900}
	c5 := candle.Bar{Open: 1.10900, High: 1.11100, Low: 1.10600, Close: 1.10950}

	sig := DetectCRTRevision(c1, c5)
	if sig.Detected {
		t.Error("expected no Revision detection when both extremes are swept (that's Extreme)")
	}
}

func TestDetectCRTRevision_BodyOutsideRange(t *testing.T) {
	c1 := candle.Bar{Open: 1.10800, High: 1.11000, Low: 1.10700, Close: 1.10900}
	c5 := candle.Bar{Open: 1.11050, High: 1.11100, Low: 1.10950, Close: 1.11080}

	sig := DetectCRTRevision(c1, c5)
	if sig.Detected {
		t.Error("expected no detection when c5 body is outside c1 range")
	}
}

// A 5am key candle that sweeps both extremes of the 1am candle and
// closes bearish signals a move toward its own low.
func TestDetectCRTExtreme_Bearish(t *testing.T) {
	c1 := candle.Bar{Open: 1.10800, High: 1.11000, Low: 1.10700, Close: 1.10900}
	c5 := candle.Bar{Open: 1.11080, High: 1.11100, Low: 1.10600, Close: 1.10650}

	sig := DetectCRTExtreme(c1, c5)
	if !sig.Detected {
		t.Fatal("expected detection")
	}
	if sig.Direction != Bearish {
		t.Errorf("expected Bearish, got %v", sig.Direction)
	}
	if sig.TargetPrice != 1.10600 {
		t.Errorf("expected target c5.Low=1.10600, got %v", sig.TargetPrice)
	}
}

func TestDetectCRTExtreme_Bullish(t *testing.T) {
	c1 := candle.Bar{Open: 1.10800, High: 1.11000, Low: 1.10700, Close: 1.10900}
	c5 := candle.Bar{Open: 1.10650, High: 1.11100, Low: 1.10600, Close: 1.11080}

	sig := DetectCRTExtreme(c1, c5)
	if !sig.Detected {
		t.Fatal("expected detection")
	}
	if sig.Direction != Bullish {
		t.Errorf("expected Bullish, got %v", sig.Direction)
	}
	if sig.TargetPrice != 1.11100 {
		t.Errorf("expected target c5.High=1.11100, got %v", sig.TargetPrice)
	}
}

func TestDetectCRTExtreme_DojiDefaultsBullish(t *testing.T) {
	c1 := candle.Bar{Open: 1.10800, High: 1.11000, Low: 1.10700, Close: 1.10900}
	c5 := candle.Bar{Open: 1.10900, High: 1.11100, Low: 1.10600, Close: 1.10900}

	sig := DetectCRTExtreme(c1, c5)
	if !sig.Detected {
		t.Fatal("expected detection")
	}
	if sig.Direction != Bullish {
		t.Errorf("expected doji to default to Bullish, got %v", sig.Direction)
	}
	if sig.CloseType != CloseDoji {
		t.Error("expected CloseType=CloseDoji")
	}
	if sig.TargetPrice != 1.11100 {
		t.Errorf("expected target c5.High, got %v", sig.TargetPrice)
	}
}

func TestDetectCRTExtreme_NotDetected(t *testing.T) {
	c1 := candle.Bar{Open: 1.10800, High: 1.11000, Low: 1.10700, Close: 1.10900}
	c5 := candle.Bar{Open: 1.10850, High: 1.10950, Low: 1.10750, Close: 1.10900}

	sig := DetectCRTExtreme(c1, c5)
	if sig.Detected {
		t.Error("expected no detection, neither extreme swept")
	}
}
