package pattern

import "github.com/nitinkhare/mt5crtengine/internal/candle"

// CRTKind distinguishes the three Candle Range Theory detector variants.
type CRTKind int

const (
	CRTContinuation CRTKind = iota
	CRTRevision
	CRTExtreme
)

// CloseType records whether a bar closed as a doji, relevant only to
// CRT-Extreme's tie-break rule.
type CloseType int

const (
	CloseNormal CloseType = iota
	CloseDoji
)

// CRTSignal is the result of any of the three CRT detectors.
type CRTSignal struct {
	Kind        CRTKind
	Detected    bool
	Direction   Direction
	TargetPrice float64
	CloseType   CloseType
}

// DetectCRTContinuation requires c1, c5 both closed.
func DetectCRTContinuation(c1, c5 candle.Bar) CRTSignal {
	bTop1, bBot1 := c1.BodyHigh(), c1.BodyLow()
	bBot5 := c5.BodyLow()
	bTop5 := c5.BodyHigh()

	switch {
	case bBot5 > c1.High && bBot5 > bTop1:
		return CRTSignal{Kind: CRTContinuation, Detected: true, Direction: Bullish, TargetPrice: c5.High}
	case bTop5 < c1.Low && bTop5 < bBot1:
		return CRTSignal{Kind: CRTContinuation, Detected: true, Direction: Bearish, TargetPrice: c5.Low}
	default:
		return CRTSignal{Kind: CRTContinuation}
	}
}

// DetectCRTRevision requires c1, c5.
func DetectCRTRevision(c1, c5 candle.Bar) CRTSignal {
	bBot5, bTop5 := c5.BodyLow(), c5.BodyHigh()

	bodyInside := bBot5 >= c1.Low && bTop5 <= c1.High
	sweptHigh := c5.High > c1.High
	sweptLow := c5.Low < c1.Low

	if !bodyInside || sweptHigh == sweptLow {
		// sweptHigh == sweptLow covers both "neither swept" and "both swept"
		// (the latter is CRT-Extreme territory, not Revision).
		return CRTSignal{Kind: CRTRevision}
	}

	if sweptHigh {
		return CRTSignal{Kind: CRTRevision, Detected: true, Direction: Bearish, TargetPrice: c1.Low}
	}
	return CRTSignal{Kind: CRTRevision, Detected: true, Direction: Bullish, TargetPrice: c1.High}
}

// DetectCRTExtreme requires c1, c5.
func DetectCRTExtreme(c1, c5 candle.Bar) CRTSignal {
	if !(c5.High > c1.High && c5.Low < c1.Low) {
		return CRTSignal{Kind: CRTExtreme}
	}

	switch {
	case c5.Close > c5.Open:
		return CRTSignal{Kind: CRTExtreme, Detected: true, Direction: Bullish, TargetPrice: c5.High}
	case c5.Close < c5.Open:
		return CRTSignal{Kind: CRTExtreme, Detected: true, Direction: Bearish, TargetPrice: c5.Low}
	default:
		return CRTSignal{Kind: CRTExtreme, Detected: true, Direction: Bullish, TargetPrice: c5.High, CloseType: CloseDoji}
	}
}
