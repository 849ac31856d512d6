package risk

import (
	"testing"

	"github.com/nitinkhare/mt5crtengine/internal/broker"
)

func baseSymbol() broker.SymbolInfo {
	return broker.SymbolInfo{VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01}
}

func TestSizePassesThroughWhenRRAlreadyMet(t *testing.T) {
	res, err := Size(SizingInput{
		Direction:     Bullish,
		Entry:         1.1000,
		StopLoss:      1.0950,
		TakeProfit:    1.1150,
		AccountEquity: 10000,
		RiskPercent:   1,
		RRMin:         2,
		ValuePerPoint: 100000,
		Symbol:        baseSymbol(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RR < 2 {
		t.Fatalf("expected rr >= 2, got %.3f", res.RR)
	}
	if res.StopLoss != 1.0950 {
		t.Fatalf("sl should not move when rr already satisfied, got %v", res.StopLoss)
	}
}

func TestSizeTightensStopLossFirst(t *testing.T) {
	res, err := Size(SizingInput{
		Direction:     Bullish,
		Entry:         1.1000,
		StopLoss:      1.0900, // 100 pip risk
		TakeProfit:    1.1150, // 150 pip reward -> rr 1.5
		AccountEquity: 10000,
		RiskPercent:   1,
		RRMin:         2,
		ValuePerPoint: 100000,
		Symbol:        baseSymbol(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StopLoss <= 1.0900 {
		t.Fatalf("expected sl tightened closer to entry, got %v", res.StopLoss)
	}
	if res.TakeProfit != 1.1150 {
		t.Fatalf("tp should not move when tightening sl suffices, got %v", res.TakeProfit)
	}
	if res.RR < 2-1e-9 {
		t.Fatalf("expected rr >= 2 after tightening, got %.3f", res.RR)
	}
}

func TestSizeForcesTakeProfitWhenTighteningInsufficient(t *testing.T) {
	// sl is already at the minimum distance (tightening would move it the
	// wrong way / isn't possible below the requested risk), so tp must move.
	res, err := Size(SizingInput{
		Direction:     Bearish,
		Entry:         1.1000,
		StopLoss:      1.1010, // 10 pip risk
		TakeProfit:    1.0995, // 5 pip reward -> rr 0.5
		AccountEquity: 10000,
		RiskPercent:   1,
		RRMin:         2,
		ValuePerPoint: 100000,
		Symbol:        baseSymbol(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TakeProfit >= 1.0995 {
		t.Fatalf("expected tp forced further from entry, got %v", res.TakeProfit)
	}
	if res.RR < 2-1e-9 {
		t.Fatalf("expected rr >= 2 after forcing tp, got %.3f", res.RR)
	}
}

func TestSizeClampsVolumeToBrokerMinimum(t *testing.T) {
	res, err := Size(SizingInput{
		Direction:     Bullish,
		Entry:         1.1000,
		StopLoss:      1.0950,
		TakeProfit:    1.1150,
		AccountEquity: 100,
		RiskPercent:   0.1,
		RRMin:         2,
		ValuePerPoint: 100000,
		Symbol:        baseSymbol(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Volume != baseSymbol().VolumeMin {
		t.Fatalf("expected volume clamped to broker minimum 0.01, got %v", res.Volume)
	}
}

func TestSizeRejectsZeroRisk(t *testing.T) {
	_, err := Size(SizingInput{
		Direction:     Bullish,
		Entry:         1.1000,
		StopLoss:      1.1000,
		TakeProfit:    1.1150,
		AccountEquity: 10000,
		RiskPercent:   1,
		RRMin:         2,
		ValuePerPoint: 100000,
		Symbol:        baseSymbol(),
	})
	if err == nil {
		t.Fatalf("expected error for zero risk distance")
	}
}

func TestCheckPreconditionsMaxTradesPerDay(t *testing.T) {
	err := CheckPreconditions(Preconditions{
		TradesToday:        5,
		MaxTradesPerDay:    5,
		AutoTradingAllowed: true,
	})
	if err == nil {
		t.Fatalf("expected rejection at max trades per day")
	}
}

func TestCheckPreconditionsDuplicatePosition(t *testing.T) {
	err := CheckPreconditions(Preconditions{
		MaxTradesPerDay:     10,
		HasOpenPositionHere: true,
		AutoTradingAllowed:  true,
	})
	if err == nil {
		t.Fatalf("expected rejection on duplicate open position")
	}
}

func TestCheckPreconditionsAutoTradingDisabled(t *testing.T) {
	err := CheckPreconditions(Preconditions{MaxTradesPerDay: 10, AutoTradingAllowed: false})
	if err == nil {
		t.Fatalf("expected rejection when AutoTrading disabled")
	}
}

func TestCheckPreconditionsPasses(t *testing.T) {
	err := CheckPreconditions(Preconditions{
		TradesToday:        1,
		MaxTradesPerDay:    5,
		AutoTradingAllowed: true,
	})
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}
