// Package strategy implements the Strategy Pipeline: a four-stage
// per-(symbol, strategy) decision that turns a detected higher-timeframe
// CRT/Turtle-Soup pattern plus a confirming entry Fair-Value-Gap into a
// risk-validated order. Stages 1-3 are purely functional over the Broker
// Gateway, the News Gate, and the candle readers; only Stage 4 has a
// side effect (submitting an order and writing it to the Ledger).
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nitinkhare/mt5crtengine/internal/broker"
	"github.com/nitinkhare/mt5crtengine/internal/candle"
	"github.com/nitinkhare/mt5crtengine/internal/config"
	"github.com/nitinkhare/mt5crtengine/internal/ledger"
	"github.com/nitinkhare/mt5crtengine/internal/news"
	"github.com/nitinkhare/mt5crtengine/internal/pattern"
	"github.com/nitinkhare/mt5crtengine/internal/risk"
)

// Cadence is the sleep interval the Execution Loop should adopt after
// this Run call, per §4.8's cadence policy. The loop's own "positions
// open" and "default" states are decided independently of the Pipeline.
type Cadence int

const (
	CadenceDefault Cadence = iota
	CadenceIntermediate
	CadenceIntensive
)

// Known is the set of strategy names Stage 2 can dispatch to. The
// Session Scheduler validates its configured sessions against this set
// at construction time so a typo in config fails at startup.
var Known = map[string]bool{
	"crt_continuation": true,
	"crt_revision":      true,
	"crt_extreme":       true,
	"turtle_soup":       true,
}

// Result reports what one Run call decided: which stage it stopped at
// (if any), the cadence the loop should use next, and the order
// submitted, if Stage 4 passed.
type Result struct {
	Symbol    string
	Strategy  string
	Aborted   bool
	Reason    string
	Cadence   Cadence
	Submitted bool
	Order     ledger.Order
}

// symbolState serializes Run calls for one (symbol, strategy) pair, per
// §5's "at most one Pipeline invocation on s is in flight at t". No
// other state survives a restart — Stage 4's re-entry guard is answered
// fresh from the Ledger and the broker's open positions every call.
type symbolState struct {
	mu sync.Mutex
}

// ledgerStore is the narrow slice of *ledger.Ledger the Pipeline needs:
// the daily trade count for Stage 4's precondition check, recording the
// submitted order, and logging its auxiliary pattern/FVG context. Kept
// as an interface so tests can substitute a fake in place of a real
// Postgres-backed Ledger.
type ledgerStore interface {
	CountToday(ctx context.Context, strategy string) (int, error)
	InsertOpen(ctx context.Context, o ledger.Order) error
	Log(ctx context.Context, level, component, message string) error
}

// Pipeline holds the dependencies Stage 1-4 call out to. It is safe for
// concurrent use across distinct symbols.
type Pipeline struct {
	Broker  broker.Broker
	Candles *candle.Reader
	News    *news.Gate
	Ledger  ledgerStore
	Logger  zerolog.Logger

	Params config.StrategyParamsConfig
	Risk   config.RiskConfig

	mu     sync.Mutex
	states map[string]*symbolState
}

// New builds a Pipeline over its dependencies.
func New(b broker.Broker, candles *candle.Reader, newsGate *news.Gate, ledg ledgerStore, params config.StrategyParamsConfig, riskCfg config.RiskConfig, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		Broker: b, Candles: candles, News: newsGate, Ledger: ledg,
		Params: params, Risk: riskCfg, Logger: logger,
		states: make(map[string]*symbolState),
	}
}

func (p *Pipeline) stateFor(symbol, strategyName string) *symbolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := symbol + "|" + strategyName
	st, ok := p.states[key]
	if !ok {
		st = &symbolState{}
		p.states[key] = st
	}
	return st
}

// Run executes one full pipeline cycle for symbol under strategyName at
// instant now.
func (p *Pipeline) Run(ctx context.Context, symbol, strategyName string, now time.Time) (Result, error) {
	st := p.stateFor(symbol, strategyName)
	st.mu.Lock()
	defer st.mu.Unlock()

	res := Result{Symbol: symbol, Strategy: strategyName, Cadence: CadenceDefault}

	// Stage 1 — news gate.
	before := time.Duration(orDefaultInt(p.Params.NewsBeforeMinutes, 5)) * time.Minute
	after := time.Duration(orDefaultInt(p.Params.NewsAfterMinutes, 5)) * time.Minute
	consecutiveWindow := time.Duration(orDefaultInt(p.Params.NewsConsecutiveWindow, 30)) * time.Minute
	if mayTrade, reason, _ := p.News.MayTrade(symbol, now, before, after, consecutiveWindow); !mayTrade {
		res.Aborted = true
		res.Reason = "news: " + reason
		return res, nil
	}

	// Stage 2 — high-timeframe pattern.
	det, err := p.detect(ctx, strategyName, symbol)
	if err != nil {
		return res, fmt.Errorf("strategy %s: stage2 detect: %w", strategyName, err)
	}
	if !det.detected {
		res.Aborted = true
		res.Reason = "no_pattern"
		return res, nil
	}

	// Stage 3 — entry FVG.
	entryTF := candle.Timeframe(orDefaultStr(p.Params.CRTEntryTimeframe, "M5"))
	bars, err := p.Candles.RecentBars(ctx, symbol, entryTF, 3)
	if err != nil {
		res.Aborted = true
		res.Reason = "insufficient_entry_history"
		return res, nil
	}
	tick, err := p.Broker.Tick(ctx, symbol)
	if err != nil {
		return res, fmt.Errorf("strategy %s: stage3 tick: %w", strategyName, err)
	}
	symInfo, err := p.Broker.SymbolInfo(ctx, symbol)
	if err != nil {
		return res, fmt.Errorf("strategy %s: stage3 symbol_info: %w", strategyName, err)
	}

	tickPrice := tick.Ask
	expectedKind := pattern.FVGBullish
	if det.direction == pattern.Bearish {
		tickPrice = tick.Bid
		expectedKind = pattern.FVGBearish
	}
	fvg := pattern.DetectFVG(bars[0], bars[1], bars[2], tickPrice)

	if fvg.Kind != expectedKind {
		res.Aborted = true
		res.Reason = "no_fvg_yet"
		res.Cadence = CadenceIntermediate
		return res, nil
	}
	if !fvg.Entered {
		res.Aborted = true
		res.Reason = "fvg_not_touched"
		res.Cadence = CadenceIntensive
		return res, nil
	}
	fvgTolerancePips := p.Params.FVGEntryTolerancePips
	if fvgTolerancePips <= 0 {
		fvgTolerancePips = 1
	}
	tolerance := fvgTolerancePips * symInfo.Point
	exited, exitDirection := fvg.ExitedWithTolerance(tickPrice, tolerance)
	if !exited || exitDirection != expectedKind {
		res.Aborted = true
		res.Reason = "fvg_not_exited"
		res.Cadence = CadenceIntensive
		return res, nil
	}

	// Stage 4 — risk-validated order.
	return p.stage4(ctx, res, det, fvg, tick, symInfo, symbol, strategyName)
}

func (p *Pipeline) stage4(ctx context.Context, res Result, det detection, fvg pattern.FVG, tick broker.Tick, symInfo broker.SymbolInfo, symbol, strategyName string) (Result, error) {
	margin := fvg.Size * 0.25
	if minMargin := symInfo.Point * 5; margin < minMargin {
		margin = minMargin
	}

	entry := tick.Ask
	sl := det.invalidation - margin
	riskDirection := risk.Bullish
	if det.direction == pattern.Bearish {
		entry = tick.Bid
		sl = det.invalidation + margin
		riskDirection = risk.Bearish
	}

	sizing, err := risk.Size(risk.SizingInput{
		Direction:       riskDirection,
		Entry:           entry,
		StopLoss:        sl,
		TakeProfit:      det.target,
		AccountEquity:   p.Risk.AccountEquity,
		RiskPercent:     p.Risk.RiskPerTradePercent,
		RRMin:           p.Params.MinRR,
		ValuePerPoint:   p.Risk.ValuePerPoint,
		Symbol:          symInfo,
		MaxPositionSize: p.Risk.MaxPositionSize,
	})
	if err != nil {
		res.Aborted = true
		res.Reason = err.Error()
		return res, nil
	}

	open, err := p.Broker.OpenPositions(ctx, symbol)
	if err != nil {
		return res, fmt.Errorf("strategy %s: stage4 open_positions: %w", strategyName, err)
	}
	tradesToday, err := p.Ledger.CountToday(ctx, "")
	if err != nil {
		p.Logger.Warn().Err(err).Msg("strategy: ledger count_today unavailable, proceeding without daily cap")
	}
	if err := risk.CheckPreconditions(risk.Preconditions{
		TradesToday:         tradesToday,
		MaxTradesPerDay:     p.Risk.MaxTradesPerDay,
		HasOpenPositionHere: len(open) > 0,
		AutoTradingAllowed:  symInfo.TradeEnabled,
	}); err != nil {
		res.Aborted = true
		res.Reason = err.Error()
		return res, nil
	}

	side := broker.Buy
	if det.direction == pattern.Bearish {
		side = broker.Sell
	}
	correlationID := uuid.NewString()

	orderResult, err := p.Broker.SendOrder(ctx, broker.OrderRequest{
		Symbol: symbol, Side: side, Volume: sizing.Volume,
		StopLoss: sizing.StopLoss, TakeProfit: sizing.TakeProfit,
		Comment: strategyName, CorrelationID: correlationID,
	})
	if err != nil {
		return res, fmt.Errorf("strategy %s: stage4 send_order: %w", strategyName, err)
	}

	order := ledger.Order{
		Ticket: orderResult.Ticket, Symbol: symbol, Strategy: strategyName,
		Side: string(side), Volume: orderResult.Volume, Entry: orderResult.FillPrice,
		StopLoss: sizing.StopLoss, TakeProfit: sizing.TakeProfit, OpenedAt: orderResult.Time,
	}
	if err := p.Ledger.InsertOpen(ctx, order); err != nil {
		p.Logger.Error().Err(err).Str("ticket", order.Ticket).Msg("strategy: ledger insert_open failed, broker order already live")
	}
	dailyLevel, dailyLevelFound := p.dailyLevelContext(ctx, symbol, entry, symInfo)

	if ctxJSON, err := json.Marshal(map[string]interface{}{
		"correlation_id": correlationID, "direction": det.direction, "target": det.target,
		"invalidation": det.invalidation, "fvg": fvg, "rr": sizing.RR,
		"daily_level": dailyLevel, "daily_level_found": dailyLevelFound,
	}); err == nil {
		if err := p.Ledger.Log(ctx, "INFO", "strategy_pipeline", fmt.Sprintf("order %s context: %s", order.Ticket, ctxJSON)); err != nil {
			p.Logger.Warn().Err(err).Msg("strategy: ledger log context failed")
		}
	}

	res.Submitted = true
	res.Order = order
	return res, nil
}

// dailyLevelContext reports whether the entry price is taking or has
// taken a previous-day high/low level, per §4.3's Daily-Levels detector.
// This is informational context attached to the order's auxiliary JSON,
// not a Stage 4 gate — a best-effort enrichment that never aborts the
// pipeline when daily history is unavailable.
func (p *Pipeline) dailyLevelContext(ctx context.Context, symbol string, price float64, symInfo broker.SymbolInfo) (pattern.DailyLevel, bool) {
	lookback := orDefaultInt(p.Params.DailyLevelLookback, 5)
	bars, err := p.Candles.RecentBars(ctx, symbol, candle.D1, lookback)
	if err != nil {
		return pattern.DailyLevel{}, false
	}
	tolerancePips := p.Params.DailyLevelTolerancePips
	if tolerancePips <= 0 {
		tolerancePips = 1
	}
	tolerance := tolerancePips * symInfo.Point
	return pattern.DetectDailyLevels(bars, price, tolerance)
}

// detection is Stage 2's normalized output across the four pattern
// families: a direction, a profit target, and the invalidation boundary
// Stage 4 anchors the stop loss beyond.
type detection struct {
	detected     bool
	direction    pattern.Direction
	target       float64
	invalidation float64
}

func (p *Pipeline) detect(ctx context.Context, strategyName, symbol string) (detection, error) {
	keys, err := p.Candles.GetH4KeyCandles(ctx, symbol)
	if err != nil {
		return detection{}, err
	}

	switch strategyName {
	case "crt_continuation":
		sig := pattern.DetectCRTContinuation(keys.C1, keys.C5)
		if !sig.Detected {
			return detection{}, nil
		}
		inv := keys.C1.Low
		if sig.Direction == pattern.Bullish {
			inv = keys.C1.High
		}
		return detection{true, sig.Direction, sig.TargetPrice, inv}, nil

	case "crt_revision":
		sig := pattern.DetectCRTRevision(keys.C1, keys.C5)
		if !sig.Detected {
			return detection{}, nil
		}
		inv := keys.C5.Low
		if sig.Direction == pattern.Bearish {
			inv = keys.C5.High
		}
		return detection{true, sig.Direction, sig.TargetPrice, inv}, nil

	case "crt_extreme":
		sig := pattern.DetectCRTExtreme(keys.C1, keys.C5)
		if !sig.Detected {
			return detection{}, nil
		}
		inv := keys.C5.High
		if sig.Direction == pattern.Bullish {
			inv = keys.C5.Low
		}
		return detection{true, sig.Direction, sig.TargetPrice, inv}, nil

	case "turtle_soup":
		sig := pattern.DetectTurtleSoup(keys.C1, keys.C5, keys.C9)
		if !sig.Detected {
			return detection{}, nil
		}
		inv := sig.SweptBar.High
		if sig.Direction == pattern.Bullish {
			inv = sig.SweptBar.Low
		}
		return detection{true, sig.Direction, sig.TargetPrice, inv}, nil

	default:
		return detection{}, fmt.Errorf("unknown strategy %q", strategyName)
	}
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
