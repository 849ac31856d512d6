// Package broker - paper.go implements a paper-trading Broker that
// wraps a real market-data broker (symbol_info/tick/rates pass
// straight through) and simulates order execution in memory: orders
// fill immediately at the current tick, and SL/TP are evaluated
// against subsequent ticks fed via MarkTick. This keeps every other
// package — candle readers, detectors, the pipeline, the engine —
// completely unaware that it is trading on paper.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PaperBroker decorates an underlying Broker, simulating order
// execution locally while delegating all market-data capabilities.
type PaperBroker struct {
	underlying Broker

	mu        sync.Mutex
	equity    float64
	positions map[string]Position
	deals     map[string]Deal
	nextID    int
}

// NewPaperBroker wraps underlying (used for symbol_info/tick/rates)
// with an in-memory simulated order book seeded with startingEquity.
func NewPaperBroker(underlying Broker, startingEquity float64) *PaperBroker {
	return &PaperBroker{
		underlying: underlying,
		equity:     startingEquity,
		positions:  make(map[string]Position),
		deals:      make(map[string]Deal),
	}
}

func (p *PaperBroker) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	return p.underlying.SymbolInfo(ctx, symbol)
}

func (p *PaperBroker) Tick(ctx context.Context, symbol string) (Tick, error) {
	return p.underlying.Tick(ctx, symbol)
}

func (p *PaperBroker) Rates(ctx context.Context, symbol string, timeframe string, from time.Time, count int) ([]RateBar, error) {
	return p.underlying.Rates(ctx, symbol, timeframe, from, count)
}

// SendOrder fills immediately at the current tick's bid (sell) or ask
// (buy) — the only simplification a paper broker needs, since there is
// no real spread/slippage to simulate credibly without a full order book.
func (p *PaperBroker) SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	tick, err := p.underlying.Tick(ctx, req.Symbol)
	if err != nil {
		return OrderResult{}, fmt.Errorf("paper broker: fetch tick for fill: %w", err)
	}

	fillPrice := tick.Ask
	if req.Side == Sell {
		fillPrice = tick.Bid
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	ticket := fmt.Sprintf("PAPER-%d", p.nextID)

	p.positions[ticket] = Position{
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		Entry:      fillPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   tick.Time,
	}

	return OrderResult{
		Ticket:    ticket,
		FillPrice: fillPrice,
		Volume:    req.Volume,
		Status:    StatusFilled,
		Message:   "paper fill",
		Time:      tick.Time,
	}, nil
}

func (p *PaperBroker) Modify(_ context.Context, ticket string, stopLoss, takeProfit float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[ticket]
	if !ok {
		return fmt.Errorf("paper broker: unknown ticket %s", ticket)
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	p.positions[ticket] = pos
	return nil
}

// Close closes a position at the underlying broker's current tick and
// records it as a manually-closed deal.
func (p *PaperBroker) Close(ctx context.Context, ticket string) error {
	p.mu.Lock()
	pos, ok := p.positions[ticket]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("paper broker: unknown ticket %s", ticket)
	}

	tick, err := p.underlying.Tick(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("paper broker: fetch tick for close: %w", err)
	}
	closePrice := tick.Bid
	if pos.Side == Sell {
		closePrice = tick.Ask
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, ticket)
	p.deals[ticket] = Deal{Ticket: ticket, ClosePrice: closePrice, ClosedAt: tick.Time}
	return nil
}

func (p *PaperBroker) OpenPositions(_ context.Context, symbol string) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Position
	for _, pos := range p.positions {
		if symbol == "" || pos.Symbol == symbol {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (p *PaperBroker) HistoryDeal(_ context.Context, ticket string) (Deal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	deal, ok := p.deals[ticket]
	if !ok {
		return Deal{}, fmt.Errorf("paper broker: no deal recorded for ticket %s", ticket)
	}
	return deal, nil
}

// MarkTick evaluates every open position on symbol against the given
// tick and auto-closes any that have crossed their stop loss or take
// profit, recording the appropriate Deal. Callers (typically a test
// harness or a paper-mode price feed loop) drive this explicitly —
// PaperBroker does not poll on its own.
func (p *PaperBroker) MarkTick(symbol string, tick Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for ticket, pos := range p.positions {
		if pos.Symbol != symbol {
			continue
		}
		var hit bool
		var price float64
		switch pos.Side {
		case Buy:
			if pos.StopLoss > 0 && tick.Bid <= pos.StopLoss {
				hit, price = true, pos.StopLoss
			} else if pos.TakeProfit > 0 && tick.Bid >= pos.TakeProfit {
				hit, price = true, pos.TakeProfit
			}
		case Sell:
			if pos.StopLoss > 0 && tick.Ask >= pos.StopLoss {
				hit, price = true, pos.StopLoss
			} else if pos.TakeProfit > 0 && tick.Ask <= pos.TakeProfit {
				hit, price = true, pos.TakeProfit
			}
		}
		if hit {
			delete(p.positions, ticket)
			p.deals[ticket] = Deal{Ticket: ticket, ClosePrice: price, ClosedAt: tick.Time}
		}
	}
}

// Equity returns the paper account's static starting equity. Realized
// PnL tracking belongs to the Order Ledger, not the simulated broker.
func (p *PaperBroker) Equity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equity
}
