// Package broker defines the Broker Gateway abstraction.
//
// Design rules (kept from the original):
//   - Only one broker is active at a time.
//   - No strategy or detector logic lives in this package.
//   - No AI/model logic lives in this package.
//   - Implementations are stateless — durable state lives in the Ledger;
//     the broker remains the source of truth for live position/order state.
package broker

import (
	"context"
	"fmt"
	"time"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderStatus represents the current state of an order at the broker.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// SymbolInfo is the symbol_info capability: normalization and trading
// constraints for one instrument.
type SymbolInfo struct {
	Symbol          string
	Digits          int     // decimal places prices are normalized to
	Point           float64 // smallest quoted increment (1 pip in 4/5-digit pairs)
	VolumeMin       float64
	VolumeMax       float64
	VolumeStep      float64
	StopLevelPoints float64 // minimum broker-enforced distance for SL/TP, in points
	TradeEnabled    bool
}

// Tick is the current bid/ask for a symbol.
type Tick struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

// RateBar is one OHLC bar as reported by the gateway's rates() capability.
// OpenTime is reported in the broker terminal's own zone (see
// internal/candle for how this is used to infer the terminal's UTC
// offset).
type RateBar struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
}

// OrderRequest is the send_order capability's input.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Volume        float64
	Price         float64 // zero for market orders
	StopLoss      float64
	TakeProfit    float64
	Comment       string
	CorrelationID string
}

// OrderResult is returned after send_order.
type OrderResult struct {
	Ticket    string
	FillPrice float64
	Volume    float64
	Status    OrderStatus
	Message   string
	Time      time.Time
}

// Position is one currently open position, as enumerated by
// open_positions().
type Position struct {
	Ticket     string
	Symbol     string
	Side       OrderSide
	Volume     float64
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	OpenTime   time.Time
}

// CloseReason classifies why history_deal shows a position no longer open.
type CloseReason string

const (
	CloseReasonTP        CloseReason = "TP"
	CloseReasonSL        CloseReason = "SL"
	CloseReasonManual    CloseReason = "Manual"
	CloseReasonAutoClose CloseReason = "AutoClose"
	CloseReasonUnknown   CloseReason = "Unknown"
)

// Deal is the result of history_deal(ticket): what actually happened to
// a ticket that is no longer in open_positions().
type Deal struct {
	Ticket     string
	ClosePrice float64
	ClosedAt   time.Time
}

// Broker is the Broker Gateway contract: the only point of contact
// between the engine and the terminal/bridge process. Implementations
// must be stateless; all cross-restart truth lives at the broker and in
// the Ledger.
type Broker interface {
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	Tick(ctx context.Context, symbol string) (Tick, error)
	Rates(ctx context.Context, symbol string, timeframe string, from time.Time, count int) ([]RateBar, error)

	SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	Modify(ctx context.Context, ticket string, stopLoss, takeProfit float64) error
	Close(ctx context.Context, ticket string) error

	OpenPositions(ctx context.Context, symbol string) ([]Position, error)
	HistoryDeal(ctx context.Context, ticket string) (Deal, error)
}

// Registry maps broker names to their factory functions. New
// implementations self-register in an init().
var Registry = map[string]func(configJSON []byte) (Broker, error){}

// New creates a broker instance by name using the registry.
func New(name string, configJSON []byte) (Broker, error) {
	factory, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("broker: unknown broker %q, registered: %v", name, registeredNames())
	}
	return factory(configJSON)
}

func registeredNames() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	return names
}
