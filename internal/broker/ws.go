// Package broker - ws.go implements the Broker interface against a
// long-lived websocket connection to an MT5 terminal bridge process.
// The wire protocol is a simple JSON-RPC-style request/response
// envelope: one correlation id per in-flight call, dispatched off a
// single read-loop goroutine, with reconnect-and-backoff when the
// bridge connection drops (grounded on the dashboard event listener's
// retry loop: start at a short interval, double on each failure, cap at
// a ceiling, and reset to the short interval after a successful
// connection).
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReconnectMinInterval = 250 * time.Millisecond
	wsReconnectMaxInterval = 15 * time.Second
	wsCallTimeout          = 10 * time.Second
)

// WSConfig configures the MT5 bridge websocket client.
type WSConfig struct {
	URL string `json:"url"`
}

func init() {
	Registry["mt5-ws"] = NewWSBroker
}

// wsRequest is one RPC call sent to the bridge.
type wsRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// wsResponse is the bridge's reply to a wsRequest, correlated by ID.
type wsResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// WSBroker is a Broker implementation that proxies every capability
// call over a single websocket connection to an MT5 bridge process.
type WSBroker struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan wsResponse
	nextID  uint64
	closed  bool
}

// NewWSBroker builds and connects a WSBroker from JSON config.
func NewWSBroker(configJSON []byte) (Broker, error) {
	var cfg WSConfig
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("mt5-ws broker: parse config: %w", err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("mt5-ws broker: url is required")
	}

	b := &WSBroker{
		url:     cfg.URL,
		pending: make(map[string]chan wsResponse),
	}
	if err := b.connect(); err != nil {
		return nil, fmt.Errorf("mt5-ws broker: initial connect: %w", err)
	}
	go b.readLoop()
	return b, nil
}

func (b *WSBroker) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(b.url, nil)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	return nil
}

// readLoop owns the connection's read side and reconnects with
// exponential backoff on any read error, failing every call pending at
// the time of disconnect.
func (b *WSBroker) readLoop() {
	backoff := wsReconnectMinInterval
	for {
		b.mu.Lock()
		conn := b.conn
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return
		}

		var resp wsResponse
		err := conn.ReadJSON(&resp)
		if err != nil {
			b.failAllPending(fmt.Errorf("mt5-ws broker: connection lost: %w", err))
			time.Sleep(backoff)
			if err := b.connect(); err != nil {
				backoff *= 2
				if backoff > wsReconnectMaxInterval {
					backoff = wsReconnectMaxInterval
				}
				continue
			}
			backoff = wsReconnectMinInterval
			continue
		}

		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		if ok {
			delete(b.pending, resp.ID)
		}
		b.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (b *WSBroker) failAllPending(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.pending {
		ch <- wsResponse{ID: id, Error: err.Error()}
		delete(b.pending, id)
	}
}

func (b *WSBroker) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("mt5-ws broker: marshal params: %w", err)
	}

	id := fmt.Sprintf("%d", atomic.AddUint64(&b.nextID, 1))
	ch := make(chan wsResponse, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("mt5-ws broker: closed")
	}
	b.pending[id] = ch
	conn := b.conn
	b.mu.Unlock()

	req := wsRequest{ID: id, Method: method, Params: paramsJSON}
	if err := conn.WriteJSON(req); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return fmt.Errorf("mt5-ws broker: %s: write: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, wsCallTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return fmt.Errorf("mt5-ws broker: %s: %s", method, resp.Error)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("mt5-ws broker: %s: unmarshal result: %w", method, err)
			}
		}
		return nil
	case <-callCtx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return fmt.Errorf("mt5-ws broker: %s: %w", method, callCtx.Err())
	}
}

func (b *WSBroker) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	var out SymbolInfo
	err := b.call(ctx, "symbol_info", map[string]string{"symbol": symbol}, &out)
	return out, err
}

func (b *WSBroker) Tick(ctx context.Context, symbol string) (Tick, error) {
	var out Tick
	err := b.call(ctx, "tick", map[string]string{"symbol": symbol}, &out)
	return out, err
}

func (b *WSBroker) Rates(ctx context.Context, symbol string, timeframe string, from time.Time, count int) ([]RateBar, error) {
	var out []RateBar
	params := map[string]interface{}{
		"symbol": symbol, "timeframe": timeframe, "from": from.Unix(), "count": count,
	}
	err := b.call(ctx, "rates", params, &out)
	return out, err
}

func (b *WSBroker) SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	var out OrderResult
	err := b.call(ctx, "send_order", req, &out)
	return out, err
}

func (b *WSBroker) Modify(ctx context.Context, ticket string, stopLoss, takeProfit float64) error {
	params := map[string]interface{}{"ticket": ticket, "stop_loss": stopLoss, "take_profit": takeProfit}
	return b.call(ctx, "modify", params, nil)
}

func (b *WSBroker) Close(ctx context.Context, ticket string) error {
	return b.call(ctx, "close", map[string]string{"ticket": ticket}, nil)
}

func (b *WSBroker) OpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	var out []Position
	err := b.call(ctx, "open_positions", map[string]string{"symbol": symbol}, &out)
	return out, err
}

func (b *WSBroker) HistoryDeal(ctx context.Context, ticket string) (Deal, error) {
	var out Deal
	err := b.call(ctx, "history_deal", map[string]string{"ticket": ticket}, &out)
	return out, err
}

// ShutdownConn closes the underlying websocket connection. Exposed for
// graceful-shutdown paths; not part of the Broker interface.
func (b *WSBroker) ShutdownConn() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
