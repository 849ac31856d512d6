// Package postback provides an HTTP server to receive asynchronous
// order fill/reject notifications from the MT5 bridge process.
//
// The bridge POSTs a JSON payload whenever an order's status changes
// (e.g. Pending -> Filled, Pending -> Rejected). This package:
//   - Starts a lightweight HTTP server on a configurable port.
//   - Parses the bridge's postback payload.
//   - Maps it to the broker-agnostic OrderUpdate type.
//   - Invokes registered callback functions so the engine can react
//     (nudge the Position Monitor's reconciliation, log, alert).
//
// Reconciliation via polling (see internal/monitor) remains the source
// of truth regardless of whether any postback ever arrives; this server
// only shortens the latency between a fill and the Ledger noticing it.
//
// Grounded on the reference engine's internal/webhook, re-themed from
// Dhan's REST postback payload shape to a generic MT5-bridge payload.
package postback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nitinkhare/mt5crtengine/internal/broker"
)

// Config holds postback server settings.
type Config struct {
	Port    int
	Path    string
	Enabled bool
}

// BridgePostback is the JSON body the MT5 bridge sends when an order's
// status changes.
type BridgePostback struct {
	Ticket        string  `json:"ticket"`
	CorrelationID string  `json:"correlation_id"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"` // pending, open, filled, cancelled, rejected
	Side          string  `json:"side"`
	Volume        float64 `json:"volume"`
	FilledVolume  float64 `json:"filled_volume"`
	AveragePrice  float64 `json:"average_price"`
	ErrorCode     string  `json:"error_code"`
	ErrorMessage  string  `json:"error_message"`
}

// OrderUpdate is the broker-agnostic representation of a status change.
// Callbacks receive this instead of the raw bridge payload so upstream
// code is never coupled to the bridge's wire format.
type OrderUpdate struct {
	Ticket        string
	CorrelationID string
	Symbol        string
	Status        broker.OrderStatus
	Side          string
	Volume        float64
	FilledVolume  float64
	AveragePrice  float64
	ErrorCode     string
	ErrorMessage  string
	ReceivedAt    time.Time
}

// OrderUpdateHandler is called whenever a valid postback is received.
type OrderUpdateHandler func(update OrderUpdate)

// Server is the HTTP postback receiver.
type Server struct {
	cfg      Config
	logger   zerolog.Logger
	srv      *http.Server
	mu       sync.RWMutex
	handlers []OrderUpdateHandler
	updates  []OrderUpdate // the last 100 updates, read via RecentUpdates
}

// NewServer creates a new postback server. It does not start listening
// until Start() is called.
func NewServer(cfg Config, logger zerolog.Logger) *Server {
	return &Server{cfg: cfg, logger: logger.With().Str("component", "postback").Logger()}
}

// OnOrderUpdate registers a handler invoked for every validated
// postback. Multiple handlers may be registered.
func (s *Server) OnOrderUpdate(h OrderUpdateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// RecentUpdates returns a copy of the last n order updates.
func (s *Server) RecentUpdates(n int) []OrderUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.updates) {
		n = len(s.updates)
	}
	out := make([]OrderUpdate, n)
	copy(out, s.updates[len(s.updates)-n:])
	return out
}

// Start begins listening for postback HTTP requests in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	path := s.cfg.Path
	if path == "" {
		path = "/postback/mt5/order"
	}
	mux.HandleFunc(path, s.handlePostback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Str("path", path).Msg("postback: starting server")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("postback: server error")
		}
	}()
	return nil
}

// Shutdown gracefully stops the postback server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info().Msg("postback: shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var pb BridgePostback
	if err := json.NewDecoder(r.Body).Decode(&pb); err != nil {
		s.logger.Warn().Err(err).Msg("postback: invalid JSON payload")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if pb.Ticket == "" {
		s.logger.Warn().Msg("postback: missing ticket")
		http.Error(w, "missing ticket", http.StatusBadRequest)
		return
	}

	update := OrderUpdate{
		Ticket:        pb.Ticket,
		CorrelationID: pb.CorrelationID,
		Symbol:        pb.Symbol,
		Status:        mapBridgeStatus(pb.Status),
		Side:          pb.Side,
		Volume:        pb.Volume,
		FilledVolume:  pb.FilledVolume,
		AveragePrice:  pb.AveragePrice,
		ErrorCode:     pb.ErrorCode,
		ErrorMessage:  pb.ErrorMessage,
		ReceivedAt:    time.Now(),
	}

	s.logger.Debug().Str("ticket", update.Ticket).Str("symbol", update.Symbol).
		Str("status", string(update.Status)).Float64("filled", update.FilledVolume).
		Msg("postback: received")

	s.mu.Lock()
	s.updates = append(s.updates, update)
	if len(s.updates) > 100 {
		s.updates = s.updates[len(s.updates)-100:]
	}
	handlers := make([]OrderUpdateHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(update)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"received":true}`)
}

// mapBridgeStatus converts the bridge's status string to the
// broker-agnostic OrderStatus enum.
func mapBridgeStatus(s string) broker.OrderStatus {
	switch s {
	case "filled":
		return broker.StatusFilled
	case "cancelled":
		return broker.StatusCancelled
	case "rejected":
		return broker.StatusRejected
	case "open":
		return broker.StatusOpen
	default:
		return broker.StatusPending
	}
}
