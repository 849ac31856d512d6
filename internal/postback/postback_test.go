package postback

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nitinkhare/mt5crtengine/internal/broker"
)

func newTestServer() *Server {
	return NewServer(Config{Port: 0, Path: "/postback/mt5/order", Enabled: true}, zerolog.Nop())
}

func postJSON(s *Server, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/postback/mt5/order", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handlePostback(w, req)
	return w
}

func TestPostback_Filled(t *testing.T) {
	s := newTestServer()

	var received OrderUpdate
	var mu sync.Mutex
	s.OnOrderUpdate(func(u OrderUpdate) {
		mu.Lock()
		received = u
		mu.Unlock()
	})

	pb := BridgePostback{
		Ticket:        "T-123456",
		CorrelationID: "corr-abc",
		Symbol:        "EURUSD",
		Status:        "filled",
		Side:          "BUY",
		Volume:        0.1,
		FilledVolume:  0.1,
		AveragePrice:  1.09840,
	}

	resp := postJSON(s, pb)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	mu.Lock()
	defer mu.Unlock()
	if received.Ticket != "T-123456" {
		t.Errorf("expected ticket T-123456, got %s", received.Ticket)
	}
	if received.Status != broker.StatusFilled {
		t.Errorf("expected status filled, got %s", received.Status)
	}
	if received.AveragePrice != 1.09840 {
		t.Errorf("expected average_price 1.09840, got %f", received.AveragePrice)
	}
}

func TestPostback_Rejected(t *testing.T) {
	s := newTestServer()
	var received OrderUpdate
	s.OnOrderUpdate(func(u OrderUpdate) { received = u })

	resp := postJSON(s, BridgePostback{
		Ticket:       "T-999",
		Symbol:       "GBPUSD",
		Status:       "rejected",
		ErrorCode:    "10019",
		ErrorMessage: "no money",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if received.Status != broker.StatusRejected {
		t.Errorf("expected status rejected, got %s", received.Status)
	}
	if received.ErrorMessage != "no money" {
		t.Errorf("expected error message propagated, got %q", received.ErrorMessage)
	}
}

func TestPostback_MissingTicket(t *testing.T) {
	s := newTestServer()
	resp := postJSON(s, BridgePostback{Symbol: "EURUSD", Status: "filled"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing ticket, got %d", resp.Code)
	}
}

func TestPostback_RecentUpdates(t *testing.T) {
	s := newTestServer()
	for i := 0; i < 5; i++ {
		postJSON(s, BridgePostback{Ticket: "T", Status: "filled"})
	}
	recent := s.RecentUpdates(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent updates, got %d", len(recent))
	}
}

func TestPostback_MethodNotAllowed(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/postback/mt5/order", nil)
	w := httptest.NewRecorder()
	s.handlePostback(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
