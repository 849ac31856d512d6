// Package ledger - events.go provides LISTEN/NOTIFY fan-out for the
// order_opened/order_closed/session_changed events the Ledger publishes
// via pg_notify. Grounded on the reference dashboard's EventListener,
// generalized from broadcasting to websocket clients to forwarding onto
// a Go channel any component can consume — the Execution Loop logs
// these for observability; nothing on the correctness path depends on
// delivery (reconciliation still polls every cycle regardless).
package ledger

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Event is one notification received from the Ledger's pg_notify
// channels.
type Event struct {
	Channel string
	Payload string
	At      time.Time
}

// EventListener wraps a pq.Listener against the same database the
// Ledger writes to.
type EventListener struct {
	dbURL    string
	logger   zerolog.Logger
	channels []string
	shutdown chan struct{}
}

// DefaultChannels is the set of channels the Ledger publishes on.
var DefaultChannels = []string{"order_opened", "order_closed", "session_changed"}

// NewEventListener builds a listener for dbURL, subscribing to channels
// (DefaultChannels if empty).
func NewEventListener(dbURL string, channels []string, logger zerolog.Logger) *EventListener {
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	return &EventListener{dbURL: dbURL, logger: logger, channels: channels, shutdown: make(chan struct{})}
}

// Start runs the listen loop in a background goroutine and returns a
// channel of Events. The channel is closed when ctx is cancelled or Stop
// is called.
func (el *EventListener) Start(ctx context.Context) <-chan Event {
	out := make(chan Event, 32)
	go el.run(ctx, out)
	return out
}

// Stop ends the listen loop if it has not already stopped via ctx.
func (el *EventListener) Stop() {
	close(el.shutdown)
}

func (el *EventListener) run(ctx context.Context, out chan<- Event) {
	defer close(out)

	minRetry := 100 * time.Millisecond
	maxRetry := 10 * time.Second
	retry := minRetry

	for {
		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
		}

		listener := pq.NewListener(el.dbURL, minRetry, maxRetry, func(_ pq.ListenerEventType, err error) {
			if err != nil {
				el.logger.Warn().Err(err).Msg("ledger: event listener connection event")
			}
		})

		ready := true
		for _, ch := range el.channels {
			if err := listener.Listen(ch); err != nil {
				el.logger.Warn().Err(err).Str("channel", ch).Msg("ledger: event listener subscribe failed")
				ready = false
				break
			}
		}
		if !ready {
			listener.Close()
			retry = maxRetry
			time.Sleep(retry)
			continue
		}
		retry = minRetry

		el.drain(ctx, listener, out)
		listener.Close()

		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
			time.Sleep(retry)
		}
	}
}

func (el *EventListener) drain(ctx context.Context, listener *pq.Listener, out chan<- Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		case n := <-listener.Notify:
			if n == nil {
				return
			}
			select {
			case out <- Event{Channel: n.Channel, Payload: n.Extra, At: time.Now()}:
			default:
				el.logger.Warn().Str("channel", n.Channel).Msg("ledger: event listener consumer too slow, dropping notification")
			}
		}
	}
}
