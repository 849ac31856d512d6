// Package ledger implements the Order Ledger: the durable,
// Postgres-backed record of every order the engine has sent, used for
// daily trade counting, duplicate-position checks, reconciliation
// against the broker's live state, and after-the-fact reporting. It is
// the only package that issues SQL.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/nitinkhare/mt5crtengine/internal/enginerr"
)

// Order is one durable row: everything needed to reconstruct a
// position's lifecycle without going back to the broker.
type Order struct {
	Ticket      string
	Symbol      string
	Strategy    string
	Side        string // "BUY" or "SELL", mirrors broker.OrderSide
	Volume      float64
	Entry       float64
	StopLoss    float64
	TakeProfit  float64
	OpenedAt    time.Time
	ClosedAt    *time.Time
	ClosePrice  *float64
	CloseReason string
}

// Ledger wraps a *sql.DB opened against the pgx stdlib driver.
type Ledger struct {
	db     *sql.DB
	dbURL  string
	logger zerolog.Logger
}

// Open connects to dbURL (a postgres:// connection string) and
// verifies connectivity with a ping.
func Open(ctx context.Context, dbURL string, logger zerolog.Logger) (*Ledger, error) {
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ledger ping: %v", enginerr.LedgerUnavailable, err)
	}
	return &Ledger{db: db, dbURL: dbURL, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// InsertOpen records a newly-filled order. Idempotent on ticket: a
// retried insert for a ticket already recorded is a silent no-op,
// which matters because the Execution Loop may re-run a cycle after a
// transient failure without knowing whether the previous attempt's
// SendOrder actually reached the broker.
func (l *Ledger) InsertOpen(ctx context.Context, o Order) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO orders (ticket, symbol, strategy, side, volume, entry, stop_loss, take_profit, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (ticket) DO NOTHING
	`, o.Ticket, o.Symbol, o.Strategy, o.Side, o.Volume, o.Entry, o.StopLoss, o.TakeProfit, o.OpenedAt)
	if err != nil {
		return fmt.Errorf("%w: insert_open %s: %v", enginerr.LedgerUnavailable, o.Ticket, err)
	}
	if err := l.notify(ctx, "order_opened", o.Ticket); err != nil {
		l.logger.Warn().Err(err).Str("ticket", o.Ticket).Msg("ledger: notify order_opened failed")
	}
	return nil
}

// MarkClosed finalizes a ticket's row with its close price, reason, and
// time. A ticket that was never inserted (e.g. a position opened before
// the engine last restarted) still gets a row via an upsert, so
// reconciliation never silently drops history.
func (l *Ledger) MarkClosed(ctx context.Context, ticket string, price float64, reason string, at time.Time) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE orders SET closed_at = $2, close_price = $3, close_reason = $4
		WHERE ticket = $1 AND closed_at IS NULL
	`, ticket, at, price, reason)
	if err != nil {
		return fmt.Errorf("%w: mark_closed %s: %v", enginerr.LedgerUnavailable, ticket, err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		if _, err := l.db.ExecContext(ctx, `
			INSERT INTO orders (ticket, symbol, strategy, side, volume, entry, stop_loss, take_profit, opened_at, closed_at, close_price, close_reason)
			VALUES ($1, '', '', '', 0, 0, 0, 0, $2, $2, $3, $4)
			ON CONFLICT (ticket) DO UPDATE SET closed_at = $2, close_price = $3, close_reason = $4
		`, ticket, at, price, reason); err != nil {
			return fmt.Errorf("%w: mark_closed fallback insert %s: %v", enginerr.LedgerUnavailable, ticket, err)
		}
	}
	if err := l.notify(ctx, "order_closed", ticket); err != nil {
		l.logger.Warn().Err(err).Str("ticket", ticket).Msg("ledger: notify order_closed failed")
	}
	return nil
}

// ListOpen returns every order with no recorded close, across all
// symbols — the Position Monitor's reconciliation baseline.
func (l *Ledger) ListOpen(ctx context.Context) ([]Order, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT ticket, symbol, strategy, side, volume, entry, stop_loss, take_profit, opened_at
		FROM orders WHERE closed_at IS NULL ORDER BY opened_at
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: list_open: %v", enginerr.LedgerUnavailable, err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.Ticket, &o.Symbol, &o.Strategy, &o.Side, &o.Volume, &o.Entry, &o.StopLoss, &o.TakeProfit, &o.OpenedAt); err != nil {
			return nil, fmt.Errorf("%w: list_open scan: %v", enginerr.LedgerUnavailable, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountToday returns the number of orders opened today (in UTC),
// optionally filtered to one strategy when strategy is non-empty.
func (l *Ledger) CountToday(ctx context.Context, strategy string) (int, error) {
	var count int
	var err error
	if strategy == "" {
		err = l.db.QueryRowContext(ctx, `
			SELECT count(*) FROM orders WHERE opened_at >= date_trunc('day', now() AT TIME ZONE 'UTC')
		`).Scan(&count)
	} else {
		err = l.db.QueryRowContext(ctx, `
			SELECT count(*) FROM orders
			WHERE strategy = $1 AND opened_at >= date_trunc('day', now() AT TIME ZONE 'UTC')
		`, strategy).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: count_today: %v", enginerr.LedgerUnavailable, err)
	}
	return count, nil
}

// FirstTPToday reports whether any order closed today with
// close_reason "TP" — used by risk_management.close_day_on_first_tp.
func (l *Ledger) FirstTPToday(ctx context.Context) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM orders
			WHERE close_reason = 'TP' AND closed_at >= date_trunc('day', now() AT TIME ZONE 'UTC')
		)
	`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: first_tp_today: %v", enginerr.LedgerUnavailable, err)
	}
	return exists, nil
}

// notify publishes a JSON payload {"ticket": "..."} on channel via
// pg_notify, consumed by EventListener.
func (l *Ledger) notify(ctx context.Context, channel, ticket string) error {
	_, err := l.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, fmt.Sprintf(`{"ticket":%q}`, ticket))
	return err
}

// NotifySessionChanged publishes a session_changed event, used by the
// Execution Loop when the Session Scheduler reports a transition.
func (l *Ledger) NotifySessionChanged(ctx context.Context, strategy string) error {
	_, err := l.db.ExecContext(ctx, `SELECT pg_notify('session_changed', $1)`, fmt.Sprintf(`{"strategy":%q}`, strategy))
	return err
}

// ListClosed returns every order closed at or after since, ordered by
// close time — the input to internal/analytics's performance reports.
func (l *Ledger) ListClosed(ctx context.Context, since time.Time) ([]Order, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT ticket, symbol, strategy, side, volume, entry, stop_loss, take_profit, opened_at, closed_at, close_price, close_reason
		FROM orders WHERE closed_at IS NOT NULL AND closed_at >= $1 ORDER BY closed_at
	`, since)
	if err != nil {
		return nil, fmt.Errorf("%w: list_closed: %v", enginerr.LedgerUnavailable, err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		var closeReason sql.NullString
		if err := rows.Scan(&o.Ticket, &o.Symbol, &o.Strategy, &o.Side, &o.Volume, &o.Entry, &o.StopLoss, &o.TakeProfit,
			&o.OpenedAt, &o.ClosedAt, &o.ClosePrice, &closeReason); err != nil {
			return nil, fmt.Errorf("%w: list_closed scan: %v", enginerr.LedgerUnavailable, err)
		}
		o.CloseReason = closeReason.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// Log inserts a free-form operational note, independent of the order
// lifecycle (e.g. a reconciliation finding or a config reload note).
func (l *Ledger) Log(ctx context.Context, level, component, message string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO logs (level, component, message) VALUES ($1, $2, $3)
	`, level, component, message)
	if err != nil {
		return fmt.Errorf("%w: log insert: %v", enginerr.LedgerUnavailable, err)
	}
	return nil
}
