// Package enginerr defines the closed set of error kinds the engine
// distinguishes for retry/backoff policy and structured abort logging.
// The Ledger wraps LedgerUnavailable with fmt.Errorf("%w", ...) so
// callers can use errors.Is instead of string matching; no other
// component wraps these kinds.
package enginerr

import "errors"

// Kind is one of the error categories the Execution Loop and its
// components react to differently.
type Kind error

var (
	// ConfigInvalid is fatal at boot.
	ConfigInvalid Kind = errors.New("config invalid")

	// GatewayUnavailable means the broker terminal/bridge could not be
	// reached. Retried with bounded backoff; never gives up while an
	// auto-close is pending.
	GatewayUnavailable Kind = errors.New("gateway unavailable")

	// GatewayRejected means the broker responded but rejected the
	// request (bad volume, trade disabled, invalid stops, ...). The
	// action aborts; the loop keeps running.
	GatewayRejected Kind = errors.New("gateway rejected request")

	// InsufficientHistory means a detector or candle lookup did not
	// have enough bars to decide. Not an error condition for the loop —
	// it is surfaced as a "not detected" result, but components that
	// need to distinguish it from "no signal" use this.
	InsufficientHistory Kind = errors.New("insufficient history")

	// NewsSourceUnavailable means the calendar scrape failed. Treated
	// as "unknown" by the News Gate: blocks trading, never blocks the
	// Position Monitor.
	NewsSourceUnavailable Kind = errors.New("news source unavailable")

	// LedgerUnavailable means the durable store could not be reached.
	// Logged; the broker remains the source of truth and the next
	// reconciliation heals the drift.
	LedgerUnavailable Kind = errors.New("ledger unavailable")

	// ValidationFailure means Stage 4 sizing/RR/precondition checks
	// failed. Aborts this symbol this cycle only.
	ValidationFailure Kind = errors.New("validation failure")
)
