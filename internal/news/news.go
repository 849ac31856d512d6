// Package news implements the News Gate: a sorted list of future
// high-impact calendar events per currency, and the may-I-trade-now
// window check the Strategy Pipeline's Stage 1 calls before anything
// else runs.
package news

import (
	"sort"
	"strings"
	"time"

	"github.com/nitinkhare/mt5crtengine/internal/calendar"
)

// Event is one calendar entry, already filtered to impact==3
// (high-impact) by the source.
type Event struct {
	Time      time.Time // UTC
	Currency  string
	Title     string
	Impact    int // 0..3
	IsHoliday bool
}

// Source fetches all high-impact events for the month containing ref.
// Implementations may hit a live scraper (see scraper.go) or a fixture
// in tests.
type Source interface {
	FetchMonth(ref time.Time) ([]Event, error)
}

// Gate answers "may I trade now" and "is today a trading day" for a
// given symbol, consulting the currencies the symbol settles in.
type Gate struct {
	source Source
	clock  *calendar.Clock
	now    func() time.Time

	cached   []Event
	cachedAt time.Time
	cacheTTL time.Duration
}

// NewGate builds a Gate over the given Source and Clock. cacheTTL bounds
// how long a fetched month's events are reused before re-fetching (the
// source is a scrape; there is no reason to hit it every tick).
func NewGate(source Source, clock *calendar.Clock, cacheTTL time.Duration) *Gate {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Minute
	}
	return &Gate{source: source, clock: clock, now: time.Now, cacheTTL: cacheTTL}
}

// currenciesFor maps a symbol to the currencies whose news can move it
// by splitting it into two 3-letter codes, after dropping a trailing
// broker "m" suffix: EURUSD -> {EUR, USD}, XAUUSD -> {XAU, USD}.
func currenciesFor(symbol string) []string {
	s := strings.ToUpper(symbol)
	s = strings.TrimSuffix(s, "M") // tolerate broker "micro" suffixes like EURUSDm
	if len(s) < 6 {
		return nil
	}
	base, quote := s[0:3], s[3:6]
	if base == quote {
		return []string{base}
	}
	return []string{base, quote}
}

// refresh re-fetches the current month's events if the cache has
// expired. On fetch failure it returns the error and leaves any
// previously cached events in place (stale-but-present is handled by the
// caller treating a fetch error as "unknown" -> blocked, per §7).
func (g *Gate) refresh() error {
	now := g.now()
	if now.Sub(g.cachedAt) < g.cacheTTL && g.cached != nil {
		return nil
	}
	events, err := g.source.FetchMonth(now)
	if err != nil {
		return err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })
	g.cached = events
	g.cachedAt = now
	return nil
}

// eventsForSymbol returns cached events relevant to symbol's currencies
// that are still relevant at now — either still upcoming, or fired
// recently enough that now can still fall inside their trailing
// [time, time+after] block window — sorted ascending by time. Events
// older than the widest trailing window in play are dropped; they can
// no longer affect any check MayTrade performs at now.
func (g *Gate) eventsForSymbol(now time.Time, symbol string, after time.Duration) []Event {
	currencies := currenciesFor(symbol)
	currencySet := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		currencySet[c] = true
	}

	var out []Event
	for _, e := range g.cached {
		if e.Time.Add(after).Before(now) {
			continue
		}
		if len(currencySet) > 0 && !currencySet[e.Currency] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// MayTrade implements §4.6's may_trade contract. before/after bound the
// blocked window around each event: now is blocked whenever
// now ∈ [e.time-before, e.time+after], including both endpoints, so an
// event at exactly now, or one that fired within the trailing after
// window, still blocks. consecutiveWindow additionally blocks trading
// when the next upcoming event sits within after+consecutiveWindow of
// now, even though now itself is outside [time-before, time+after] —
// the spec's default is 30 minutes; pass 0 to disable the consecutive
// check entirely.
func (g *Gate) MayTrade(symbol string, now time.Time, before, after, consecutiveWindow time.Duration) (bool, string, *Event) {
	if err := g.refresh(); err != nil {
		return false, "news source unavailable", nil
	}

	events := g.eventsForSymbol(now, symbol, after)
	for i := range events {
		e := events[i]
		windowStart := e.Time.Add(-before)
		windowEnd := e.Time.Add(after)
		if !now.Before(windowStart) && !now.After(windowEnd) {
			return false, "news_window", &e
		}
	}

	if consecutiveWindow > 0 {
		for i := range events {
			next := events[i]
			if !next.Time.After(now) {
				continue
			}
			consecutiveEdge := now.Add(after + consecutiveWindow)
			if !next.Time.After(consecutiveEdge) {
				return false, "consecutive", &next
			}
			break
		}
	}

	return true, "", nil
}

// TradingDay implements §4.6's trading_day(now) contract: non-weekend
// and no holiday in the configured calendar.
func (g *Gate) TradingDay(now time.Time) (bool, string, []calendar.HolidayEntry) {
	return g.clock.TradingDay(now)
}
