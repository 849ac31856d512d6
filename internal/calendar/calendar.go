// Package calendar provides the wall clock, holiday set, and trading-day
// predicate the News Gate and Execution Loop check before analysis runs.
//
// Design rules (generalized from the reference engine's NSE/IST-specific
// market calendar):
//   - The system must know whether today is a trading day without relying
//     on weekday arithmetic alone.
//   - A single Clock, configured with one named zone, is the source of
//     truth for "now" throughout the engine.
package calendar

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// HolidayEntry is one exchange/broker holiday.
type HolidayEntry struct {
	Date   string `json:"date"` // YYYY-MM-DD, in the calendar's zone
	Reason string `json:"reason"`
}

// Clock is the wall-clock-in-a-named-zone plus holiday set used to
// answer "is this a trading day" and "what time is it locally".
type Clock struct {
	loc      *time.Location
	holidays map[string]string // YYYY-MM-DD -> reason
}

// New creates a Clock for the given IANA zone name with the given
// holiday set (date -> reason). Pass a nil map for no holidays.
func New(zone string, holidays map[string]string) (*Clock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("calendar: load zone %q: %w", zone, err)
	}
	if holidays == nil {
		holidays = map[string]string{}
	}
	return &Clock{loc: loc, holidays: holidays}, nil
}

// LoadHolidays reads a JSON array of HolidayEntry from path and builds a
// Clock for the given zone.
func LoadHolidays(zone, path string) (*Clock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: read holidays file: %w", err)
	}
	var entries []HolidayEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("calendar: parse holidays: %w", err)
	}
	holidays := make(map[string]string, len(entries))
	for _, e := range entries {
		holidays[e.Date] = e.Reason
	}
	return New(zone, holidays)
}

// Zone returns the clock's configured location.
func (c *Clock) Zone() *time.Location {
	return c.loc
}

// Now returns the current instant in the clock's zone.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// IsHoliday reports whether date (interpreted in the clock's zone) is a
// known holiday, and the reason if so.
func (c *Clock) IsHoliday(date time.Time) (bool, string) {
	key := date.In(c.loc).Format("2006-01-02")
	reason, ok := c.holidays[key]
	return ok, reason
}

// IsTradingDay reports whether date is a trading day: not a weekend and
// not a known holiday.
func (c *Clock) IsTradingDay(date time.Time) bool {
	d := date.In(c.loc)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	if ok, _ := c.IsHoliday(d); ok {
		return false
	}
	return true
}

// TradingDay answers §4.6's trading_day(now) contract: whether trading
// is permitted today, the reason if not, and the set of holidays near
// now (today and the prior/following 5 days) for diagnostic display.
func (c *Clock) TradingDay(now time.Time) (ok bool, reason string, nearby []HolidayEntry) {
	d := now.In(c.loc)

	for i := -5; i <= 5; i++ {
		day := d.AddDate(0, 0, i)
		if isHoliday, r := c.IsHoliday(day); isHoliday {
			nearby = append(nearby, HolidayEntry{Date: day.Format("2006-01-02"), Reason: r})
		}
	}

	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false, "weekend", nearby
	}
	if isHoliday, r := c.IsHoliday(d); isHoliday {
		return false, r, nearby
	}
	return true, "", nearby
}

// NextTradingDay returns the next trading day strictly after date.
func (c *Clock) NextTradingDay(date time.Time) time.Time {
	candidate := date.In(c.loc).AddDate(0, 0, 1)
	for i := 0; i < 14; i++ {
		if c.IsTradingDay(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// InWindow reports whether now falls within [startHHMM, endHHMM) of the
// clock's zone, handling windows that wrap past midnight.
func InWindow(now time.Time, loc *time.Location, startHHMM, endHHMM string) (bool, error) {
	t := now.In(loc)
	start, err := parseHHMM(startHHMM)
	if err != nil {
		return false, fmt.Errorf("calendar: start_time: %w", err)
	}
	end, err := parseHHMM(endHHMM)
	if err != nil {
		return false, fmt.Errorf("calendar: end_time: %w", err)
	}
	cur := t.Hour()*60 + t.Minute()

	if end <= start {
		// Wraps midnight: in-window if >= start OR < end.
		return cur >= start || cur < end, nil
	}
	return cur >= start && cur < end, nil
}

func parseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range HH:MM: %q", s)
	}
	return h*60 + m, nil
}
