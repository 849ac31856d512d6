// Package candle resolves OHLC bars by timeframe and by named NY-time
// anchor ("now", "1am", "HH:MM"). It is the only component that talks to
// the Broker Gateway for historical rates; pattern detectors and the
// strategy pipeline never fetch bars directly.
package candle

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/nitinkhare/mt5crtengine/internal/broker"
)

// Direction classifies a bar's body sign.
type Direction int

const (
	Doji Direction = iota
	Bullish
	Bearish
)

// Timeframe is one of the broker-supported candle periods.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

// Duration returns the wall-clock span a bar of this timeframe covers.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case M1:
		return time.Minute
	case M5:
		return 5 * time.Minute
	case M15:
		return 15 * time.Minute
	case M30:
		return 30 * time.Minute
	case H1:
		return time.Hour
	case H4:
		return 4 * time.Hour
	case D1:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Bar is an immutable OHLC record over a fixed timeframe, except for the
// bar still forming at the current instant, which mutates with each tick.
type Bar struct {
	Symbol    string
	Timeframe Timeframe
	OpenTime  time.Time // broker-zone wall time the bar opened
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Body returns the absolute size of the bar's open/close body.
func (b Bar) Body() float64 {
	return absf(b.Close - b.Open)
}

// BodyHigh and BodyLow return the top/bottom of the candle body (as
// opposed to the wick extremes High/Low). Used throughout the CRT family.
func (b Bar) BodyHigh() float64 {
	if b.Close > b.Open {
		return b.Close
	}
	return b.Open
}

func (b Bar) BodyLow() float64 {
	if b.Close < b.Open {
		return b.Close
	}
	return b.Open
}

// Direction classifies the bar by sign(close - open).
func (b Bar) Direction() Direction {
	switch {
	case b.Close > b.Open:
		return Bullish
	case b.Close < b.Open:
		return Bearish
	default:
		return Doji
	}
}

var ErrNotFound = errors.New("candle: insufficient history for requested anchor")

// Reader resolves bars by timeframe and by named anchor.
type Reader struct {
	gw             broker.Broker
	utcOffsetOverride *time.Duration
}

// NewReader builds a Candle Reader over the given Broker Gateway. If
// utcOffsetMinutes is non-zero, it overrides the auto-detected
// broker-zone offset (see brokerOffset) instead of deriving it from a
// recently closed bar.
func NewReader(gw broker.Broker, utcOffsetMinutes int) *Reader {
	r := &Reader{gw: gw}
	if utcOffsetMinutes != 0 {
		d := time.Duration(utcOffsetMinutes) * time.Minute
		r.utcOffsetOverride = &d
	}
	return r
}

var hhmmPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)
var nyClockTagPattern = regexp.MustCompile(`^(\d{1,2})(am|pm)$`)

// nyLocation is the America/New_York zone all named anchors resolve
// against, regardless of the broker's own terminal timezone.
var nyLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// resolveAnchor turns "now", "1am".."12am/pm", or "HH:MM" into a concrete
// instant in NY time, anchored to the given reference date.
func resolveAnchor(when string, ref time.Time) (time.Time, error) {
	if when == "now" {
		return ref.In(nyLocation), nil
	}
	nyRef := ref.In(nyLocation)

	if m := nyClockTagPattern.FindStringSubmatch(when); m != nil {
		hour := atoiSafe(m[1])
		if m[2] == "pm" && hour != 12 {
			hour += 12
		}
		if m[2] == "am" && hour == 12 {
			hour = 0
		}
		return time.Date(nyRef.Year(), nyRef.Month(), nyRef.Day(), hour, 0, 0, 0, nyLocation), nil
	}

	if m := hhmmPattern.FindStringSubmatch(when); m != nil {
		hour := atoiSafe(m[1])
		minute := atoiSafe(m[2])
		return time.Date(nyRef.Year(), nyRef.Month(), nyRef.Day(), hour, minute, 0, 0, nyLocation), nil
	}

	return time.Time{}, fmt.Errorf("candle: unrecognized anchor %q", when)
}

// GetCandle returns the bar for symbol/timeframe whose [open_time,
// open_time+timeframe) window contains the target instant named by when
// ("now", a 12-hour NY clock tag, or "HH:MM" in NY time) — not the bar
// that happens to open exactly at it.
func (r *Reader) GetCandle(ctx context.Context, symbol string, tf Timeframe, when string) (Bar, error) {
	target, err := resolveAnchor(when, time.Now())
	if err != nil {
		return Bar{}, err
	}

	offset, err := r.brokerOffset(ctx, symbol, tf)
	if err != nil {
		return Bar{}, err
	}
	brokerTarget := target.In(time.UTC).Add(offset)

	const lookback = 200
	bars, err := r.gw.Rates(ctx, symbol, string(tf), brokerTarget.Add(-tf.Duration()*time.Duration(lookback)), lookback*2)
	if err != nil {
		return Bar{}, err
	}

	for i := len(bars) - 1; i >= 0; i-- {
		b := toBar(symbol, tf, bars[i])
		windowEnd := b.OpenTime.Add(tf.Duration())
		if !b.OpenTime.After(brokerTarget) && brokerTarget.Before(windowEnd) {
			return b, nil
		}
	}
	return Bar{}, ErrNotFound
}

// RecentBars returns the last count bars of the given timeframe, oldest
// first, ending with the currently-forming bar — the shape Stage 3's
// entry-FVG check needs (v1, v2, v3).
func (r *Reader) RecentBars(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error) {
	offset, err := r.brokerOffset(ctx, symbol, tf)
	if err != nil {
		return nil, err
	}
	nowBroker := time.Now().UTC().Add(offset)

	const pad = 5
	raw, err := r.gw.Rates(ctx, symbol, string(tf), nowBroker.Add(-tf.Duration()*time.Duration(count+pad)), count+pad)
	if err != nil {
		return nil, err
	}
	if len(raw) < count {
		return nil, ErrNotFound
	}

	bars := make([]Bar, len(raw))
	for i, rb := range raw {
		bars[i] = toBar(symbol, tf, rb)
	}
	return bars[len(bars)-count:], nil
}

// brokerOffset returns the broker-terminal-zone minus UTC offset, either
// from the explicit config override or auto-detected from one recently
// closed bar.
//
// MT5-style bridges report bar open times as naive numbers tagged UTC
// that actually encode the terminal's own wall clock. The offset is
// recovered by comparing the most recent bar's reported open time
// against the real UTC instant "now", rounded to the nearest 30 minutes
// (most broker zones sit on a half-hour boundary relative to UTC) and
// wrapped into (-12h, 12h]. This drifts across DST edges; set
// mt5.broker_utc_offset_minutes to bypass it entirely.
func (r *Reader) brokerOffset(ctx context.Context, symbol string, tf Timeframe) (time.Duration, error) {
	if r.utcOffsetOverride != nil {
		return *r.utcOffsetOverride, nil
	}
	bars, err := r.gw.Rates(ctx, symbol, string(tf), time.Now().Add(-tf.Duration()), 1)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, ErrNotFound
	}
	last := bars[len(bars)-1]
	nowUTC := time.Now().UTC()

	raw := last.OpenTime.Sub(nowUTC)
	const half = 30 * time.Minute
	rounded := (raw + half/2) / half * half
	const day = 24 * time.Hour
	rounded = ((rounded % day) + day) % day
	if rounded > 12*time.Hour {
		rounded -= day
	}
	return rounded, nil
}

// H4KeyCandles are the three bars all CRT and Turtle-Soup detectors key
// off: the H4 bars opening at 01:00, 05:00, and 09:00 NY time. C9 may
// still be forming.
type H4KeyCandles struct {
	C1, C5, C9 Bar
}

// GetH4KeyCandles fetches the three H4 key candles for symbol.
func (r *Reader) GetH4KeyCandles(ctx context.Context, symbol string) (H4KeyCandles, error) {
	c1, err := r.GetCandle(ctx, symbol, H4, "1am")
	if err != nil {
		return H4KeyCandles{}, fmt.Errorf("1am key candle: %w", err)
	}
	c5, err := r.GetCandle(ctx, symbol, H4, "5am")
	if err != nil {
		return H4KeyCandles{}, fmt.Errorf("5am key candle: %w", err)
	}
	c9, err := r.GetCandle(ctx, symbol, H4, "9am")
	if err != nil {
		return H4KeyCandles{}, fmt.Errorf("9am key candle: %w", err)
	}
	return H4KeyCandles{C1: c1, C5: c5, C9: c9}, nil
}

func toBar(symbol string, tf Timeframe, rb broker.RateBar) Bar {
	return Bar{
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  rb.OpenTime,
		Open:      rb.Open,
		High:      rb.High,
		Low:       rb.Low,
		Close:     rb.Close,
		Volume:    rb.Volume,
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
