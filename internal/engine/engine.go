// Package engine implements the Execution Loop: the top-level cadence
// policy that ties the Broker Gateway, Position Monitor, Session
// Scheduler, and Strategy Pipeline together into one continuously
// running process.
//
// Grounded on the reference engine's runContinuousMarketLoop (ticker
// loop with a signal-aware context and dynamic sleep) generalized from a
// fixed polling interval to spec §4.8's adaptive cadence table, and on
// its circuit-breaker wiring around SendOrder-adjacent calls, moved here
// to gate only the analysis phase.
package engine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/nitinkhare/mt5crtengine/internal/broker"
	"github.com/nitinkhare/mt5crtengine/internal/calendar"
	"github.com/nitinkhare/mt5crtengine/internal/config"
	"github.com/nitinkhare/mt5crtengine/internal/monitor"
	"github.com/nitinkhare/mt5crtengine/internal/news"
	"github.com/nitinkhare/mt5crtengine/internal/risk"
	"github.com/nitinkhare/mt5crtengine/internal/scheduler"
	"github.com/nitinkhare/mt5crtengine/internal/strategy"
)

const (
	cadenceIntensive    = time.Second
	cadenceOpenPosition = 5 * time.Second
	cadenceIntermediate = 10 * time.Second
	cadenceDefault      = 60 * time.Second
)

var (
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_cycle_duration_seconds",
		Help:    "Wall-clock duration of one Execution Loop cycle.",
		Buckets: prometheus.DefBuckets,
	})
	cadenceSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_cadence_seconds",
		Help: "Sleep duration chosen for the next cycle.",
	})
	ordersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_orders_submitted_total",
		Help: "Orders successfully sent to the broker by the Strategy Pipeline.",
	})
	ordersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_rejected_total",
		Help: "Strategy Pipeline aborts, by reason.",
	}, []string{"reason"})
	circuitTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_circuit_breaker_trips_total",
		Help: "Times the gateway-connectivity circuit breaker has tripped.",
	})
)

// ledgerStore is the slice of *ledger.Ledger the loop itself needs,
// beyond what it hands to the Monitor and Pipeline.
type ledgerStore interface {
	CountToday(ctx context.Context, strategy string) (int, error)
	FirstTPToday(ctx context.Context) (bool, error)
	NotifySessionChanged(ctx context.Context, strategy string) error
}

// tickSource is satisfied by broker.PaperBroker; the loop feeds it
// live ticks so its in-memory SL/TP simulation stays honest, without
// widening the Broker interface every other package depends on.
type tickSource interface {
	MarkTick(symbol string, tick broker.Tick)
}

// Loop owns one Execution Loop cycle and its cadence state.
type Loop struct {
	Broker    broker.Broker
	Monitor   *monitor.Monitor
	Scheduler *scheduler.Scheduler
	Pipeline  *strategy.Pipeline
	News      *news.Gate
	Ledger    ledgerStore
	Breaker   *risk.CircuitBreaker
	Logger    zerolog.Logger

	Symbols      []string
	TradingHours config.TradingHoursConfig
	Risk         config.RiskConfig

	lastSession string
	wasTripped  bool
}

// New builds a Loop. All dependencies are constructed and wired by the
// caller (cmd/engine).
func New(
	b broker.Broker,
	mon *monitor.Monitor,
	sched *scheduler.Scheduler,
	pipeline *strategy.Pipeline,
	newsGate *news.Gate,
	ledg ledgerStore,
	breaker *risk.CircuitBreaker,
	symbols []string,
	tradingHours config.TradingHoursConfig,
	riskCfg config.RiskConfig,
	logger zerolog.Logger,
) *Loop {
	return &Loop{
		Broker: b, Monitor: mon, Scheduler: sched, Pipeline: pipeline, News: newsGate,
		Ledger: ledg, Breaker: breaker, Symbols: symbols, TradingHours: tradingHours,
		Risk: riskCfg, Logger: logger,
	}
}

// Run blocks, executing cycles until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for {
		sleep := l.cycle(ctx)
		select {
		case <-ctx.Done():
			l.Logger.Info().Msg("engine: execution loop stopped")
			return
		case <-time.After(sleep):
		}
	}
}

// cycle runs one pass and returns how long to sleep before the next one.
func (l *Loop) cycle(ctx context.Context) time.Duration {
	start := time.Now()
	now := start.UTC()

	if l.checkConnectivity(ctx) {
		l.Breaker.RecordSuccess()
	} else {
		l.Breaker.RecordFailure("gateway_unreachable")
		l.Logger.Warn().Msg("engine: gateway unreachable this cycle")
	}

	l.feedPaperTicks(ctx)

	l.Monitor.Run(ctx, now)

	l.announceSessionChange(ctx, now)

	open, err := l.Broker.OpenPositions(ctx, "")
	if err != nil {
		l.Logger.Warn().Err(err).Msg("engine: open_positions failed, assuming positions open for cadence purposes")
		open = []broker.Position{{}} // conservative: force the 5s cadence, not 60s
	}

	intensive := false
	intermediate := false

	tripped := l.Breaker.IsTripped()
	if tripped && !l.wasTripped {
		circuitTrips.Inc()
	}
	l.wasTripped = tripped

	if tripped {
		l.Logger.Debug().Str("reason", l.Breaker.TripReason()).Msg("engine: analysis phase gated by circuit breaker")
	} else if len(open) == 0 {
		permit, reason := l.analysisPermitted(ctx, now)
		if !permit {
			l.Logger.Debug().Str("reason", reason).Msg("engine: analysis skipped")
		} else {
			intensive, intermediate = l.runAnalysis(ctx, now)
		}
	}

	sleep := l.cadence(len(open) > 0, intensive, intermediate)
	cadenceSeconds.Set(sleep.Seconds())
	cycleDuration.Observe(time.Since(start).Seconds())
	return sleep
}

// checkConnectivity makes one cheap gateway call to decide whether the
// broker is reachable this cycle. The gateway's own transport (see
// broker.WSBroker) reconnects with its own bounded backoff in the
// background; this only decides whether RecordFailure trips the
// analysis-gating circuit breaker.
func (l *Loop) checkConnectivity(ctx context.Context) bool {
	if len(l.Symbols) == 0 {
		return true
	}
	_, err := l.Broker.Tick(ctx, l.Symbols[0])
	return err == nil
}

// feedPaperTicks keeps a PaperBroker's simulated SL/TP evaluation honest
// by feeding it the latest tick for every open position's symbol. A no-op
// against any other Broker implementation.
func (l *Loop) feedPaperTicks(ctx context.Context) {
	ts, ok := l.Broker.(tickSource)
	if !ok {
		return
	}
	for _, sym := range l.Symbols {
		tick, err := l.Broker.Tick(ctx, sym)
		if err != nil {
			continue
		}
		ts.MarkTick(sym, tick)
	}
}

// announceSessionChange publishes session_changed when the scheduler's
// current session differs from last cycle's.
func (l *Loop) announceSessionChange(ctx context.Context, now time.Time) {
	_, current, _ := l.Scheduler.CurrentSession(now)
	if current == l.lastSession {
		return
	}
	l.lastSession = current
	if err := l.Ledger.NotifySessionChanged(ctx, current); err != nil {
		l.Logger.Warn().Err(err).Msg("engine: notify session_changed failed")
	}
	l.Logger.Info().Str("strategy", current).Msg("engine: session changed")
}

// analysisPermitted implements §4.8's gate: inside the trading window, a
// trading day, and under the daily trade/first-TP caps.
func (l *Loop) analysisPermitted(ctx context.Context, now time.Time) (bool, string) {
	if l.TradingHours.Enabled {
		loc, err := time.LoadLocation(orDefaultStr(l.TradingHours.Timezone, "America/New_York"))
		if err != nil {
			return false, "invalid_trading_hours_timezone"
		}
		inWindow, err := calendar.InWindow(now, loc, l.TradingHours.StartTime, l.TradingHours.EndTime)
		if err != nil || !inWindow {
			return false, "outside_trading_hours"
		}
	}

	if ok, reason, _ := l.News.TradingDay(now); !ok {
		return false, "not_a_trading_day:" + reason
	}

	if l.Risk.MaxTradesPerDay > 0 {
		count, err := l.Ledger.CountToday(ctx, "")
		if err != nil {
			l.Logger.Warn().Err(err).Msg("engine: count_today failed, permitting analysis (ledger unavailable)")
		} else if count >= l.Risk.MaxTradesPerDay {
			return false, "daily_trade_limit_reached"
		}
	}

	if l.Risk.CloseDayOnFirstTP {
		hit, err := l.Ledger.FirstTPToday(ctx)
		if err != nil {
			l.Logger.Warn().Err(err).Msg("engine: first_tp_today failed, permitting analysis (ledger unavailable)")
		} else if hit {
			return false, "close_day_on_first_tp"
		}
	}

	return true, ""
}

// runAnalysis invokes the Strategy Pipeline for every configured symbol
// under the session's current strategy, serialized one symbol at a time
// (the Pipeline itself serializes per (symbol, strategy) state — running
// distinct symbols sequentially keeps gateway load predictable without
// needing a worker pool). It reports whether any symbol this cycle asked
// for intensive or intermediate monitoring cadence.
func (l *Loop) runAnalysis(ctx context.Context, now time.Time) (intensive, intermediate bool) {
	strategyName := l.Scheduler.CurrentStrategy(now)
	for _, sym := range l.Symbols {
		res, err := l.Pipeline.Run(ctx, sym, strategyName, now)
		if err != nil {
			l.Logger.Warn().Err(err).Str("symbol", sym).Str("strategy", strategyName).Msg("engine: pipeline run failed")
			continue
		}
		switch res.Cadence {
		case strategy.CadenceIntensive:
			intensive = true
		case strategy.CadenceIntermediate:
			intermediate = true
		}
		if res.Submitted {
			ordersSubmitted.Inc()
			l.Logger.Info().Str("symbol", sym).Str("ticket", res.Order.Ticket).Msg("engine: order submitted")
		} else if res.Aborted {
			ordersRejected.WithLabelValues(res.Reason).Inc()
		}
	}
	return intensive, intermediate
}

// cadence implements §4.8's table. Intensive monitoring wins over every
// other condition since it exists to catch a narrow entry window; among
// the rest, the shortest applicable interval governs.
func (l *Loop) cadence(anyOpen, intensive, intermediate bool) time.Duration {
	sleep := cadenceDefault
	if anyOpen && cadenceOpenPosition < sleep {
		sleep = cadenceOpenPosition
	}
	if intermediate && cadenceIntermediate < sleep {
		sleep = cadenceIntermediate
	}
	if intensive {
		sleep = cadenceIntensive
	}
	return sleep
}

func orDefaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
