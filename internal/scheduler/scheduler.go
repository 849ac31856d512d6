// Package scheduler implements the Session Scheduler: which strategy
// (if any) governs trading at a given instant, based on a configured
// list of wall-clock sessions in a single timezone. Sessions are
// resolved once at construction time into sorted, half-open intervals
// (splitting any session that wraps midnight into two), so that
// current_strategy/current_session/next_transition are pure lookups
// with no per-call parsing.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/nitinkhare/mt5crtengine/internal/config"
)

// interval is one resolved, same-day [startMinute, endMinute) span in
// the scheduler's configured timezone. A session that wraps midnight
// becomes two intervals: [start,1440) and [0,end).
type interval struct {
	session    string
	strategy   string
	startMin   int
	endMin     int
}

// Scheduler answers "what strategy governs trading right now" from a
// fixed, validated list of sessions. It holds no mutable state after
// construction. The session schedule is not among the hot-reloaded
// config fields, so a schedule change takes effect when the engine
// restarts.
type Scheduler struct {
	loc          *time.Location
	intervals    []interval // sorted by startMin
	defaultName  string
}

// New validates and resolves sched into a Scheduler. defaultStrategy is
// used outside of any configured session (and when the schedule is
// disabled). known is the set of strategy names the Strategy Pipeline
// actually knows how to run; New rejects a schedule that references an
// unknown strategy so that a typo in config fails at startup, not at
// 3am when a session silently falls through.
func New(sched config.StrategyScheduleConfig, defaultStrategy string, known map[string]bool) (*Scheduler, error) {
	loc := time.UTC
	if sched.Timezone != "" {
		l, err := time.LoadLocation(sched.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler: invalid timezone %q: %w", sched.Timezone, err)
		}
		loc = l
	}

	s := &Scheduler{loc: loc, defaultName: defaultStrategy}
	if !sched.Enabled {
		return s, nil
	}

	var resolved []interval
	for _, sess := range sched.Sessions {
		if known != nil && !known[sess.Strategy] {
			return nil, fmt.Errorf("scheduler: session %q references unknown strategy %q", sess.Name, sess.Strategy)
		}
		startMin, err := parseHHMM(sess.StartTime)
		if err != nil {
			return nil, fmt.Errorf("scheduler: session %q start_time: %w", sess.Name, err)
		}
		endMin, err := parseHHMM(sess.EndTime)
		if err != nil {
			return nil, fmt.Errorf("scheduler: session %q end_time: %w", sess.Name, err)
		}
		if startMin == endMin {
			return nil, fmt.Errorf("scheduler: session %q has zero-length window", sess.Name)
		}

		if startMin < endMin {
			resolved = append(resolved, interval{sess.Name, sess.Strategy, startMin, endMin})
		} else {
			// Wraps midnight: split into [start,1440) and [0,end).
			resolved = append(resolved,
				interval{sess.Name, sess.Strategy, startMin, 24 * 60},
				interval{sess.Name, sess.Strategy, 0, endMin},
			)
		}
	}

	sort.Slice(resolved, func(i, j int) bool { return resolved[i].startMin < resolved[j].startMin })

	for i := 1; i < len(resolved); i++ {
		if resolved[i].startMin < resolved[i-1].endMin {
			return nil, fmt.Errorf("scheduler: session %q overlaps session %q", resolved[i].session, resolved[i-1].session)
		}
	}

	s.intervals = resolved
	return s, nil
}

func parseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time out of range: %q", s)
	}
	return h*60 + m, nil
}

func minuteOfDay(now time.Time) int {
	return now.Hour()*60 + now.Minute()
}

// CurrentSession returns the session name and strategy active at now,
// or ("", defaultStrategy, false) if now falls in a gap.
func (s *Scheduler) CurrentSession(now time.Time) (session, strategy string, ok bool) {
	if len(s.intervals) == 0 {
		return "", s.defaultName, false
	}
	mod := minuteOfDay(now.In(s.loc))
	for _, iv := range s.intervals {
		if mod >= iv.startMin && mod < iv.endMin {
			return iv.session, iv.strategy, true
		}
	}
	return "", s.defaultName, false
}

// CurrentStrategy returns only the strategy name governing now — the
// configured session's strategy, or the default outside of any
// session.
func (s *Scheduler) CurrentStrategy(now time.Time) string {
	_, strategy, ok := s.CurrentSession(now)
	if !ok {
		return s.defaultName
	}
	return strategy
}

// NextTransition returns the first session boundary after now's minute
// (a wall-clock instant in the scheduler's timezone), and the strategy
// that will be active starting then.
func (s *Scheduler) NextTransition(now time.Time) (time.Time, string) {
	local := now.In(s.loc)
	if len(s.intervals) == 0 {
		return local, s.defaultName
	}
	mod := minuteOfDay(local)

	type boundary struct {
		min      int
		strategy string
	}
	var boundaries []boundary
	for _, iv := range s.intervals {
		boundaries = append(boundaries, boundary{iv.startMin, iv.strategy}, boundary{iv.endMin % (24 * 60), s.strategyAfter(iv.endMin)})
	}
	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i].min < boundaries[j].min })

	for _, b := range boundaries {
		if b.min > mod {
			return dayStart(local).Add(time.Duration(b.min) * time.Minute), b.strategy
		}
	}
	// No boundary left today: the next transition is the first one tomorrow.
	first := boundaries[0]
	return dayStart(local).Add(24 * time.Hour).Add(time.Duration(first.min) * time.Minute), first.strategy
}

// strategyAfter finds whatever governs the instant right after endMin,
// defaulting to the scheduler's default strategy if no interval covers it.
func (s *Scheduler) strategyAfter(endMin int) string {
	probe := endMin % (24 * 60)
	for _, iv := range s.intervals {
		if probe >= iv.startMin && probe < iv.endMin {
			return iv.strategy
		}
	}
	return s.defaultName
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
