// Package activity answers spend-presence questions about a daily
// metric series under channel access windows. Every function is pure:
// the same series, windows and reference day always produce the same
// answer. A metric only ever counts toward the channel it belongs to,
// and only on days inside that channel's own window, so spend recorded
// by a previous owner of a reused channel id never leaks in.
package activity

import (
	"time"

	"github.com/adlift/trafficdesk/internal/access"
	spenddomain "github.com/adlift/trafficdesk/internal/spend/domain"
)

// DefaultAggregateWindow is the number of active days the rolling
// aggregate looks for before it stops scanning backward.
const DefaultAggregateWindow = 14

// Aggregate sums spend over the most recent active days. ActiveDays
// below WindowSize means the series is too short for a confident read;
// callers surface that as a caution, never as an error.
type Aggregate struct {
	Cost       float64
	Leads      int64
	CPL        float64
	ActiveDays int
	WindowSize int
}

func (a Aggregate) LowSample() bool {
	return a.ActiveDays < a.WindowSize
}

// SpendSummary is the archive-or-hide input for assignment removal.
type SpendSummary struct {
	HasSpend  bool
	TotalCost float64
}

// IsAccessExpired reports whether every window closed strictly before
// today. Any open-ended window keeps access alive regardless of the
// others. An empty window set reports false: with nothing granted there
// is nothing to expire.
func IsAccessExpired(windows map[string]access.Window, today time.Time) bool {
	if len(windows) == 0 {
		return false
	}
	day := truncateDay(today)
	for _, w := range windows {
		if w.Until == nil {
			return false
		}
		if !truncateDay(*w.Until).Before(day) {
			return false
		}
	}
	return true
}

// HasActivityInWindow reports whether any metric with cost or leads
// falls inside its own channel's window.
func HasActivityInWindow(series []spenddomain.DailyMetric, windows map[string]access.Window) bool {
	for _, m := range series {
		if m.Cost <= 0 && m.Leads <= 0 {
			continue
		}
		w, ok := windows[m.ChannelID]
		if !ok {
			continue
		}
		if w.Contains(m.Date) {
			return true
		}
	}
	return false
}

// LastActiveDate returns the most recent in-window date with cost,
// or nil when the buyer never spent inside any window.
func LastActiveDate(series []spenddomain.DailyMetric, windows map[string]access.Window) *time.Time {
	var last *time.Time
	for _, m := range series {
		if m.Cost <= 0 {
			continue
		}
		w, ok := windows[m.ChannelID]
		if !ok || !w.Contains(m.Date) {
			continue
		}
		day := truncateDay(m.Date)
		if last == nil || day.After(*last) {
			last = &day
		}
	}
	return last
}

// ConsecutiveActiveDays counts the unbroken run of active days ending
// today. A day is active when it sits inside at least one window and
// the summed in-window cost for that day is positive. The scan stops at
// the first day failing either test; today failing yields 0.
func ConsecutiveActiveDays(series []spenddomain.DailyMetric, windows map[string]access.Window, today time.Time) int {
	costs := dailyInWindowCost(series, windows)

	count := 0
	for day := truncateDay(today); ; day = day.AddDate(0, 0, -1) {
		if !inAnyWindow(windows, day) {
			break
		}
		if costs[day] <= 0 {
			break
		}
		count++
	}
	return count
}

// AggregateByActiveDays walks backward from today collecting up to
// windowSize active days, not necessarily contiguous, and sums their
// cost and leads. The scan ends once windowSize days are found or the
// series is exhausted.
func AggregateByActiveDays(series []spenddomain.DailyMetric, windows map[string]access.Window, today time.Time, windowSize int) Aggregate {
	if windowSize <= 0 {
		windowSize = DefaultAggregateWindow
	}
	agg := Aggregate{WindowSize: windowSize}

	costs := dailyInWindowCost(series, windows)
	leads := dailyInWindowLeads(series, windows)
	earliest, ok := earliestDay(costs)
	if !ok {
		return agg
	}

	for day := truncateDay(today); !day.Before(earliest) && agg.ActiveDays < windowSize; day = day.AddDate(0, 0, -1) {
		if costs[day] <= 0 {
			continue
		}
		agg.ActiveDays++
		agg.Cost += costs[day]
		agg.Leads += leads[day]
	}

	if agg.Leads > 0 {
		agg.CPL = agg.Cost / float64(agg.Leads)
	}
	return agg
}

// CheckSpend totals cost over in-window days only. It decides whether a
// removed assignment is archived (spend happened, history must stay
// visible) or hidden (no financial footprint).
func CheckSpend(series []spenddomain.DailyMetric, windows map[string]access.Window) SpendSummary {
	var total float64
	for _, m := range series {
		if m.Cost <= 0 {
			continue
		}
		w, ok := windows[m.ChannelID]
		if !ok || !w.Contains(m.Date) {
			continue
		}
		total += m.Cost
	}
	return SpendSummary{HasSpend: total > 0, TotalCost: total}
}

func dailyInWindowCost(series []spenddomain.DailyMetric, windows map[string]access.Window) map[time.Time]float64 {
	costs := make(map[time.Time]float64)
	for _, m := range series {
		w, ok := windows[m.ChannelID]
		if !ok || !w.Contains(m.Date) {
			continue
		}
		costs[truncateDay(m.Date)] += m.Cost
	}
	return costs
}

func dailyInWindowLeads(series []spenddomain.DailyMetric, windows map[string]access.Window) map[time.Time]int64 {
	leads := make(map[time.Time]int64)
	for _, m := range series {
		w, ok := windows[m.ChannelID]
		if !ok || !w.Contains(m.Date) {
			continue
		}
		leads[truncateDay(m.Date)] += m.Leads
	}
	return leads
}

func inAnyWindow(windows map[string]access.Window, day time.Time) bool {
	for _, w := range windows {
		if w.Contains(day) {
			return true
		}
	}
	return false
}

func earliestDay(costs map[time.Time]float64) (time.Time, bool) {
	var earliest time.Time
	found := false
	for day := range costs {
		if !found || day.Before(earliest) {
			earliest = day
			found = true
		}
	}
	return earliest, found
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
