package ttl

import (
	"sort"
	"time"
)

// Policy computes how long a freshly fetched result should remain cached.
// Exactly one policy is configured per deployment; strategies are never
// mixed per request.
type Policy interface {
	TTL(run string, now time.Time) time.Duration
}

// SchedulePolicy derives the TTL from the fixed daily schedule of upstream
// runs: the entry stays valid until the next scheduled run's data is
// expected to be ready (next run time plus a processing-delay margin),
// clamped to [Min, Max] to avoid pathological lifetimes from clock edges.
type SchedulePolicy struct {
	RunHours []int         // UTC hours of the daily runs, ascending
	Margin   time.Duration // processing delay after a run before data is ready
	Min      time.Duration
	Max      time.Duration
}

// NewSchedulePolicy returns a SchedulePolicy with the reference schedule:
// runs at 03/09/15/21 UTC, 2h processing margin, TTL clamped to [1h, 8h].
func NewSchedulePolicy() *SchedulePolicy {
	return &SchedulePolicy{
		RunHours: []int{3, 9, 15, 21},
		Margin:   2 * time.Hour,
		Min:      1 * time.Hour,
		Max:      8 * time.Hour,
	}
}

// TTL returns the time remaining until the next scheduled run's data should
// be available, wrapping past midnight, clamped to [Min, Max].
func (p *SchedulePolicy) TTL(run string, now time.Time) time.Duration {
	now = now.UTC()
	hours := append([]int(nil), p.RunHours...)
	sort.Ints(hours)

	var next time.Time
	for _, h := range hours {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, time.UTC)
		if candidate.After(now) {
			next = candidate
			break
		}
	}
	if next.IsZero() {
		tomorrow := now.AddDate(0, 0, 1)
		next = time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hours[0], 0, 0, 0, time.UTC)
	}

	ttl := next.Add(p.Margin).Sub(now)
	if ttl < p.Min {
		return p.Min
	}
	if ttl > p.Max {
		return p.Max
	}
	return ttl
}

// FixedPolicy returns a flat duration regardless of run or time of day.
// Used when a deployment prioritizes upstream load reduction over freshness.
type FixedPolicy struct {
	Duration time.Duration
}

// TTL returns the configured fixed duration.
func (p *FixedPolicy) TTL(run string, now time.Time) time.Duration {
	return p.Duration
}
