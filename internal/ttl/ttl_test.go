package ttl

import (
	"testing"
	"time"
)

// TestSchedulePolicy_WithinBounds verifies that for every run and a sweep of
// times of day, the computed TTL is within [Min, Max] and deterministic for
// the same now.
func TestSchedulePolicy_WithinBounds(t *testing.T) {
	p := NewSchedulePolicy()
	runs := []string{"03", "09", "15", "21"}
	for _, run := range runs {
		for hour := 0; hour < 24; hour++ {
			for _, minute := range []int{0, 29, 59} {
				now := time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
				got := p.TTL(run, now)
				if got < p.Min || got > p.Max {
					t.Errorf("TTL(%s, %v) = %v, want within [%v, %v]", run, now, got, p.Min, p.Max)
				}
				if again := p.TTL(run, now); again != got {
					t.Errorf("TTL(%s, %v) not deterministic: %v then %v", run, now, got, again)
				}
			}
		}
	}
}

// TestSchedulePolicy_NextRunMath verifies the time-until-next-run-plus-margin
// computation for a now between two scheduled runs.
func TestSchedulePolicy_NextRunMath(t *testing.T) {
	p := NewSchedulePolicy()

	// 10:00 UTC: next run is 15:00, data ready around 17:00, so 7h remain.
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	if got := p.TTL("09", now); got != 7*time.Hour {
		t.Errorf("TTL at 10:00 = %v, want 7h", got)
	}

	// 14:30 UTC: next run 15:00 + 2h margin = 2h30m remain.
	now = time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	if got := p.TTL("09", now); got != 2*time.Hour+30*time.Minute {
		t.Errorf("TTL at 14:30 = %v, want 2h30m", got)
	}
}

// TestSchedulePolicy_WrapsPastMidnight verifies that after the last run of
// the day the policy targets the first run of the next day.
func TestSchedulePolicy_WrapsPastMidnight(t *testing.T) {
	p := NewSchedulePolicy()

	// 22:00 UTC: next run is 03:00 tomorrow, ready around 05:00 = 7h remain.
	now := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	if got := p.TTL("21", now); got != 7*time.Hour {
		t.Errorf("TTL at 22:00 = %v, want 7h", got)
	}
}

// TestSchedulePolicy_ClampsToMin verifies the floor clamp when the next
// run's data is due very soon.
func TestSchedulePolicy_ClampsToMin(t *testing.T) {
	// A policy with no margin forces a sub-minimum raw TTL just before a run.
	tight := &SchedulePolicy{
		RunHours: []int{3, 9, 15, 21},
		Margin:   0,
		Min:      time.Hour,
		Max:      8 * time.Hour,
	}
	now := time.Date(2026, 3, 10, 14, 50, 0, 0, time.UTC)
	if got := tight.TTL("09", now); got != time.Hour {
		t.Errorf("TTL ten minutes before a run = %v, want clamped to 1h", got)
	}
}

// TestFixedPolicy verifies the flat-duration strategy ignores run and now.
func TestFixedPolicy(t *testing.T) {
	p := &FixedPolicy{Duration: 14 * 24 * time.Hour}
	for _, run := range []string{"03", "09", "15", "21"} {
		if got := p.TTL(run, time.Now()); got != 14*24*time.Hour {
			t.Errorf("TTL(%s) = %v, want 336h", run, got)
		}
	}
}
