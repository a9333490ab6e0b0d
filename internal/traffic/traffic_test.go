package traffic

import (
	"testing"
	"time"
)

// TestTracker_Counts verifies the three outcome streams roll up into the
// window counters.
func TestTracker_Counts(t *testing.T) {
	var tr Tracker
	tr.RecordSuccess()
	tr.RecordSuccess()
	tr.RecordError()
	tr.RecordDenied()

	if got := tr.RequestCount(time.Minute); got != 4 {
		t.Errorf("RequestCount() = %d, want 4", got)
	}
	if got := tr.DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount() = %d, want 1", got)
	}
}

// TestTracker_ErrorRateExcludesDenials verifies denials do not count toward
// the error-rate denominator.
func TestTracker_ErrorRateExcludesDenials(t *testing.T) {
	var tr Tracker
	tr.RecordSuccess()
	tr.RecordError()
	tr.RecordDenied()
	tr.RecordDenied()

	errs, total := tr.ErrorRate(time.Minute)
	if errs != 1 || total != 2 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 2)", errs, total)
	}
}

// TestTracker_WindowExcludesOld verifies a zero-length window counts nothing
// recorded earlier.
func TestTracker_WindowExcludesOld(t *testing.T) {
	var tr Tracker
	tr.RecordSuccess()
	time.Sleep(5 * time.Millisecond)

	if got := tr.RequestCount(time.Millisecond); got != 0 {
		t.Errorf("RequestCount(1ms) = %d, want 0", got)
	}
	if got := tr.RequestCount(time.Minute); got != 1 {
		t.Errorf("RequestCount(1m) = %d, want 1", got)
	}
}

// TestTracker_Reset clears all streams.
func TestTracker_Reset(t *testing.T) {
	var tr Tracker
	tr.RecordSuccess()
	tr.RecordError()
	tr.RecordDenied()
	tr.Reset()

	if got := tr.RequestCount(time.Minute); got != 0 {
		t.Errorf("RequestCount() after Reset = %d, want 0", got)
	}
}

// TestPackageLevelTracker exercises the shared default tracker used by the
// health handler and window gauges.
func TestPackageLevelTracker(t *testing.T) {
	Reset()
	defer Reset()

	RecordSuccess()
	RecordError()
	RecordDenied()

	if got := RequestCount(time.Minute); got != 3 {
		t.Errorf("RequestCount() = %d, want 3", got)
	}
	if got := DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount() = %d, want 1", got)
	}
	errs, total := ErrorRate(time.Minute)
	if errs != 1 || total != 2 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 2)", errs, total)
	}
}
