package models

import "testing"

// TestPlumeRequest_CacheKey verifies key normalization: compact date and
// upper-cased station, so equivalent requests collide.
func TestPlumeRequest_CacheKey(t *testing.T) {
	a := PlumeRequest{Station: "okx", Run: "09", Parameter: "temp", Date: "2026-03-10"}
	b := PlumeRequest{Station: "OKX", Run: "09", Parameter: "temp", Date: "2026-03-10"}

	if a.CacheKey() != b.CacheKey() {
		t.Errorf("CacheKey() differs for equivalent requests: %q vs %q", a.CacheKey(), b.CacheKey())
	}
	if got, want := a.CacheKey(), "20260310:09:OKX:temp"; got != want {
		t.Errorf("CacheKey() = %q, want %q", got, want)
	}
}

// TestPlumeRequest_CompactDate strips the date separators.
func TestPlumeRequest_CompactDate(t *testing.T) {
	r := PlumeRequest{Date: "2026-03-10"}
	if got := r.CompactDate(); got != "20260310" {
		t.Errorf("CompactDate() = %q, want 20260310", got)
	}
}

// TestProcessedResult_MemberCount excludes the synthetic mean series.
func TestProcessedResult_MemberCount(t *testing.T) {
	r := ProcessedResult{
		"A":       {{X: 0, Y: 1}},
		"B":       {{X: 0, Y: 2}},
		MeanLabel: {{X: 0, Y: 1.5}},
	}
	if got := r.MemberCount(); got != 2 {
		t.Errorf("MemberCount() = %d, want 2", got)
	}
	if got := (ProcessedResult{}).MemberCount(); got != 0 {
		t.Errorf("MemberCount() on empty = %d, want 0", got)
	}
}
