package series

import (
	"testing"

	"github.com/wxplume/srefproxy/internal/models"
)

// TestProcess_MeanAveragesAtExactTimestamps verifies that Mean averages only
// the members that have a point at each exact timestamp: members missing a
// timestamp are excluded from that point's average, not treated as zero.
func TestProcess_MeanAveragesAtExactTimestamps(t *testing.T) {
	raw := models.RawSeries{
		"A": {{float64(0), float64(10)}, {float64(3), float64(20)}},
		"B": {{float64(0), float64(30)}},
	}

	result := Process(raw)

	mean, ok := result[models.MeanLabel]
	if !ok {
		t.Fatal("Process() result has no Mean series")
	}
	if len(mean) != 2 {
		t.Fatalf("Mean has %d points, want 2", len(mean))
	}
	if mean[0].X != 0 || mean[0].Y != 20.0 {
		t.Errorf("Mean[0] = {%d, %v}, want {0, 20.0}", mean[0].X, mean[0].Y)
	}
	if mean[1].X != 3 || mean[1].Y != 20.0 {
		t.Errorf("Mean[1] = {%d, %v}, want {3, 20.0}", mean[1].X, mean[1].Y)
	}
}

// TestProcess_EmptyInput verifies that an empty raw map produces no series
// and in particular no Mean.
func TestProcess_EmptyInput(t *testing.T) {
	result := Process(models.RawSeries{})
	if len(result) != 0 {
		t.Errorf("Process(empty) produced %d series, want 0", len(result))
	}
}

// TestProcess_EmptySeriesDropped verifies that labels with empty series are
// dropped and do not suppress Mean for the remaining members.
func TestProcess_EmptySeriesDropped(t *testing.T) {
	raw := models.RawSeries{
		"A": {{float64(0), float64(4)}},
		"B": {},
	}

	result := Process(raw)

	if _, ok := result["B"]; ok {
		t.Error("empty series B should be dropped")
	}
	if result.MemberCount() != 1 {
		t.Errorf("MemberCount() = %d, want 1", result.MemberCount())
	}
	mean := result[models.MeanLabel]
	if len(mean) != 1 || mean[0].Y != 4.0 {
		t.Errorf("Mean = %+v, want single point with y=4.0", mean)
	}
}

// TestProcess_NonNumericCoercesToZero verifies that malformed values coerce
// to 0.0 instead of failing the whole transform.
func TestProcess_NonNumericCoercesToZero(t *testing.T) {
	raw := models.RawSeries{
		"A": {
			{float64(0), "not-a-number"},
			{float64(1), nil},
			{float64(2), "2.5"},
		},
	}

	result := Process(raw)

	pts := result["A"]
	if len(pts) != 3 {
		t.Fatalf("A has %d points, want 3", len(pts))
	}
	if pts[0].Y != 0.0 {
		t.Errorf("non-numeric string coerced to %v, want 0.0", pts[0].Y)
	}
	if pts[1].Y != 0.0 {
		t.Errorf("null coerced to %v, want 0.0", pts[1].Y)
	}
	if pts[2].Y != 2.5 {
		t.Errorf("numeric string coerced to %v, want 2.5", pts[2].Y)
	}
}

// TestProcess_PointsSortedAscending verifies that each series is ordered by
// ascending timestamp regardless of upstream order.
func TestProcess_PointsSortedAscending(t *testing.T) {
	raw := models.RawSeries{
		"A": {
			{float64(300), float64(3)},
			{float64(100), float64(1)},
			{float64(200), float64(2)},
		},
	}

	result := Process(raw)

	pts := result["A"]
	for i := 1; i < len(pts); i++ {
		if pts[i-1].X > pts[i].X {
			t.Fatalf("points not sorted: %v", pts)
		}
	}
}

// TestProcess_ShortPairsSkipped verifies that pairs with fewer than two
// elements are skipped rather than producing bogus points.
func TestProcess_ShortPairsSkipped(t *testing.T) {
	raw := models.RawSeries{
		"A": {
			{float64(0)},
			{float64(1), float64(5)},
		},
	}

	result := Process(raw)

	if len(result["A"]) != 1 {
		t.Errorf("A has %d points, want 1", len(result["A"]))
	}
}

// TestMemberCount_ExcludesMean verifies that the completeness measure never
// counts the synthetic Mean series.
func TestMemberCount_ExcludesMean(t *testing.T) {
	raw := models.RawSeries{
		"A": {{float64(0), float64(1)}},
		"B": {{float64(0), float64(2)}},
	}

	result := Process(raw)

	if len(result) != 3 {
		t.Fatalf("result has %d series, want 3 (A, B, Mean)", len(result))
	}
	if result.MemberCount() != 2 {
		t.Errorf("MemberCount() = %d, want 2", result.MemberCount())
	}
}
