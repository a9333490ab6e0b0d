package series

import (
	"sort"
	"strconv"

	"github.com/wxplume/srefproxy/internal/models"
)

// Process transforms a raw label->series map into canonical per-label point
// lists and appends the synthetic Mean series. Labels with empty series are
// dropped; malformed or non-numeric values coerce to 0.0 rather than failing
// the whole transform. When at least one member series is present, Mean holds
// the arithmetic average of all member values at each exact timestamp seen in
// any member; members missing a timestamp are excluded from that point's
// average, not treated as zero.
func Process(raw models.RawSeries) models.ProcessedResult {
	result := make(models.ProcessedResult, len(raw)+1)
	for label, rawPoints := range raw {
		if len(rawPoints) == 0 {
			continue
		}
		points := make([]models.Point, 0, len(rawPoints))
		for _, p := range rawPoints {
			if len(p) < 2 {
				continue
			}
			points = append(points, models.Point{X: toTimestamp(p[0]), Y: toFloat(p[1])})
		}
		if len(points) == 0 {
			continue
		}
		sort.SliceStable(points, func(i, j int) bool { return points[i].X < points[j].X })
		result[label] = points
	}

	if len(result) > 0 {
		result[models.MeanLabel] = computeMean(result)
	}
	return result
}

// computeMean averages member values at each distinct timestamp, ascending.
// Point lookup is by exact timestamp match; there is no interpolation.
func computeMean(members models.ProcessedResult) []models.Point {
	byLabel := make(map[string]map[int64]float64, len(members))
	stamps := make(map[int64]struct{})
	for label, points := range members {
		lookup := make(map[int64]float64, len(points))
		for _, p := range points {
			lookup[p.X] = p.Y
			stamps[p.X] = struct{}{}
		}
		byLabel[label] = lookup
	}

	sorted := make([]int64, 0, len(stamps))
	for ts := range stamps {
		sorted = append(sorted, ts)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mean := make([]models.Point, 0, len(sorted))
	for _, ts := range sorted {
		var sum float64
		var n int
		for _, lookup := range byLabel {
			if v, ok := lookup[ts]; ok {
				sum += v
				n++
			}
		}
		if n > 0 {
			mean = append(mean, models.Point{X: ts, Y: sum / float64(n)})
		}
	}
	return mean
}

// toFloat coerces a decoded JSON value to float64, defaulting to 0.0.
func toFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0.0
		}
		return f
	default:
		return 0.0
	}
}

// toTimestamp coerces a decoded JSON value to an epoch-millisecond timestamp.
func toTimestamp(v interface{}) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
