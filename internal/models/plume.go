package models

import "strings"

// MeanLabel is the synthetic aggregate series computed across all ensemble members.
const MeanLabel = "Mean"

// Point is a single (timestamp, value) sample in a plume series.
// X is unix epoch milliseconds; Y is the parameter value.
type Point struct {
	X int64   `json:"x"`
	Y float64 `json:"y"`
}

// RawSeries is the decoded upstream payload: ensemble member label to a list
// of [timestamp, value] pairs. Element types are left loose because the
// upstream occasionally emits numbers as strings or nulls.
type RawSeries map[string][][]interface{}

// ProcessedResult maps a series label (ensemble member id, plus MeanLabel)
// to its points in ascending timestamp order.
type ProcessedResult map[string][]Point

// MemberCount returns the number of real member series, excluding MeanLabel.
// Used as the completeness measure when deciding whether a result is cacheable.
func (r ProcessedResult) MemberCount() int {
	n := len(r)
	if _, ok := r[MeanLabel]; ok {
		n--
	}
	return n
}

// CacheStatus tells the caller how a response was produced. Exposed to the
// dashboard via the X-Cache response header.
type CacheStatus string

const (
	CacheStatusHit        CacheStatus = "hit"
	CacheStatusMiss       CacheStatus = "miss"
	CacheStatusIncomplete CacheStatus = "incomplete"
)

// PlumeRequest identifies one fetchable upstream resource.
type PlumeRequest struct {
	Station   string // upper-cased 3-4 letter site code
	Run       string // one of the four daily run hours, e.g. "09"
	Parameter string
	Date      string // YYYY-MM-DD
}

// CompactDate returns the date with separators stripped (YYYYMMDD), the form
// the upstream endpoint expects.
func (r PlumeRequest) CompactDate() string {
	return strings.ReplaceAll(r.Date, "-", "")
}

// CacheKey returns the normalized fingerprint for this request. Two requests
// with the same four logical fields always map to the same key.
func (r PlumeRequest) CacheKey() string {
	return r.CompactDate() + ":" + r.Run + ":" + strings.ToUpper(r.Station) + ":" + r.Parameter
}
