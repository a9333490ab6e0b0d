package validation

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

// ErrStationInvalid is returned when the station is not a 3-4 letter code.
var ErrStationInvalid = errors.New("station must be a 3-4 letter code")

// ErrRunInvalid is returned when the run is not one of the scheduled run hours.
var ErrRunInvalid = errors.New("run must be one of 03, 09, 15, 21")

// ErrParameterInvalid is returned when the parameter is not in the allowed set.
var ErrParameterInvalid = errors.New("unknown parameter")

// ErrDateInvalid is returned when the date is not a valid YYYY-MM-DD string.
var ErrDateInvalid = errors.New("date must be YYYY-MM-DD")

// Runs is the fixed daily upstream run schedule, in dispatch form.
var Runs = []string{"03", "09", "15", "21"}

// ValidateStation trims the input and checks it is a 3-4 letter ASCII code.
// Stations are validated by pattern, not against a known-site allowlist;
// unknown-but-well-formed codes are passed through and upstream 404s surface
// as fetch errors. Returns the upper-cased station.
func ValidateStation(input string) (string, error) {
	s := strings.TrimSpace(input)
	if len(s) < 3 || len(s) > 4 {
		return "", ErrStationInvalid
	}
	for _, c := range s {
		if c > unicode.MaxASCII || !unicode.IsLetter(c) {
			return "", ErrStationInvalid
		}
	}
	return strings.ToUpper(s), nil
}

// ValidateRun checks the run against the fixed daily schedule.
func ValidateRun(input string) (string, error) {
	s := strings.TrimSpace(input)
	for _, r := range Runs {
		if s == r {
			return s, nil
		}
	}
	return "", ErrRunInvalid
}

// ValidateParameter checks the parameter against the configured allowed set.
func ValidateParameter(input string, allowed []string) (string, error) {
	s := strings.TrimSpace(input)
	for _, p := range allowed {
		if s == p {
			return s, nil
		}
	}
	return "", ErrParameterInvalid
}

// ValidateDate parses a YYYY-MM-DD date, defaulting to the current UTC date
// when the input is empty. Returns the normalized date string.
func ValidateDate(input string, now time.Time) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return now.UTC().Format("2006-01-02"), nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", ErrDateInvalid
	}
	return d.Format("2006-01-02"), nil
}
