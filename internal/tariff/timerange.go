package tariff

import (
	"fmt"

	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/tools/timeparser"
)

// TimeRange is a parsed [Start, End) window. End <= Start wraps past midnight,
// so Start == End covers the whole day.
type TimeRange struct {
	ID    string
	Start timeparser.ClockTime
	End   timeparser.ClockTime
}

// Wraps reports whether the window crosses midnight
func (r TimeRange) Wraps() bool {
	return r.End <= r.Start
}

// Contains reports whether the time of day c falls inside the window
func (r TimeRange) Contains(c timeparser.ClockTime) bool {
	if r.Wraps() {
		return c >= r.Start || c < r.End
	}
	return c >= r.Start && c < r.End
}

// ParseTimeRange parses the HH:MM bounds of a zone
func ParseTimeRange(z domain.TimeZone) (TimeRange, error) {
	start, err := timeparser.ParseClock(z.Start)
	if err != nil {
		return TimeRange{}, apperror.NewValidation("zones."+z.ID+".start", "%v", err)
	}
	end, err := timeparser.ParseClock(z.End)
	if err != nil {
		return TimeRange{}, apperror.NewValidation("zones."+z.ID+".end", "%v", err)
	}
	if start == timeparser.MinutesPerDay {
		start = 0
	}
	if end == timeparser.MinutesPerDay {
		end = 0
	}
	return TimeRange{ID: z.ID, Start: start, End: end}, nil
}

// TimeRangeValidator checks that a zone set covers the full day exactly once
type TimeRangeValidator struct{}

func NewTimeRangeValidator() *TimeRangeValidator {
	return &TimeRangeValidator{}
}

// Validate rejects empty or duplicate zone ids, overlapping windows and uncovered minutes
func (v *TimeRangeValidator) Validate(zones []domain.TimeZone) error {
	if len(zones) == 0 {
		return apperror.NewValidation("zones", "at least one zone is required")
	}

	var owner [timeparser.MinutesPerDay]string
	seen := make(map[string]bool, len(zones))

	for _, z := range zones {
		if z.ID == "" {
			return apperror.NewValidation("zones", "zone id must not be empty")
		}
		if seen[z.ID] {
			return apperror.NewValidation("zones", "duplicate zone id %q", z.ID)
		}
		seen[z.ID] = true

		r, err := ParseTimeRange(z)
		if err != nil {
			return err
		}

		for _, m := range r.minutes() {
			if prev := owner[m]; prev != "" {
				return apperror.NewValidation("zones", "zone %q overlaps zone %q at %s", z.ID, prev, timeparser.ClockTime(m))
			}
			owner[m] = z.ID
		}
	}

	for m := 0; m < timeparser.MinutesPerDay; m++ {
		if owner[m] != "" {
			continue
		}
		end := m
		for end < timeparser.MinutesPerDay && owner[end] == "" {
			end++
		}
		return apperror.NewValidation("zones", "gap in coverage from %s to %s",
			timeparser.ClockTime(m), timeparser.ClockTime(end))
	}

	return nil
}

func (r TimeRange) minutes() []int {
	var out []int
	if !r.Wraps() {
		for m := int(r.Start); m < int(r.End); m++ {
			out = append(out, m)
		}
		return out
	}
	for m := int(r.Start); m < timeparser.MinutesPerDay; m++ {
		out = append(out, m)
	}
	for m := 0; m < int(r.End); m++ {
		out = append(out, m)
	}
	return out
}

// MatchZone returns the zone whose window contains c
func MatchZone(zones []domain.TimeZone, c timeparser.ClockTime) (domain.TimeZone, bool, error) {
	for _, z := range zones {
		r, err := ParseTimeRange(z)
		if err != nil {
			return domain.TimeZone{}, false, fmt.Errorf("failed to parse zone %q: %w", z.ID, err)
		}
		if r.Contains(c) {
			return z, true, nil
		}
	}
	return domain.TimeZone{}, false, nil
}
