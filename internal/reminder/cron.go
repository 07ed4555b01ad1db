package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type fieldMatcher func(int) bool

// cronMatcher tests whether a UTC instant matches a 5-field cron
// expression (minute hour day-of-month month day-of-week).
type cronMatcher func(time.Time) bool

var fieldRanges = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week (0 = Sunday)
}

// parseCron compiles a 5-field cron expression into a matcher. Supported
// syntax per field: "*", "N", "N-M", "*/N", and comma-separated lists of
// the prior forms.
func parseCron(expr string) (cronMatcher, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}

	matchers := make([]fieldMatcher, 5)
	for i, field := range fields {
		m, err := parseField(field, fieldRanges[i][0], fieldRanges[i][1])
		if err != nil {
			return nil, fmt.Errorf("cron: field %d (%q): %w", i, field, err)
		}
		matchers[i] = m
	}

	return func(t time.Time) bool {
		t = t.UTC()
		dow := int(t.Weekday())
		return matchers[0](t.Minute()) &&
			matchers[1](t.Hour()) &&
			matchers[2](t.Day()) &&
			matchers[3](int(t.Month())) &&
			matchers[4](dow)
	}, nil
}

func parseField(field string, lo, hi int) (fieldMatcher, error) {
	parts := strings.Split(field, ",")
	var subMatchers []fieldMatcher
	for _, part := range parts {
		m, err := parsePart(part, lo, hi)
		if err != nil {
			return nil, err
		}
		subMatchers = append(subMatchers, m)
	}
	return func(v int) bool {
		for _, m := range subMatchers {
			if m(v) {
				return true
			}
		}
		return false
	}, nil
}

func parsePart(part string, lo, hi int) (fieldMatcher, error) {
	switch {
	case part == "*":
		return func(int) bool { return true }, nil

	case strings.HasPrefix(part, "*/"):
		step, err := strconv.Atoi(part[2:])
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step %q", part)
		}
		return func(v int) bool { return (v-lo)%step == 0 }, nil

	case strings.Contains(part, "-"):
		bounds := strings.SplitN(part, "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid range %q", part)
		}
		start, err1 := strconv.Atoi(bounds[0])
		end, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil || start > end {
			return nil, fmt.Errorf("invalid range %q", part)
		}
		return func(v int) bool { return v >= start && v <= end }, nil

	default:
		n, err := strconv.Atoi(part)
		if err != nil || n < lo || n > hi {
			return nil, fmt.Errorf("invalid value %q", part)
		}
		return func(v int) bool { return v == n }, nil
	}
}
