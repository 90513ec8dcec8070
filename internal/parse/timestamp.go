package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for timestamps without a zone. They are read in the
// booking time zone; datetime-local form inputs produce the first one.
var localLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

var zoneSuffixRe = regexp.MustCompile(`(?i)(Z|[+-]\d{2}:\d{2})$`)

// Timestamp parses a user supplied timestamp. Values carrying a zone are
// parsed as RFC 3339; values without one are taken in loc. The result is
// in UTC.
func Timestamp(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}

	if zoneSuffixRe.MatchString(s) {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("unable to parse timestamp %q: %w", raw, err)
		}
		return t.UTC(), nil
	}

	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", raw)
}

// OptionalTimestamp is Timestamp for optional fields: an empty value
// yields nil.
func OptionalTimestamp(raw string, loc *time.Location) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := Timestamp(raw, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ID parses a positive numeric identifier, as found in URL paths.
func ID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
