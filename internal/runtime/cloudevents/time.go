package cloudevents

import (
	"time"
)

// Time format constants for CloudEvents.
const (
	// TimeFormat is the standard CloudEvents time format (RFC3339).
	TimeFormat = time.RFC3339

	// TimeFormatNano is the RFC3339 format with nanosecond precision.
	TimeFormatNano = time.RFC3339Nano
)

var fallbackTimeFormats = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses the "time" attribute. RFC3339 with or without fractional
// seconds is expected; a couple of zone-less layouts emitted by older
// producers are accepted as UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormatNano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	for _, format := range fallbackTimeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &time.ParseError{
		Layout:  TimeFormat,
		Value:   s,
		Message: ": cannot parse as CloudEvents time",
	}
}

// FormatTime formats a time value for CloudEvents.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormatNano)
}
