package scraper

import (
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout     = "2.1.2006"
	dateTimeLayout = "2.1.2006 15:04"
	// anything above is a millisecond timestamp
	millisThreshold = 1_000_000_000_000
)

// NormalizeDate turns "12/05/2024", "12.05." or "12.05" into day-first
// "DD.MM.YYYY", defaulting a missing year to year.
func NormalizeDate(raw string, year int) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "/", ".")
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return ""
	}
	parts := strings.Split(s, ".")
	if len(parts) == 2 {
		parts = append(parts, strconv.Itoa(year))
	}
	return strings.Join(parts, ".")
}

// NormalizeTime strips the locale unit from "20:00 Uhr"
func NormalizeTime(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "Uhr")
	return strings.TrimSpace(s)
}

// DateUnix parses a day-first date and an optional "HH:mm" time in loc.
// Date-only input yields midnight, unparseable input yields 0.
func DateUnix(date, clock string, loc *time.Location) int64 {
	if date == "" {
		return 0
	}
	if loc == nil {
		loc = time.Local
	}
	if clock != "" {
		if t, err := time.ParseInLocation(dateTimeLayout, date+" "+clock, loc); err == nil {
			return t.Unix()
		}
	}
	t, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// EpochSeconds converts a timestamp that may be in milliseconds to seconds
func EpochSeconds(ts int64) int64 {
	if ts > millisThreshold {
		return ts / 1000
	}
	return ts
}

// ParseTimestamp parses a numeric timestamp string into epoch seconds, 0 if invalid
func ParseTimestamp(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return 0
		}
		v = int64(f)
	}
	if v < 0 {
		return 0
	}
	return EpochSeconds(v)
}
