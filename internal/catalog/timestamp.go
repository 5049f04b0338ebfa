package catalog

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for createdAt values, tried in order. Zone-less forms are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e11 seconds is in the year 5138.
const epochMillisThreshold = 1e11

// ParseTimestamp parses a createdAt value. It accepts RFC 3339 and close
// variants, plain dates, and numeric epoch seconds or milliseconds.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return time.Time{}, false
		}
		if n < epochMillisThreshold {
			sec, frac := math.Modf(n)
			return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), true
		}
		return time.UnixMilli(int64(n)).UTC(), true
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
