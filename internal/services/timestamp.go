package services

import (
	"fmt"
	"time"
)

// Layouts accepted for submission timestamps, most specific first. ODK
// clients send "2012-01-05T15:16:37.000-05".
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-07",
	"2006-01-02T15:04:05-07",
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimestamp reads s in loc unless it carries its own offset.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
