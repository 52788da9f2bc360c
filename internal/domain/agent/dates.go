package agent

import (
	"fmt"
	"strings"
	"time"
)

var datedLayouts = []string{
	"2006-01-02",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2 2006",
	"January 2 2006",
	"2/1/2006",
	"1/2/2006",
	"2-1-2006",
}

var yearlessLayouts = []string{
	"2 Jan",
	"2 January",
	"Jan 2",
	"January 2",
	"2/1",
	"1/2",
}

var startLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func dateParseError(raw string, now time.Time) *ToolError {
	y := now.Year()
	return toolErr(CodeDateParse,
		"Could not understand the date '%s'. Please provide the date in a format like '%d-11-30', '30 Nov %d', or '30 Nov' (I'll assume current year).",
		raw, y, y)
}

// ParseDate resolves a calendar date in loc. A date without a year resolves
// to its nearest occurrence that is not before today.
func ParseDate(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.Join(strings.Fields(strings.ReplaceAll(raw, ",", " ")), " ")
	if s == "" {
		return time.Time{}, dateParseError(raw, now)
	}
	// Full timestamps are accepted for their date part.
	if len(s) > 10 && (s[10] == 'T' || s[10] == ' ') {
		if d, err := time.ParseInLocation("2006-01-02", s[:10], loc); err == nil {
			return d, nil
		}
	}
	for _, layout := range datedLayouts {
		if d, err := time.ParseInLocation(layout, s, loc); err == nil {
			return d, nil
		}
	}

	today := startOfDay(now.In(loc))
	for _, layout := range yearlessLayouts {
		d, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		// Feb 29 may need up to eight years to recur.
		for y := today.Year(); y <= today.Year()+8; y++ {
			c := time.Date(y, d.Month(), d.Day(), 0, 0, 0, 0, loc)
			if c.Month() == d.Month() && !c.Before(today) {
				return c, nil
			}
		}
	}
	return time.Time{}, dateParseError(raw, now)
}

// ParseStart reads an ISO 8601 start time. Values without an offset are in loc.
func ParseStart(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, toolErr(CodeDateParse,
		"Could not understand the start time '%s'. Use ISO 8601 such as '2025-11-30T10:00:00' taken from the datetime of an available slot.", raw)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func formatDay(t time.Time) string { return t.Format("2006-01-02") }

func describeDay(t time.Time) string { return fmt.Sprintf("%s, %s", t.Weekday(), t.Format("2 Jan 2006")) }
