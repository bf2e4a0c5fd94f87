package loader

import (
	"strings"
	"time"
)

// Layouts carrying an explicit offset or a trailing Z.
var zonedLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006/01/02 15:04:05Z07:00",
	"01/02/2006 15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
}

// Layouts interpreted in the default input zone.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"Mon Jan _2 15:04:05 2006",
	"02 Jan 2006 15:04:05",
	"Mon, 02 Jan 2006 15:04:05",
	"January 02, 2006 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
}

// ParseDate converts a date string to epoch milliseconds. A bare
// YYYY-MM-DD date is UTC midnight; other strings without an offset are
// read in loc.
func ParseDate(s string, loc *time.Location) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return epochMillis(t), true
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return epochMillis(t), true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return epochMillis(t), true
		}
	}
	return 0, false
}

// ParseDateFormat parses s with a d3 time format pattern such as
// "%Y-%m-%d" in loc.
func ParseDateFormat(s, pattern string, loc *time.Location) (float64, bool) {
	layout, ok := strftimeLayout(pattern)
	if !ok {
		return 0, false
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(layout, strings.TrimSpace(s), loc)
	if err != nil {
		return 0, false
	}
	return epochMillis(t), true
}

var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'e': "_2",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'L': "000",
	'p': "PM",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'j': "002",
	'Z': "-0700",
	'z': "-0700",
	'%': "%",
}

// strftimeLayout maps a d3/strftime pattern onto a Go reference layout.
func strftimeLayout(pattern string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(pattern) {
			return "", false
		}
		// Padding modifiers are accepted and ignored.
		if pattern[i] == '-' || pattern[i] == '_' || pattern[i] == '0' {
			i++
			if i >= len(pattern) {
				return "", false
			}
		}
		layout, ok := strftimeDirectives[pattern[i]]
		if !ok {
			return "", false
		}
		b.WriteString(layout)
	}
	return b.String(), true
}

func epochMillis(t time.Time) float64 {
	return float64(t.UnixMilli())
}
