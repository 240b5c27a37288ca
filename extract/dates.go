package extract

import (
	"strconv"
	"strings"
	"time"
)

// knownLayouts are tried in order when a site doesn't configure a date
// format, or when its configured format fails. Best-effort: the first
// layout that parses wins.
var knownLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006 3:04 pm",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Monday, January 2, 2006",
	"01/02/2006",
	"02.01.2006",
}

// ParseDate parses a publication date best-effort. The configured format
// is tried first when present: a Go reference layout, or "unix" /
// "unixmilli" for epoch-timestamp strings. Unparseable dates yield nil,
// never an error; the record's published field stays null.
func ParseDate(text, format string) *time.Time {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil
	}

	switch format {
	case "":
	case "unix":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			t := time.Unix(n, 0).UTC()
			return &t
		}
	case "unixmilli":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			t := time.UnixMilli(n).UTC()
			return &t
		}
	default:
		if t, err := time.Parse(format, s); err == nil {
			return &t
		}
	}

	for _, layout := range knownLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}

	return nil
}
