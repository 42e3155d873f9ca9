package normalizer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidDate = errors.New("invalid date")

// ISODateTime is the strftime pattern used for ISO-8601 timestamps.
const ISODateTime = "%Y-%m-%dT%H:%M:%S"

var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "1",
	'd': "2",
	'H': "15",
	'I': "3",
	'M': "04",
	'S': "05",
	'p': "PM",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'z': "-0700",
	'%': "%",
}

// Layout converts a strftime-style pattern (e.g. "%d/%m/%Y") into a Go time layout.
// Month and day accept one or two digits.
func Layout(pattern string) (string, error) {
	if pattern == "" {
		return "", fmt.Errorf("%w: empty pattern", ErrInvalidDate)
	}
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(pattern) {
			return "", fmt.Errorf("%w: dangling %% in %q", ErrInvalidDate, pattern)
		}
		i++
		layout, ok := strftimeDirectives[pattern[i]]
		if !ok {
			return "", fmt.Errorf("%w: unsupported directive %%%c in %q", ErrInvalidDate, pattern[i], pattern)
		}
		b.WriteString(layout)
	}
	return b.String(), nil
}

// ParseDate parses value with a strftime pattern and returns the calendar day in UTC.
func ParseDate(value, pattern string) (time.Time, error) {
	layout, err := Layout(pattern)
	if err != nil {
		return time.Time{}, err
	}
	return ParseDateLayout(value, layout, pattern == ISODateTime)
}

// ParseDateLayout is ParseDate with a precomputed layout.
func ParseDateLayout(value, layout string, iso bool) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}
	t, err := time.Parse(layout, s)
	if err != nil && iso {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q does not match %s", ErrInvalidDate, value, layout)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// DateDisplay renders a strftime pattern as a human label ("%d/%m/%Y" -> "DD/MM/YYYY").
func DateDisplay(pattern string) string {
	if pattern == ISODateTime {
		return "ISO 8601 (YYYY-MM-DDTHH:MM:SS)"
	}
	r := strings.NewReplacer(
		"%Y", "YYYY", "%y", "YY", "%m", "MM", "%d", "DD",
		"%H", "HH", "%M", "MM", "%S", "SS", "%b", "Mon", "%B", "Month",
	)
	return r.Replace(pattern)
}
