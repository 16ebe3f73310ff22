// Package month models calendar months as half-open UTC time windows.
package month

import (
	"fmt"
	"time"
)

// Month identifies a calendar month. The zero value is not a valid month.
type Month struct {
	Year  int
	Month time.Month
}

// New returns the month for year and m.
func New(year int, m time.Month) Month {
	return Month{Year: year, Month: m}
}

// Of returns the month containing t, evaluated in UTC.
func Of(t time.Time) Month {
	t = t.UTC()
	return Month{Year: t.Year(), Month: t.Month()}
}

// Parse parses a "YYYY-MM" string.
func Parse(s string) (Month, error) {
	if len(s) != 7 || s[4] != '-' {
		return Month{}, fmt.Errorf("parse month %q: want YYYY-MM", s)
	}
	year, ok := digits(s[:4])
	if !ok {
		return Month{}, fmt.Errorf("parse month %q: invalid year", s)
	}
	mon, ok := digits(s[5:])
	if !ok {
		return Month{}, fmt.Errorf("parse month %q: invalid month", s)
	}
	if mon < 1 || mon > 12 {
		return Month{}, fmt.Errorf("parse month %q: month must be 01-12", s)
	}
	return Month{Year: year, Month: time.Month(mon)}, nil
}

func digits(s string) (int, bool) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// String returns the canonical "YYYY-MM" form.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Next returns the following month, rolling December into January.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Before reports whether m is earlier than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// Compare returns -1, 0 or +1 depending on whether m is before, equal to or after o.
func (m Month) Compare(o Month) int {
	switch {
	case m.Before(o):
		return -1
	case o.Before(m):
		return 1
	default:
		return 0
	}
}

// Start is midnight UTC on the first day of the month.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is midnight UTC on the first day of the next month (exclusive).
func (m Month) End() time.Time {
	return m.Next().Start()
}

// Boundaries returns the window [start, end) covered by m.
func (m Month) Boundaries() (time.Time, time.Time) {
	return m.Start(), m.End()
}

// Pending lists every month from start (inclusive) up to current (exclusive)
// in ascending order, leaving out months present in completed. The current
// month is never returned since it has not fully elapsed.
func Pending(start, current Month, completed []Month) []Month {
	done := make(map[Month]struct{}, len(completed))
	for _, c := range completed {
		done[c] = struct{}{}
	}

	var out []Month
	for m := start; m.Before(current); m = m.Next() {
		if _, ok := done[m]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}
