package warehouse

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Canonical calendar date
// =============================================================================

// Date is a calendar date at UTC midnight. The raw layer keeps dates as
// strings for source fidelity; everything the engine compares, orders, or
// joins on goes through this type so that ordering is chronological, not
// lexical.
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustDate parses s and panics on failure. For fixtures and tests only.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NewDate builds a Date from components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) IsZero() bool       { return d.t.IsZero() }

// Max returns the later of d and o.
func (d Date) Max(o Date) Date {
	if o.After(d) {
		return o
	}
	return d
}

// Min returns the earlier of d and o.
func (d Date) Min(o Date) Date {
	if o.Before(d) {
		return o
	}
	return d
}

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Month returns the date's month as YYYY-MM.
func (d Date) Month() string { return d.t.Format("2006-01") }

// ISOWeek returns the date's ISO week as YYYY-Www.
func (d Date) ISOWeek() string {
	year, week := d.t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func (d Date) Time() time.Time { return d.t }

func (d Date) String() string { return d.t.Format(dateLayout) }
