// Package calendar provides the working-day predicate and workday date
// arithmetic used by the scheduling engine. A Calendar is a set of working
// weekdays plus date-keyed exceptions (holidays and extra workdays).
//
// All dates are day-granular: times of day and zones are normalized to
// midnight UTC before any comparison or arithmetic.
package calendar

import (
	"sort"
	"time"
)

// DateKey is the layout used for exception map keys.
const DateKey = "2006-01-02"

// Calendar describes which days count as workdays. The zero value has no
// working weekdays; use Default for a standard Monday–Friday week.
type Calendar struct {
	// Weekdays lists the working days of the week.
	Weekdays []time.Weekday `json:"weekdays"`

	// Exceptions overrides the weekday rule for specific dates, keyed by
	// DateKey. true forces a workday, false forces a non-workday.
	Exceptions map[string]bool `json:"exceptions,omitempty"`
}

// Default returns a Monday–Friday calendar with no exceptions.
func Default() Calendar {
	return Calendar{
		Weekdays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
	}
}

// Date normalizes t to midnight UTC, discarding the time of day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WithException returns a copy of the calendar with the given date forced to
// be a workday (working=true) or holiday (working=false).
func (c Calendar) WithException(date time.Time, working bool) Calendar {
	out := c.Clone()
	if out.Exceptions == nil {
		out.Exceptions = make(map[string]bool, 1)
	}
	out.Exceptions[Date(date).Format(DateKey)] = working
	return out
}

// Clone returns a deep copy of the calendar.
func (c Calendar) Clone() Calendar {
	out := Calendar{Weekdays: append([]time.Weekday(nil), c.Weekdays...)}
	if c.Exceptions != nil {
		out.Exceptions = make(map[string]bool, len(c.Exceptions))
		for k, v := range c.Exceptions {
			out.Exceptions[k] = v
		}
	}
	return out
}

// IsWorkday reports whether the given date is a working day under this
// calendar, applying exceptions over the weekday rule.
func (c Calendar) IsWorkday(t time.Time) bool {
	d := Date(t)
	if override, ok := c.Exceptions[d.Format(DateKey)]; ok {
		return override
	}
	for _, wd := range c.Weekdays {
		if d.Weekday() == wd {
			return true
		}
	}
	return false
}

// NextWorkday returns the first workday on or after t.
func (c Calendar) NextWorkday(t time.Time) time.Time {
	d := Date(t)
	for !c.IsWorkday(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PrevWorkday returns the first workday on or before t.
func (c Calendar) PrevWorkday(t time.Time) time.Time {
	d := Date(t)
	for !c.IsWorkday(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// AddWorkdays returns the date n workdays after t (before, for negative n).
// AddWorkdays(t, 0) returns t unchanged. Each step lands on a workday, so
// the result of a nonzero shift is always a workday.
func (c Calendar) AddWorkdays(t time.Time, n int) time.Time {
	d := Date(t)
	step := 1
	if n < 0 {
		step = -1
		n = -n
	}
	for n > 0 {
		d = d.AddDate(0, 0, step)
		if c.IsWorkday(d) {
			n--
		}
	}
	return d
}

// WorkdaysBetween returns the signed number of AddWorkdays steps from a to b:
// the count of workdays in (a, b] when b is after a, and the negated count of
// workdays in [b, a) when b is before a. It is the inverse of AddWorkdays:
// WorkdaysBetween(d, AddWorkdays(d, n)) == n for any workday d.
func (c Calendar) WorkdaysBetween(a, b time.Time) int {
	a, b = Date(a), Date(b)
	if a.Equal(b) {
		return 0
	}
	n := 0
	if b.After(a) {
		for d := a.AddDate(0, 0, 1); !d.After(b); d = d.AddDate(0, 0, 1) {
			if c.IsWorkday(d) {
				n++
			}
		}
		return n
	}
	for d := b; d.Before(a); d = d.AddDate(0, 0, 1) {
		if c.IsWorkday(d) {
			n--
		}
	}
	return n
}

// ExceptionDates returns the exception dates in ascending order. Useful for
// deterministic serialization and display.
func (c Calendar) ExceptionDates() []string {
	keys := make([]string, 0, len(c.Exceptions))
	for k := range c.Exceptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
