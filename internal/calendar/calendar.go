// Package calendar provides civil-date arithmetic anchored to a single
// reference timezone. Pause windows and streak days are whole calendar days;
// nothing here subtracts wall-clock durations across a day boundary.
package calendar

import (
	"encoding/json"
	"fmt"
	"time"
)

const layout = "2006-01-02"

// Date is a civil date. The zero value means "no date".
type Date struct {
	t time.Time
}

// Day returns the date y-m-d. Out-of-range values are normalized.
func Day(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Day(y, m, d)
}

// Parse reads a YYYY-MM-DD date.
func Parse(s string) (Date, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d.t.IsZero() }

// AddDays moves the date by n whole days.
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }

// DaysUntil returns the number of days from d to o (negative if o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

// Within reports whether d lies in the inclusive range [start, end].
func (d Date) Within(start, end Date) bool {
	return !d.Before(start) && !d.After(end)
}

// Time returns midnight UTC of the date, the representation used for DATE columns.
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(layout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Calendar resolves "today" in one fixed timezone.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// New returns a calendar in loc driven by the system clock.
func New(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc, now: time.Now}
}

// WithClock returns a copy of c that reads time from now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	return &Calendar{loc: c.loc, now: now}
}

func (c *Calendar) Location() *time.Location { return c.loc }

// Now returns the current instant in the calendar's timezone.
func (c *Calendar) Now() time.Time { return c.now().In(c.loc) }

// Today returns the current civil date in the calendar's timezone.
func (c *Calendar) Today() Date { return DateOf(c.Now()) }

// Fixed returns a clock function that always reports t.
func Fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
