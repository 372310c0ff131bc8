package hos

import (
	"fmt"
	"time"
)

const (
	minutesPerDay = 24 * 60
	lastMinute    = minutesPerDay - 1
)

// Date is a calendar day in the trip's home time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("hos: parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// In returns midnight at the start of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ActivityInterval is one contiguous duty period inside a single calendar day.
// StartMinute and EndMinute are minutes after local midnight (0..1439).
//
// ThroughMidnight marks a piece produced by SplitAtMidnight whose end really
// is the following midnight. It is still stored as 23:59 so the interval never
// names the next day, but Minutes counts the final minute.
type ActivityInterval struct {
	Status          DutyStatus `json:"status"`
	StartMinute     int        `json:"startMinute"`
	EndMinute       int        `json:"endMinute"`
	ThroughMidnight bool       `json:"throughMidnight,omitempty"`
	Location        string     `json:"location,omitempty"`
	Remarks         string     `json:"remarks,omitempty"`
	Miles           float64    `json:"miles,omitempty"`
}

// Duration returns the elapsed minutes from start to end, assuming at most
// one midnight wrap. Spans of a day or more must be split first.
func Duration(start, end int) int {
	if end >= start {
		return end - start
	}
	return minutesPerDay - start + end
}

// Minutes is the interval's length in minutes.
func (a ActivityInterval) Minutes() int {
	d := Duration(a.StartMinute, a.EndMinute)
	if a.ThroughMidnight {
		d++
	}
	return d
}

// EndOffset is the end of the interval in minutes after midnight, with
// ThroughMidnight pieces ending at 1440.
func (a ActivityInterval) EndOffset() int {
	if a.ThroughMidnight {
		return minutesPerDay
	}
	return a.EndMinute
}

// Clock formats a minute-of-day as HH:MM.
func Clock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// DatedInterval is an ActivityInterval together with the day it belongs to.
type DatedInterval struct {
	Date     Date
	Interval ActivityInterval
}

func minuteOfDay(t time.Time) int { return t.Hour()*60 + t.Minute() }

// SplitAtMidnight turns the raw period [rawStart, rawEnd) into day-bounded
// intervals dated in rawStart's location. A period inside one day yields one
// interval; one crossing a single midnight yields [start, 23:59] on the first
// day and [00:00, end] on the next. Periods crossing several midnights also
// get a full-day interval for each day in between. Empty pieces are dropped,
// so a period ending exactly at midnight produces no 00:00-00:00 interval.
//
// This is the only place in the package that deals with midnight.
func SplitAtMidnight(rawStart, rawEnd time.Time, status DutyStatus, remarks string) []DatedInterval {
	rawEnd = rawEnd.In(rawStart.Location())
	if !rawEnd.After(rawStart) {
		return nil
	}
	sd, ed := DateOf(rawStart), DateOf(rawEnd)
	sm, em := minuteOfDay(rawStart), minuteOfDay(rawEnd)
	piece := func(d Date, start, end int, through bool) DatedInterval {
		return DatedInterval{Date: d, Interval: ActivityInterval{
			Status:          status,
			StartMinute:     start,
			EndMinute:       end,
			ThroughMidnight: through,
			Remarks:         remarks,
		}}
	}
	if sd == ed {
		if em == sm {
			return nil
		}
		return []DatedInterval{piece(sd, sm, em, false)}
	}
	out := []DatedInterval{piece(sd, sm, lastMinute, true)}
	for d := sd.AddDays(1); d.Before(ed); d = d.AddDays(1) {
		out = append(out, piece(d, 0, lastMinute, true))
	}
	if em > 0 {
		out = append(out, piece(ed, 0, em, false))
	}
	return out
}
