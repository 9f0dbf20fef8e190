package primitive

import (
	"fmt"
	"time"
)

// Char is a single character host value. Go's rune is an alias of int32 and
// cannot be told apart from Edm.Int32 targets, hence the distinct type.
type Char rune

func (c Char) String() string {
	return string(rune(c))
}

// Date is a calendar date without a time or zone (Edm.Date).
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the date on which t falls in t's location.
func DateOf(t time.Time) Date {
	var d Date
	d.Year, d.Month, d.Day = t.Date()
	return d
}

// ParseDate parses an ISO-8601 date such as "2014-12-12".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
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

// TimeOfDay is a wall clock time without a date or zone (Edm.TimeOfDay).
type TimeOfDay struct {
	Hour       int
	Minute     int
	Second     int
	Nanosecond int
}

// TimeOfDayOf returns the wall clock time of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	var tod TimeOfDay
	tod.Hour, tod.Minute, tod.Second = t.Clock()
	tod.Nanosecond = t.Nanosecond()
	return tod
}

// ParseTimeOfDay parses "15:04:05" with optional fractional seconds.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04:05.999999999", s)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDayOf(t), nil
}

func (t TimeOfDay) String() string {
	s := fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	if t.Nanosecond == 0 {
		return s
	}
	frac := fmt.Sprintf("%09d", t.Nanosecond)
	for len(frac) > 0 && frac[len(frac)-1] == '0' {
		frac = frac[:len(frac)-1]
	}
	return s + "." + frac
}

// LocalDateTime is a date and wall clock time with no offset. It is the host
// representation for naive date/time values.
type LocalDateTime struct {
	Date Date
	Time TimeOfDay
}

// LocalDateTimeOf returns the wall clock reading of t in t's location.
func LocalDateTimeOf(t time.Time) LocalDateTime {
	return LocalDateTime{Date: DateOf(t), Time: TimeOfDayOf(t)}
}

// In interprets the wall clock reading in loc.
func (dt LocalDateTime) In(loc *time.Location) time.Time {
	return time.Date(dt.Date.Year, dt.Date.Month, dt.Date.Day,
		dt.Time.Hour, dt.Time.Minute, dt.Time.Second, dt.Time.Nanosecond, loc)
}

func (dt LocalDateTime) String() string {
	return dt.Date.String() + "T" + dt.Time.String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (dt LocalDateTime) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}
