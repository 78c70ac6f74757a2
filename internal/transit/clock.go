package transit

import (
	"fmt"
	"time"
)

const (
	dateLayout = "02.01.06"
	timeLayout = "15:04"
)

// Clock converts between unix-millisecond timestamps and the backend's
// local "dd.mm.yy" / "HH:MM" strings.
type Clock struct {
	Loc *time.Location
}

func NewClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return Clock{Loc: loc}
}

func (c Clock) loc() *time.Location {
	if c.Loc == nil {
		return time.Local
	}
	return c.Loc
}

// FromDateTime parses a backend date and time into unix milliseconds.
func (c Clock) FromDateTime(date, clock string) (int64, error) {
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+clock, c.loc())
	if err != nil {
		return 0, fmt.Errorf("parse %q %q: %w", date, clock, err)
	}
	return t.UnixMilli(), nil
}

func (c Clock) Time(ms int64) time.Time { return time.UnixMilli(ms).In(c.loc()) }

func (c Clock) DateString(ms int64) string { return c.Time(ms).Format(dateLayout) }

func (c Clock) TimeString(ms int64) string { return c.Time(ms).Format(timeLayout) }

// Format renders ms as "dd.mm.yy HH:MM".
func (c Clock) Format(ms int64) string { return c.Time(ms).Format(dateLayout + " " + timeLayout) }

// ShiftDate moves a backend date string by days.
func (c Clock) ShiftDate(date string, days int) (string, error) {
	t, err := time.ParseInLocation(dateLayout, date, c.loc())
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	return t.AddDate(0, 0, days).Format(dateLayout), nil
}

// DayWindow returns [00:00, 23:59] of the given backend date.
func (c Clock) DayWindow(date string) (start, end int64, err error) {
	if start, err = c.FromDateTime(date, "00:00"); err != nil {
		return 0, 0, err
	}
	if end, err = c.FromDateTime(date, "23:59"); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}
