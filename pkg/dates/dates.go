package dates

import (
	"fmt"
	"time"
)

// Layout is the wire format for calendar dates.
const Layout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar day. Values produced by Day
// compare equal with == and are safe to use as map keys.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current UTC calendar day according to now.
func Today(now func() time.Time) time.Time {
	if now == nil {
		now = time.Now
	}
	return Day(now().UTC())
}

// Parse reads a YYYY-MM-DD value.
func Parse(value string) (time.Time, error) {
	t, err := time.Parse(Layout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected %s", value, Layout)
	}
	return Day(t), nil
}

// Format renders t as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(Layout)
}
