package quota

import (
	"sort"
	"time"

	"github.com/metrolog/metrolog-backend/pkg/dates"
)

// Histogram counts scheduled verification entries per calendar date.
// Keys are always normalized with dates.Day.
type Histogram map[time.Time]int

// Add increments the count for the calendar day of date.
func (h Histogram) Add(date time.Time, n int) {
	h[dates.Day(date)] += n
}

// Get returns the count for the calendar day of date.
func (h Histogram) Get(date time.Time) int {
	return h[dates.Day(date)]
}

// Dates returns the keys in ascending order, the order ledger rows are locked in.
func (h Histogram) Dates() []time.Time {
	out := make([]time.Time, 0, len(h))
	for k := range h {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Total sums every date.
func (h Histogram) Total() int {
	total := 0
	for _, v := range h {
		total += v
	}
	return total
}
