package authorization

import (
	"fmt"
	"time"
)

// CapPeriod is the budget window a budget_cap policy sums spend over.
type CapPeriod string

const (
	PeriodWeekly    CapPeriod = "weekly"
	PeriodMonthly   CapPeriod = "monthly"
	PeriodQuarterly CapPeriod = "quarterly"
	PeriodAnnual    CapPeriod = "annual"
)

// PeriodBounds returns the half-open [start, end) calendar window containing
// the given instant. Boundaries are anchored to the calendar in the provided
// location: weeks start Monday, quarters in January, April, July, October.
func PeriodBounds(p CapPeriod, at time.Time, loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.UTC
	}
	at = at.In(loc)

	switch p {
	case PeriodWeekly:
		// time.Weekday counts Sunday as 0; shift so Monday anchors the week.
		offset := (int(at.Weekday()) + 6) % 7
		start = time.Date(at.Year(), at.Month(), at.Day()-offset, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 7)
	case PeriodMonthly:
		start = time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0)
	case PeriodQuarterly:
		quarterStart := time.Month(((int(at.Month())-1)/3)*3 + 1)
		start = time.Date(at.Year(), quarterStart, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 3, 0)
	case PeriodAnnual:
		start = time.Date(at.Year(), time.January, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(1, 0, 0)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown cap period %q", p)
	}
	return start, end, nil
}
