package generic

import "time"

// =============================================================================
// PERIOD - A closed range of calendar days
// =============================================================================

// Period is the inclusive day range [Start, End]. The scheduler uses it to
// simulate a stretch of days and stores use it to load a slice of history.
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod normalises both ends to calendar days and validates the order.
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: Day(start), End: Day(end)}
	if p.End.Before(p.Start) {
		return Period{}, ErrInvalidPeriod
	}
	return p, nil
}

// Contains returns true if t falls within [Start, End] at day granularity.
func (p Period) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(p.Start)) && !d.After(Day(p.End))
}

// Days returns every day in the period in order.
func (p Period) Days() []time.Time {
	var days []time.Time
	for current := Day(p.Start); !current.After(Day(p.End)); current = current.AddDate(0, 0, 1) {
		days = append(days, current)
	}
	return days
}

// Len is the number of days in the period.
func (p Period) Len() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

func (p Period) String() string {
	return "[" + FormatDate(p.Start) + ", " + FormatDate(p.End) + "]"
}
