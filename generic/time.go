package generic

import (
	"time"
)

// =============================================================================
// CALENDAR DATES - All billing dates are UTC midnights
// =============================================================================

const DateLayout = "2006-01-02"

// Date builds a UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

func FormatDate(t time.Time) string { return t.UTC().Format(DateLayout) }

// SameDay reports whether two timestamps fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool { return Day(a).Equal(Day(b)) }

// DaysBetween counts whole calendar days from one date to another.
func DaysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)).Hours() / 24)
}

// DaysInMonth returns the length of the month.
func DaysInMonth(year int, month time.Month) int {
	return Date(year, month+1, 1).AddDate(0, 0, -1).Day()
}

// DaysInYear returns 366 for leap years and 365 otherwise.
func DaysInYear(year int) int {
	if Date(year, time.December, 31).YearDay() == 366 {
		return 366
	}
	return 365
}

// ClampDay returns day limited to the length of the month.
func ClampDay(year int, month time.Month, day int) int {
	if last := DaysInMonth(year, month); day > last {
		return last
	}
	if day < 1 {
		return 1
	}
	return day
}

// OnDay returns the date in the given month whose day is day, clamped to the
// month end (day 31 in February yields the 28th or 29th).
func OnDay(year int, month time.Month, day int) time.Time {
	return Date(year, month, ClampDay(year, month, day))
}

// AddMonths adds calendar months without overflowing into the next month:
// Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(t time.Time, n int) time.Time {
	t = Day(t)
	first := Date(t.Year(), t.Month(), 1).AddDate(0, n, 0)
	return OnDay(first.Year(), first.Month(), t.Day())
}

// MonthIndex numbers months consecutively so months can be compared across years.
func MonthIndex(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}
