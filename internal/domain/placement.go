package domain

import (
	"fmt"
	"strings"
	"time"
)

// PlacementType is the recurring publication unit an ad is attached to.
type PlacementType string

const (
	// PlacementDaily is the daily brief, sold on every day except the weekly day.
	PlacementDaily PlacementType = "daily"
	// PlacementWeekly is the weekly edition, sold on the weekly day only.
	PlacementWeekly PlacementType = "weekly"
)

// ParsePlacementType validates a placement name.
func ParsePlacementType(raw string) (PlacementType, error) {
	switch PlacementType(strings.ToLower(strings.TrimSpace(raw))) {
	case PlacementDaily:
		return PlacementDaily, nil
	case PlacementWeekly:
		return PlacementWeekly, nil
	default:
		return "", fmt.Errorf("unknown placement type %q", raw)
	}
}

// Calendar holds the date rules shared by availability and booking.
type Calendar struct {
	WeeklyDay     time.Weekday
	HorizonMonths int
}

// DefaultCalendar sells the weekly edition on Sundays, six months ahead.
func DefaultCalendar() Calendar {
	return Calendar{WeeklyDay: time.Sunday, HorizonMonths: 6}
}

// Allows reports whether placement can run on date.
func (c Calendar) Allows(placement PlacementType, date time.Time) bool {
	switch placement {
	case PlacementWeekly:
		return date.Weekday() == c.WeeklyDay
	case PlacementDaily:
		return date.Weekday() != c.WeeklyDay
	default:
		return false
	}
}

// InHorizon reports whether month is neither before the current month nor past the horizon.
func (c Calendar) InHorizon(now, month time.Time) bool {
	current := MonthOf(now)
	target := MonthOf(month)
	if target.Before(current) {
		return false
	}
	return !target.After(current.AddDate(0, c.HorizonMonths, 0))
}

// Window returns the campaign window for a line that runs on date.
// Weekly campaigns run through the next weekly occurrence.
func (c Calendar) Window(placement PlacementType, date time.Time) (time.Time, time.Time) {
	start := DateOf(date)
	if placement == PlacementWeekly {
		return start, start.AddDate(0, 0, 7)
	}
	return start, start
}

// DateOf truncates t to a UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthOf returns the first day of t's month in UTC.
func MonthOf(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return t, nil
}

// ParseMonth parses a YYYY-MM month.
func ParseMonth(raw string) (time.Time, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse month %q: %w", raw, err)
	}
	return t, nil
}
