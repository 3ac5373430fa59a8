package calendar

import (
	"strconv"
	"strings"
	"time"
)

// DaysPerWeek is the row width of every date matrix this package emits.
const DaysPerWeek = 7

// legacyMonthWeeks is the fixed row count of the historical month window.
const legacyMonthWeeks = 5

// DayFloor returns the midnight timestamp of the calendar day containing t,
// in t's own location.
func DayFloor(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// BuildMonthMatrix returns the date matrix for the month containing anchor:
// full weeks of 7 consecutive days, starting on the weekStart-aligned day
// on or before the 1st of the month and ending with the week that contains
// the last day of the month. Months that straddle six week-rows get six
// rows; nothing of the anchor month is ever cut off.
func BuildMonthMatrix(anchor time.Time, weekStart time.Weekday) ([][]time.Time, error) {
	if weekStart < time.Sunday || weekStart > time.Saturday {
		return nil, configErr("week start", "weekday %d out of range 0..6", int(weekStart))
	}

	first := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, anchor.Location())
	last := first.AddDate(0, 1, -1)

	cur := weekAlignedStart(first, weekStart)

	var matrix [][]time.Time
	for {
		week := make([]time.Time, 0, DaysPerWeek)
		for i := 0; i < DaysPerWeek; i++ {
			week = append(week, cur)
			cur = cur.AddDate(0, 0, 1)
		}
		matrix = append(matrix, week)

		// cur now points at the first day of the next row; stop once the
		// previous row reached past the last day of the month.
		if !week[DaysPerWeek-1].Before(last) {
			break
		}
	}
	return matrix, nil
}

// BuildMonthMatrixLegacy reproduces the historical month window: exactly
// 5 weeks of 7 days starting at the 1st of the anchor month, with no
// week-start alignment. Months spanning six week-rows lose their tail under
// this scheme. Kept so callers pinned to the old layout can keep their
// golden output; new callers should use BuildMonthMatrix.
func BuildMonthMatrixLegacy(anchor time.Time) [][]time.Time {
	cur := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, anchor.Location())

	matrix := make([][]time.Time, 0, legacyMonthWeeks)
	for w := 0; w < legacyMonthWeeks; w++ {
		week := make([]time.Time, 0, DaysPerWeek)
		for i := 0; i < DaysPerWeek; i++ {
			week = append(week, cur)
			cur = cur.AddDate(0, 0, 1)
		}
		matrix = append(matrix, week)
	}
	return matrix
}

// BuildWeekDays returns the 7 consecutive dates of the calendar week that
// contains anchor, the first of which falls on weekStart.
func BuildWeekDays(anchor time.Time, weekStart time.Weekday) ([]time.Time, error) {
	if weekStart < time.Sunday || weekStart > time.Saturday {
		return nil, configErr("week start", "weekday %d out of range 0..6", int(weekStart))
	}

	cur := weekAlignedStart(DayFloor(anchor), weekStart)
	days := make([]time.Time, 0, DaysPerWeek)
	for i := 0; i < DaysPerWeek; i++ {
		days = append(days, cur)
		cur = cur.AddDate(0, 0, 1)
	}
	return days, nil
}

// BuildTimeSlots returns the time points of the half-open window
// [startHHMM, endHHMM) stepped by slotMinutes, materialized on the calendar
// day of reference. The reference parameter exists so slot generation is
// deterministic under test; callers wanting "today" pass time.Now().
//
// start >= end yields an empty slice and no error. Malformed HH:MM strings
// and non-positive slotMinutes are caller bugs and return a
// ConfigurationError; the non-positive guard matters because a zero step
// would otherwise never terminate.
func BuildTimeSlots(startHHMM, endHHMM string, slotMinutes int, reference time.Time) ([]time.Time, error) {
	if slotMinutes <= 0 {
		return nil, configErr("slot interval", "%d minutes; must be positive", slotMinutes)
	}

	startH, startM, err := parseHHMM(startHHMM)
	if err != nil {
		return nil, err
	}
	endH, endM, err := parseHHMM(endHHMM)
	if err != nil {
		return nil, err
	}

	day := DayFloor(reference)
	cur := day.Add(time.Duration(startH)*time.Hour + time.Duration(startM)*time.Minute)
	end := day.Add(time.Duration(endH)*time.Hour + time.Duration(endM)*time.Minute)

	var slots []time.Time
	for cur.Before(end) {
		slots = append(slots, cur)
		cur = cur.Add(time.Duration(slotMinutes) * time.Minute)
	}
	return slots, nil
}

// weekAlignedStart walks backward from day (a midnight timestamp) to the
// nearest date whose weekday equals weekStart, possibly day itself.
func weekAlignedStart(day time.Time, weekStart time.Weekday) time.Time {
	offset := (int(day.Weekday()) - int(weekStart) + DaysPerWeek) % DaysPerWeek
	return day.AddDate(0, 0, -offset)
}

// parseHHMM parses a strict "HH:MM" wall-clock string.
func parseHHMM(v string) (hour, minute int, err error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, 0, configErr("work hours", "%q is not HH:MM", v)
	}
	hour, herr := strconv.Atoi(parts[0])
	minute, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, configErr("work hours", "%q is not HH:MM", v)
	}
	return hour, minute, nil
}
