package calendar

import (
	"sort"
	"time"

	"calgrid/internal/model"
)

// BucketPolicy selects which rule decides that an event belongs to a day.
// Both policies are part of the contract: month cells showing simple
// point-in-time events want BucketByStart, while views that stretch all-day
// and multi-day events across cells want BucketBySpan. They are deliberately
// not merged into one heuristic.
type BucketPolicy int

const (
	// BucketByStart places an event only on the calendar day its start
	// falls on; the end is ignored entirely.
	BucketByStart BucketPolicy = iota

	// BucketBySpan places an event on every day of [startDay, endDay]
	// inclusive, where both bounds are calendar-day floors.
	BucketBySpan
)

// Placement is the column assignment for one event in a day or week view.
// The renderer derives fractional width and left offset from
// Column/TotalColumns.
type Placement struct {
	Event        model.CalendarEvent `json:"event"`
	Column       int                 `json:"column"`
	TotalColumns int                 `json:"total_columns"`
}

// LayoutOptions tunes LayoutDayEvents.
type LayoutOptions struct {
	// PerClusterColumns reports TotalColumns per overlap cluster instead of
	// broadcasting the day-wide maximum to every placement. The broadcast
	// is the historical behavior and remains the default.
	PerClusterColumns bool
}

// EventsForDay filters events to those belonging to day under the given
// policy, preserving input order. The day argument is floored to midnight
// before comparison, so any timestamp within the target day works.
func EventsForDay(events []model.CalendarEvent, day time.Time, policy BucketPolicy) []model.CalendarEvent {
	target := DayFloor(day)

	out := make([]model.CalendarEvent, 0)
	for _, ev := range events {
		switch policy {
		case BucketBySpan:
			startDay := DayFloor(ev.Start)
			endDay := DayFloor(ev.End)
			// All-day ends are end-exclusive midnights; pull them back a
			// day so a one-day event does not bleed into the next cell.
			if ev.AllDay && ev.End.After(ev.Start) && ev.End.Equal(endDay) {
				endDay = endDay.AddDate(0, 0, -1)
			}
			if !target.Before(startDay) && !target.After(endDay) {
				out = append(out, ev)
			}
		default:
			if SameDay(ev.Start, target) {
				out = append(out, ev)
			}
		}
	}
	return out
}

// LayoutDayEvents assigns each event a column so that events sharing a time
// range render side by side instead of on top of each other.
//
// Events are sorted ascending by start (stable, so equal starts keep their
// input order) and greedily packed: an event goes into the first column
// whose last occupant ended at or before the event's start, opening a new
// column when none fits. With the default options every placement carries
// the day-wide column count; with PerClusterColumns each run of
// transitively-overlapping events gets its own tighter count.
func LayoutDayEvents(events []model.CalendarEvent, opts LayoutOptions) []Placement {
	// Zero timestamps mean the normalizer never saw a usable value; such
	// events may still render as chips elsewhere but get no column here.
	timed := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.Start.IsZero() || ev.End.IsZero() {
			continue
		}
		timed = append(timed, ev)
	}
	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].Start.Before(timed[j].Start)
	})

	placements := make([]Placement, 0, len(timed))
	columnEnds := make([]time.Time, 0, 4)

	for _, ev := range timed {
		col := -1
		for c, end := range columnEnds {
			if !end.After(ev.Start) {
				col = c
				break
			}
		}
		if col == -1 {
			col = len(columnEnds)
			columnEnds = append(columnEnds, time.Time{})
		}
		if ev.End.After(columnEnds[col]) {
			columnEnds[col] = ev.End
		}
		placements = append(placements, Placement{Event: ev, Column: col})
	}

	if opts.PerClusterColumns {
		assignClusterColumns(placements)
	} else {
		for i := range placements {
			placements[i].TotalColumns = len(columnEnds)
		}
	}
	return placements
}

// assignClusterColumns rewrites TotalColumns per overlap cluster. Placements
// are already sorted by start; a cluster ends when the next event starts at
// or after the latest end seen so far, since transitive overlap cannot reach
// across that gap.
func assignClusterColumns(placements []Placement) {
	clusterStart := 0
	clusterEnd := time.Time{}
	maxCol := 0

	flush := func(upto int) {
		for i := clusterStart; i < upto; i++ {
			placements[i].TotalColumns = maxCol + 1
		}
	}

	for i, p := range placements {
		if i > clusterStart && !p.Event.Start.Before(clusterEnd) {
			flush(i)
			clusterStart = i
			maxCol = 0
		}
		if p.Column > maxCol {
			maxCol = p.Column
		}
		if p.Event.End.After(clusterEnd) {
			clusterEnd = p.Event.End
		}
	}
	flush(len(placements))
}

// CapToN limits a day's bucket to at most n events for compact month cells,
// returning the capped slice in original order and how many were hidden.
// n <= 0 hides everything.
func CapToN(events []model.CalendarEvent, n int) (visible []model.CalendarEvent, overflow int) {
	if n < 0 {
		n = 0
	}
	if len(events) <= n {
		return events, 0
	}
	return events[:n], len(events) - n
}
