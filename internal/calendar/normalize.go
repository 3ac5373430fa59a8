package calendar

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// DefaultTitle is substituted when a source record carries no title.
const DefaultTitle = "Event"

// timestampLayouts are tried in order when parsing loose timestamps.
// Layouts without a zone are interpreted in the display location.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Normalize converts loose upstream records into CalendarEvents ready for
// placement. Records without a parseable start are dropped silently; one
// bad record must never take down the rest of the batch. After
// normalization End >= Start always holds, and all-day events carry an
// end-exclusive End on a midnight boundary so a same-day all-day event
// spans exactly one calendar day.
func Normalize(records []model.SourceRecord, loc *time.Location) []model.CalendarEvent {
	if loc == nil {
		loc = time.Local
	}

	out := make([]model.CalendarEvent, 0, len(records))
	dropped := 0

	for i, rec := range records {
		start, ok := parseTimestamp(rec.Start, loc)
		if !ok {
			dropped++
			continue
		}

		end, ok := parseTimestamp(rec.End, loc)
		if !ok || end.Before(start) {
			end = start
		}

		if rec.AllDay {
			start = DayFloor(start)
			// End-exclusive: extend to the midnight after the last
			// occupied day.
			end = DayFloor(end).AddDate(0, 0, 1)
		}

		title := strings.TrimSpace(rec.Title)
		if title == "" {
			title = DefaultTitle
		}

		out = append(out, model.CalendarEvent{
			ID:     coerceID(rec.ID, i),
			Title:  title,
			Start:  start,
			End:    end,
			AllDay: rec.AllDay,
			Color:  rec.Color,
			Raw:    rec.Raw,
		})
	}

	if dropped > 0 {
		appLog.Debug("normalize dropped records with unusable start", "dropped", dropped, "total", len(records))
	}
	return out
}

// parseTimestamp tries each known layout against v. The second return is
// false when no layout matches or v is empty.
func parseTimestamp(v string, loc *time.Location) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

// coerceID turns a raw JSON id (string, number, or absent) into a stable
// string, falling back to a positional key so every event in a batch stays
// addressable.
func coerceID(raw json.RawMessage, index int) string {
	if len(raw) > 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n.String() != "" {
			return n.String()
		}
	}
	return "event-" + strconv.Itoa(index)
}
