package ics

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// rawPayload is what we tuck into SourceRecord.Raw for the presentation
// layer: fields the grid never looks at but menus and tooltips do.
type rawPayload struct {
	SourceID    string `json:"source_id"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Parse converts a single ICS payload into loose SourceRecords, the same
// shape external API payloads arrive in, so everything downstream funnels
// through one normalization path.
//
//   - All-day detection follows VALUE=DATE / date-only DTSTART values.
//   - Recurring events are taken at their base DTSTART/DTEND only; RRULE
//     expansion is deliberately not performed here.
//   - A VEVENT that cannot be parsed is logged and skipped; it never fails
//     the whole feed.
func Parse(src Source, body []byte) ([]model.SourceRecord, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	records := make([]model.SourceRecord, 0)

	for _, ve := range cal.Events() {
		rec, perr := parseVEvent(src, ve)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		records = append(records, rec)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(records))
	return records, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (model.SourceRecord, error) {
	var rec model.SourceRecord

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return rec, errors.New("missing UID")
	}
	id, err := json.Marshal(src.ID + "/" + uidProp.Value)
	if err != nil {
		return rec, err
	}
	rec.ID = id

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		rec.Title = p.Value
	}
	// COLOR (RFC 7986). Raw property name to avoid constant mismatch
	// across library versions.
	if p := ve.GetProperty("COLOR"); p != nil {
		rec.Color = p.Value
	}

	// All-day: VALUE=DATE parameter or a date-only DTSTART value.
	allDay := false
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				allDay = true
			}
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			allDay = true
		}
	} else {
		return rec, errors.New("missing DTSTART")
	}
	rec.AllDay = allDay

	// DTSTART / DTEND via the library's timezone-aware helpers, falling
	// back to the raw property value for date-only forms the helpers
	// reject.
	start, serr := ve.GetStartAt()
	if serr != nil {
		start, serr = parseICSTime(ve.GetProperty(ical.ComponentPropertyDtStart).Value)
		if serr != nil {
			return rec, serr
		}
	}
	rec.Start = formatStamp(start, allDay)

	end, eerr := ve.GetEndAt()
	if eerr != nil {
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			end, eerr = parseICSTime(p.Value)
		}
	}
	if eerr == nil && !end.IsZero() {
		// iCalendar all-day DTEND is exclusive; SourceRecord carries the
		// last occupied day instead, so pull it back one day.
		if allDay && end.After(start) {
			end = end.AddDate(0, 0, -1)
		}
		rec.End = formatStamp(end, allDay)
	}

	// Opaque payload for the presentation layer.
	payload := rawPayload{SourceID: src.ID}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		payload.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		payload.Location = p.Value
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return rec, err
	}
	rec.Raw = raw

	return rec, nil
}

// formatStamp renders a timestamp the way SourceRecord carries it: date-only
// for all-day values, RFC3339 otherwise.
func formatStamp(t time.Time, allDay bool) string {
	if allDay {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		const layout = "20060102T150405"
		return time.ParseInLocation(layout, v, time.Local)
	}

	// Date-only (all-day), e.g., 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, time.Local)
}
