package model

import (
	"encoding/json"
	"time"
)

// SourceRecord is the loose, untrusted shape in which upstream systems hand
// us events. Every field is optional; the normalizer in internal/calendar
// decides what survives. ID may arrive as a JSON string or number, so it is
// kept raw until coercion.
type SourceRecord struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Title  string          `json:"title,omitempty"`
	Start  string          `json:"start,omitempty"`
	End    string          `json:"end,omitempty"`
	AllDay bool            `json:"allDay,omitempty"`
	Color  string          `json:"color,omitempty"`

	// Raw is an opaque pass-through payload for the presentation layer.
	// The engine never inspects its shape.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// CalendarEvent is the normalized, immutable representation used by the
// grid and placement code. Invariants established by normalization:
//
//   - Start is always a valid timestamp in the display timezone.
//   - End is never before Start.
//   - For all-day events End is extended to the start of the calendar day
//     after the last occupied day, so day-span math is uniformly
//     end-exclusive.
type CalendarEvent struct {
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`

	// Color is a display hint only; layout never looks at it.
	Color string `json:"color,omitempty"`

	Raw json.RawMessage `json:"raw,omitempty"`
}

// Duration returns the event's wall-clock duration after normalization.
func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}
