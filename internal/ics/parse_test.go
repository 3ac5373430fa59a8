package ics

import (
	"encoding/json"
	"strings"
	"testing"
)

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calgrid//test//EN
BEGIN:VEVENT
UID:timed-1
SUMMARY:Irrigation check
DESCRIPTION:Zone 3 drip lines
LOCATION:Greenhouse 2
DTSTART:20240310T090000Z
DTEND:20240310T100000Z
END:VEVENT
BEGIN:VEVENT
UID:allday-1
SUMMARY:Harvest fair
DTSTART;VALUE=DATE:20240310
DTEND;VALUE=DATE:20240311
END:VEVENT
BEGIN:VEVENT
SUMMARY:No UID so this one is skipped
DTSTART:20240310T090000Z
END:VEVENT
END:VCALENDAR
`

func TestParse(t *testing.T) {
	src := Source{ID: "farm", URL: "https://example.com/farm.ics"}

	records, err := Parse(src, []byte(strings.ReplaceAll(sampleICS, "\n", "\r\n")))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records (UID-less event skipped), got %d", len(records))
	}

	t.Run("timed event", func(t *testing.T) {
		rec := records[0]
		var id string
		if err := json.Unmarshal(rec.ID, &id); err != nil {
			t.Fatalf("id not a JSON string: %v", err)
		}
		if id != "farm/timed-1" {
			t.Errorf("expected id farm/timed-1, got %q", id)
		}
		if rec.Title != "Irrigation check" {
			t.Errorf("unexpected title %q", rec.Title)
		}
		if rec.AllDay {
			t.Error("timed event flagged all-day")
		}
		if !strings.HasPrefix(rec.Start, "2024-03-10T09:00:00") {
			t.Errorf("unexpected start %q", rec.Start)
		}
		if !strings.HasPrefix(rec.End, "2024-03-10T10:00:00") {
			t.Errorf("unexpected end %q", rec.End)
		}

		var payload map[string]string
		if err := json.Unmarshal(rec.Raw, &payload); err != nil {
			t.Fatalf("raw payload not JSON: %v", err)
		}
		if payload["description"] != "Zone 3 drip lines" || payload["location"] != "Greenhouse 2" {
			t.Errorf("raw payload wrong: %v", payload)
		}
	})

	t.Run("all-day event", func(t *testing.T) {
		rec := records[1]
		if !rec.AllDay {
			t.Error("VALUE=DATE event not flagged all-day")
		}
		if rec.Start != "2024-03-10" {
			t.Errorf("expected date-only start, got %q", rec.Start)
		}
		// Exclusive DTEND 2024-03-11 maps to last occupied day 2024-03-10.
		if rec.End != "2024-03-10" {
			t.Errorf("expected inclusive end 2024-03-10, got %q", rec.End)
		}
	})
}

func TestParse_EmptyBody(t *testing.T) {
	if _, err := Parse(Source{ID: "x"}, nil); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "https://example.com/cal/private.ics?token=abcd", want: "https://example.com/...(redacted)"},
		{in: "no-scheme-here", want: "ics://...(redacted)"},
	}
	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
