package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"calgrid/internal/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	return cfg
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(testConfig(), true)
	rec := doRequest(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMonth(t *testing.T) {
	s := NewServer(testConfig(), true)

	t.Run("week aligned matrix", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/month?anchor=2024-03-10", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp monthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		if resp.WeekStart != "monday" {
			t.Errorf("expected monday week start, got %q", resp.WeekStart)
		}
		if len(resp.Weeks) != 5 {
			t.Fatalf("expected 5 weeks for March 2024, got %d", len(resp.Weeks))
		}
		for _, week := range resp.Weeks {
			if len(week) != 7 {
				t.Fatalf("expected 7 cells per week, got %d", len(week))
			}
		}
		if resp.Weeks[0][0].Date != "2024-02-26" {
			t.Errorf("expected matrix to start 2024-02-26, got %s", resp.Weeks[0][0].Date)
		}
	})

	t.Run("legacy matrix", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/month?anchor=2024-03-10&legacy=1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp monthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if len(resp.Weeks) != 5 {
			t.Fatalf("expected fixed 5 weeks, got %d", len(resp.Weeks))
		}
		if resp.Weeks[0][0].Date != "2024-03-01" {
			t.Errorf("legacy matrix should start at the 1st, got %s", resp.Weeks[0][0].Date)
		}
	})

	t.Run("bad anchor", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/month?anchor=tomorrow", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestWeek(t *testing.T) {
	s := NewServer(testConfig(), true)
	rec := doRequest(t, s, http.MethodGet, "/api/week?anchor=2025-01-15", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp weekResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Days) != 7 {
		t.Fatalf("expected 7 days, got %d", len(resp.Days))
	}
	if resp.Days[0].Date != "2025-01-13" {
		t.Errorf("expected week to start Monday 2025-01-13, got %s", resp.Days[0].Date)
	}
}

func TestDay(t *testing.T) {
	s := NewServer(testConfig(), true)
	rec := doRequest(t, s, http.MethodGet, "/api/day?anchor=2024-03-10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp dayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	// Default window 08:00-18:00 at 30-minute steps.
	if len(resp.Slots) != 20 {
		t.Errorf("expected 20 slots, got %d", len(resp.Slots))
	}
}

func TestDay_BadWorkHoursFailLoud(t *testing.T) {
	cfg := testConfig()
	cfg.WorkHours.Start = "8am"
	s := NewServer(cfg, true)

	rec := doRequest(t, s, http.MethodGet, "/api/day?anchor=2024-03-10", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for misconfigured work hours, got %d", rec.Code)
	}
}

func TestLayoutDay(t *testing.T) {
	s := NewServer(testConfig(), true)

	body := `{"events":[
		{"id":"A","start":"2024-03-10T09:00:00Z","end":"2024-03-10T10:00:00Z"},
		{"id":"B","start":"2024-03-10T09:30:00Z","end":"2024-03-10T10:30:00Z"},
		{"id":"C","start":"2024-03-10T10:00:00Z","end":"2024-03-10T11:00:00Z"},
		{"id":"broken"}
	]}`

	rec := doRequest(t, s, http.MethodPost, "/api/layout/day", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp layoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Dropped != 1 {
		t.Errorf("expected 1 dropped record, got %d", resp.Dropped)
	}
	if len(resp.Placements) != 3 {
		t.Fatalf("expected 3 placements, got %d", len(resp.Placements))
	}

	byID := make(map[string]placementDTO)
	for _, p := range resp.Placements {
		byID[p.Event.ID] = p
	}
	if byID["A"].Column != 0 || byID["B"].Column != 1 || byID["C"].Column != 0 {
		t.Errorf("unexpected columns: A=%d B=%d C=%d", byID["A"].Column, byID["B"].Column, byID["C"].Column)
	}
	for id, p := range byID {
		if p.TotalColumns != 2 {
			t.Errorf("%s: expected 2 total columns, got %d", id, p.TotalColumns)
		}
	}
}

func TestLayoutDay_MethodAndBody(t *testing.T) {
	s := NewServer(testConfig(), true)

	if rec := doRequest(t, s, http.MethodGet, "/api/layout/day", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodPost, "/api/layout/day", "{not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad body, got %d", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := testConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "farm", Password: "secret"}
	s := NewServer(cfg, true)

	t.Run("health stays open", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/health", "")
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("api requires credentials", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/month?anchor=2024-03-10", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("valid credentials pass", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/month?anchor=2024-03-10", nil)
		req.SetBasicAuth("farm", "secret")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}
