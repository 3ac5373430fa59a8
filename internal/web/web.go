package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"calgrid/internal/calendar"
	"calgrid/internal/config"
	"calgrid/internal/ics"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// Server provides the HTTP API over the grid and placement engine.
// 엔드포인트: /health, /api/month, /api/week, /api/day, /api/layout/day.
type Server struct {
	cfg   *config.Config
	debug bool
	mux   *http.ServeMux

	// In-memory cache for normalized feed events to avoid redundant
	// fetch/parse/normalize work on every HTTP request.
	feedMu    sync.RWMutex
	feedCache *feedCache
}

// feedCache holds the last normalized feed batch and its timestamp.
type feedCache struct {
	events    []model.CalendarEvent
	updatedAt time.Time
}

// feedCacheTTL bounds how stale the feed cache may get before a request
// triggers a refetch. The cron loop in cmd/calgrid refreshes it proactively.
const feedCacheTTL = 30 * time.Second

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, debug bool) *Server {
	s := &Server{
		cfg:   cfg,
		debug: debug,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calgrid", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer starts an HTTP server bound to cfg.Listen.
func StartServer(_ context.Context, cfg *config.Config, debug bool) error {
	s := NewServer(cfg, debug)
	appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen, "debug", debug)
	return http.ListenAndServe(cfg.Listen, s.Handler())
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/month", s.handleMonth)
	s.mux.HandleFunc("/api/week", s.handleWeek)
	s.mux.HandleFunc("/api/day", s.handleDay)
	s.mux.HandleFunc("/api/layout/day", s.handleLayoutDay)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is a JSON-friendly view of a normalized event.
type eventDTO struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Start  time.Time       `json:"start"`
	End    time.Time       `json:"end"`
	AllDay bool            `json:"all_day"`
	Color  string          `json:"color,omitempty"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

// placementDTO carries one column assignment for day/week rendering.
type placementDTO struct {
	Event        eventDTO `json:"event"`
	Column       int      `json:"column"`
	TotalColumns int      `json:"total_columns"`
}

// monthCellDTO is one day cell of the month matrix.
type monthCellDTO struct {
	Date     string     `json:"date"`
	Events   []eventDTO `json:"events"`
	Overflow int        `json:"overflow"`
}

// monthResponse is the JSON response shape for /api/month.
type monthResponse struct {
	Anchor    string           `json:"anchor"`
	WeekStart string           `json:"week_start"`
	Timezone  string           `json:"timezone"`
	Weeks     [][]monthCellDTO `json:"weeks"`
}

// weekDayDTO is one day column of the week view.
type weekDayDTO struct {
	Date       string         `json:"date"`
	Placements []placementDTO `json:"placements"`
}

// weekResponse is the JSON response shape for /api/week.
type weekResponse struct {
	Anchor    string       `json:"anchor"`
	WeekStart string       `json:"week_start"`
	Timezone  string       `json:"timezone"`
	Days      []weekDayDTO `json:"days"`
}

// dayResponse is the JSON response shape for /api/day.
type dayResponse struct {
	Date       string         `json:"date"`
	Timezone   string         `json:"timezone"`
	Slots      []time.Time    `json:"slots"`
	Placements []placementDTO `json:"placements"`
}

// layoutRequest is the POST body for /api/layout/day: the raw records an
// upstream service would hand the dashboard.
type layoutRequest struct {
	Events []model.SourceRecord `json:"events"`
}

// layoutResponse is the JSON response shape for /api/layout/day.
type layoutResponse struct {
	Placements []placementDTO `json:"placements"`
	Dropped    int            `json:"dropped"`
}

// handleMonth returns the month matrix around the anchor date, with per-day
// event buckets (span policy, so multi-day and all-day events stretch
// across cells) capped per cell.
//
// GET /api/month?anchor=2024-03-10&legacy=1
//   - anchor: 기준일 (기본: 오늘)
//   - legacy: 1이면 과거의 고정 5주(35칸) 레이아웃을 사용
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	loc := s.cfg.Location()

	anchor, err := parseAnchor(r.URL.Query().Get("anchor"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid anchor date")
		return
	}

	var matrix [][]time.Time
	if r.URL.Query().Get("legacy") == "1" {
		matrix = calendar.BuildMonthMatrixLegacy(anchor)
	} else {
		matrix, err = calendar.BuildMonthMatrix(anchor, s.cfg.WeekStartDay())
		if err != nil {
			// Caller bug in configuration; fail loud.
			appLog.Error("month matrix build failed", err)
			writeError(w, http.StatusInternalServerError, "grid configuration invalid")
			return
		}
	}

	events := s.loadEvents(r.Context(), loc)

	weeks := make([][]monthCellDTO, 0, len(matrix))
	for _, week := range matrix {
		row := make([]monthCellDTO, 0, len(week))
		for _, day := range week {
			bucket := calendar.EventsForDay(events, day, calendar.BucketBySpan)
			visible, overflow := calendar.CapToN(bucket, s.cfg.MonthEventCap)
			row = append(row, monthCellDTO{
				Date:     day.Format("2006-01-02"),
				Events:   toEventDTOs(visible),
				Overflow: overflow,
			})
		}
		weeks = append(weeks, row)
	}

	writeJSON(w, http.StatusOK, monthResponse{
		Anchor:    anchor.Format("2006-01-02"),
		WeekStart: s.cfg.WeekStart,
		Timezone:  loc.String(),
		Weeks:     weeks,
	})
}

// handleWeek returns the 7 days of the anchor's week with per-day column
// placements (point policy per day bucket, columns from the overlap pass).
//
// GET /api/week?anchor=2024-03-10&per_cluster=1
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	loc := s.cfg.Location()

	anchor, err := parseAnchor(r.URL.Query().Get("anchor"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid anchor date")
		return
	}

	days, err := calendar.BuildWeekDays(anchor, s.cfg.WeekStartDay())
	if err != nil {
		appLog.Error("week build failed", err)
		writeError(w, http.StatusInternalServerError, "grid configuration invalid")
		return
	}

	opts := layoutOptsFromQuery(r)
	events := s.loadEvents(r.Context(), loc)

	dayDTOs := make([]weekDayDTO, 0, len(days))
	for _, day := range days {
		bucket := calendar.EventsForDay(events, day, calendar.BucketByStart)
		placements := calendar.LayoutDayEvents(bucket, opts)
		dayDTOs = append(dayDTOs, weekDayDTO{
			Date:       day.Format("2006-01-02"),
			Placements: toPlacementDTOs(placements),
		})
	}

	writeJSON(w, http.StatusOK, weekResponse{
		Anchor:    anchor.Format("2006-01-02"),
		WeekStart: s.cfg.WeekStart,
		Timezone:  loc.String(),
		Days:      dayDTOs,
	})
}

// handleDay returns the work-hour time slots of the anchor day plus column
// placements for its events.
//
// GET /api/day?anchor=2024-03-10&per_cluster=1
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	loc := s.cfg.Location()

	anchor, err := parseAnchor(r.URL.Query().Get("anchor"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid anchor date")
		return
	}

	slots, err := calendar.BuildTimeSlots(s.cfg.WorkHours.Start, s.cfg.WorkHours.End, s.cfg.SlotMinutes, anchor)
	if err != nil {
		// Work-hour misconfiguration is an integration bug, not bad data.
		appLog.Error("slot build failed", err)
		writeError(w, http.StatusInternalServerError, "slot configuration invalid")
		return
	}

	events := s.loadEvents(r.Context(), loc)
	bucket := calendar.EventsForDay(events, anchor, calendar.BucketByStart)
	placements := calendar.LayoutDayEvents(bucket, layoutOptsFromQuery(r))

	writeJSON(w, http.StatusOK, dayResponse{
		Date:       anchor.Format("2006-01-02"),
		Timezone:   loc.String(),
		Slots:      slots,
		Placements: toPlacementDTOs(placements),
	})
}

// handleLayoutDay normalizes a caller-supplied batch of loose records and
// returns their column placements. This is the contract for upstream
// services that already hold the events and only need the layout.
//
// POST /api/layout/day?per_cluster=1
// Body: {"events":[{"id":..,"title":..,"start":..,"end":..,"allDay":..}, ...]}
func (s *Server) handleLayoutDay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req layoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	loc := s.cfg.Location()
	events := calendar.Normalize(req.Events, loc)
	placements := calendar.LayoutDayEvents(events, layoutOptsFromQuery(r))

	writeJSON(w, http.StatusOK, layoutResponse{
		Placements: toPlacementDTOs(placements),
		Dropped:    len(req.Events) - len(events),
	})
}

// RefreshFeeds re-fetches all configured feeds and replaces the cache.
// The cron loop in cmd/calgrid calls this so interactive requests mostly
// hit a warm cache.
func (s *Server) RefreshFeeds(ctx context.Context) {
	events := s.fetchEvents(ctx, s.cfg.Location())

	s.feedMu.Lock()
	s.feedCache = &feedCache{events: events, updatedAt: time.Now()}
	s.feedMu.Unlock()
}

// loadEvents returns the normalized feed events, reusing the cache while it
// is fresh.
func (s *Server) loadEvents(ctx context.Context, loc *time.Location) []model.CalendarEvent {
	now := time.Now()

	s.feedMu.RLock()
	fc := s.feedCache
	s.feedMu.RUnlock()
	if fc != nil && now.Sub(fc.updatedAt) < feedCacheTTL {
		return fc.events
	}

	events := s.fetchEvents(ctx, loc)

	s.feedMu.Lock()
	s.feedCache = &feedCache{events: events, updatedAt: time.Now()}
	s.feedMu.Unlock()

	return events
}

// fetchEvents runs the fetch -> parse -> normalize pipeline over all
// configured feeds. Individual feed failures are logged and skipped so one
// broken subscription never blanks the whole calendar.
func (s *Server) fetchEvents(ctx context.Context, loc *time.Location) []model.CalendarEvent {
	sources := make([]ics.Source, 0, len(s.cfg.Feeds))
	for _, feed := range s.cfg.Feeds {
		if feed.URL == "" {
			continue
		}
		id := feed.ID
		if id == "" {
			if feed.Name != "" {
				id = feed.Name
			} else {
				id = feed.URL
			}
		}
		sources = append(sources, ics.Source{ID: id, URL: feed.URL})
	}

	if len(sources) == 0 {
		return []model.CalendarEvent{}
	}

	// Choose cache dir: prod vs debug.
	const defaultCacheDir = "/var/lib/calgrid/ics-cache"
	cacheDir := defaultCacheDir
	if s.debug {
		cacheDir = "./cache/ics-cache"
	}

	fetcher := ics.NewFetcher(cacheDir)
	results, fetchErrs := fetcher.FetchAll(ctx, sources)
	if len(fetchErrs) > 0 {
		appLog.Error("one or more feed fetches failed", errorsAggregate(fetchErrs), "error_count", len(fetchErrs))
	}

	records := make([]model.SourceRecord, 0)
	for _, res := range results {
		recs, err := ics.Parse(res.Source, res.Body)
		if err != nil {
			appLog.Error("feed parse failed for source", err, "id", res.Source.ID)
			continue
		}
		records = append(records, recs...)
	}

	return calendar.Normalize(records, loc)
}

// parseAnchor interprets an anchor query value as a date in loc. Empty
// means "today"; anything else must be YYYY-MM-DD.
func parseAnchor(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Now().In(loc), nil
	}
	return time.ParseInLocation("2006-01-02", v, loc)
}

// layoutOptsFromQuery maps the per_cluster query flag onto LayoutOptions.
func layoutOptsFromQuery(r *http.Request) calendar.LayoutOptions {
	return calendar.LayoutOptions{
		PerClusterColumns: r.URL.Query().Get("per_cluster") == "1",
	}
}

func toEventDTOs(events []model.CalendarEvent) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, eventDTO{
			ID:     ev.ID,
			Title:  ev.Title,
			Start:  ev.Start,
			End:    ev.End,
			AllDay: ev.AllDay,
			Color:  ev.Color,
			Raw:    ev.Raw,
		})
	}
	return out
}

func toPlacementDTOs(placements []calendar.Placement) []placementDTO {
	out := make([]placementDTO, 0, len(placements))
	for _, p := range placements {
		dto := toEventDTOs([]model.CalendarEvent{p.Event})
		out = append(out, placementDTO{
			Event:        dto[0],
			Column:       p.Column,
			TotalColumns: p.TotalColumns,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

func errorsAggregate(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var b strings.Builder
	for i, e := range errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.Error())
	}
	return errors.New(b.String())
}
