package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"easybook/internal/booking"
	"easybook/internal/config"
	"easybook/internal/ics"
	appLog "easybook/internal/log"
	"easybook/internal/model"
	"easybook/internal/report"
	"easybook/internal/store"
)

const calendarName = "施設予約"

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	LoadID   string               `json:"load_id"`
	Source   string               `json:"source"`
	Encoding string               `json:"encoding"`
	LoadedAt *time.Time           `json:"loaded_at,omitempty"`
	Events   []model.BookingEvent `json:"events"`
}

type resourceDTO struct {
	ID         string   `json:"id"`
	Color      string   `json:"color"`
	Tint       string   `json:"tint"`
	TimeColumn string   `json:"time_column,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Configured bool     `json:"configured"`
	Events     int      `json:"events"`
}

type dateDTO struct {
	Date  string `json:"date"`
	Label string `json:"label"`
}

type weekDTO struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Title  string `json:"title"`
	Events int    `json:"events"`
}

type statsDTO struct {
	Rows         int `json:"rows"`
	RowsSkipped  int `json:"rows_skipped"`
	Rooms        int `json:"rooms"`
	RoomsSkipped int `json:"rooms_skipped"`
	Segments     int `json:"segments_rejected"`
	Unresolved   int `json:"unresolved_rooms"`
	UnknownNames int `json:"unknown_names"`
	Events       int `json:"events"`
}

type skipDTO struct {
	Row     int    `json:"row"`
	Room    string `json:"room,omitempty"`
	Segment string `json:"segment,omitempty"`
	Reason  string `json:"reason"`
}

type skipsResponse struct {
	Stats    statsDTO       `json:"stats"`
	ByReason map[string]int `json:"by_reason"`
	Skips    []skipDTO      `json:"skips"`
}

type uploadResponse struct {
	LoadID   string   `json:"load_id"`
	Source   string   `json:"source"`
	Encoding string   `json:"encoding"`
	Events   int      `json:"events"`
	Skipped  int      `json:"skipped"`
	Weeks    int      `json:"weeks"`
	Stats    statsDTO `json:"stats"`
}

func toStatsDTO(st booking.Stats) statsDTO {
	return statsDTO{
		Rows:         st.Rows,
		RowsSkipped:  st.RowsSkipped,
		Rooms:        st.Rooms,
		RoomsSkipped: st.RoomsSkipped,
		Segments:     st.Segments,
		Unresolved:   st.Unresolved,
		UnknownNames: st.UnknownNames,
		Events:       st.Events,
	}
}

// handleEvents returns the current events.
//
// GET /api/events?resource=ID&date=YYYY-MM-DD
//   - resource: only events for that resource id
//   - date:     only events on that day
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap := s.store.Current()
	q := r.URL.Query()
	resource := q.Get("resource")
	var day time.Time
	if v := q.Get("date"); v != "" {
		d, ok := booking.ParseDate(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
		day = d
	}

	events := make([]model.BookingEvent, 0, len(snap.Events()))
	for _, ev := range snap.Events() {
		if resource != "" && ev.ResourceID != resource {
			continue
		}
		if !day.IsZero() {
			d, ok := booking.ParseDate(ev.Date)
			if !ok || !d.Equal(day) {
				continue
			}
		}
		events = append(events, ev)
	}

	resp := eventsResponse{
		LoadID:   snap.LoadID,
		Source:   snap.Source,
		Encoding: snap.Encoding,
		Events:   events,
	}
	if snap.Loaded() {
		t := snap.LoadedAt
		resp.LoadedAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResources(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap := s.store.Current()
	counts := make(map[string]int)
	for _, ev := range snap.Events() {
		counts[ev.ResourceID]++
	}
	rules := make(map[string]booking.FacilityRule, len(snap.Mapping.Facilities))
	for _, f := range snap.Mapping.Facilities {
		rules[f.ID] = f
	}

	ids := report.Resources(snap.Events(), snap.Mapping)
	out := make([]resourceDTO, 0, len(ids))
	for _, id := range ids {
		color := snap.Colors.Lookup(id, snap.Mapping.DefaultColor)
		dto := resourceDTO{ID: id, Color: color, Tint: report.Tint(color), Events: counts[id]}
		if f, ok := rules[id]; ok {
			dto.Configured = true
			dto.TimeColumn = f.TimeColumn
			dto.Keywords = f.Keywords
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDates(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap := s.store.Current()
	dates := booking.PlanDatesAt(snap.Events(), s.now().In(s.loc))
	out := make([]dateDTO, 0, len(dates))
	for _, d := range dates {
		out = append(out, dateDTO{Date: booking.FormatDate(d), Label: report.DisplayDate(d)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWeeks(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap := s.store.Current()
	out := make([]weekDTO, 0, len(snap.Weeks))
	for _, wk := range snap.Weeks {
		out = append(out, weekDTO{
			Start:  booking.FormatDate(wk.Start),
			End:    booking.FormatDate(wk.End),
			Title:  report.WeekTitle(wk),
			Events: len(wk.Events),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSkips(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap := s.store.Current()
	resp := skipsResponse{
		Stats:    toStatsDTO(snap.Result.Stats),
		ByReason: make(map[string]int),
		Skips:    make([]skipDTO, 0, len(snap.Result.Skips)),
	}
	for reason, n := range snap.Result.SkipsByReason() {
		resp.ByReason[string(reason)] = n
	}
	for _, sk := range snap.Result.Skips {
		resp.Skips = append(resp.Skips, skipDTO{Row: sk.Row, Room: sk.Room, Segment: sk.Segment, Reason: string(sk.Reason)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpload loads an export from a multipart form. When several files
// are sent in the "file" field the last part wins.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, `missing "file" field`)
		return
	}
	if len(files) > 1 {
		appLog.Info("multiple files uploaded; using the last one", "count", len(files))
	}
	fh := files[len(files)-1]

	f, err := fh.Open()
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read upload")
		return
	}
	defer f.Close()

	s.cfgMu.Lock()
	enc := s.cfg.InputEncoding
	s.cfgMu.Unlock()

	snap, err := s.store.LoadReader(f, fh.Filename, enc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		LoadID:   snap.LoadID,
		Source:   snap.Source,
		Encoding: snap.Encoding,
		Events:   len(snap.Events()),
		Skipped:  len(snap.Result.Skips),
		Weeks:    len(snap.Weeks),
		Stats:    toStatsDTO(snap.Result.Stats),
	})
}

func (s *Server) handleGetMapping(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.store.Current().Mapping)
}

// handlePutMapping replaces the mapping, re-synthesizes the last load and
// persists the configuration.
func (s *Server) handlePutMapping(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var m booking.Mapping
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid mapping JSON")
		return
	}

	snap, err := s.store.SetMapping(m)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.cfgMu.Lock()
	s.cfg.Mapping = snap.Mapping.Clone()
	var saveErr error
	if s.configPath != "" {
		saveErr = config.Save(s.configPath, s.cfg)
	}
	s.cfgMu.Unlock()
	if saveErr != nil {
		appLog.Error("mapping applied but config not saved", saveErr, "path", s.configPath)
		writeError(w, http.StatusInternalServerError, "mapping applied but could not be saved")
		return
	}

	writeJSON(w, http.StatusOK, snap.Mapping)
}

func (s *Server) handleTimeline(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap := s.store.Current()
	page := report.TimelinePage{
		Source:   snap.Source,
		Encoding: snap.Encoding,
		LoadedAt: snap.LoadedAt.In(s.loc),
		Stats:    snap.Result.Stats,
		Skipped:  len(snap.Result.Skips),
		Grid:     report.Timeline(snap.Events(), snap.Mapping, snap.Colors, s.now().In(s.loc)),
		Weeks:    report.WeekLinks(snap.Weeks),
	}
	var buf bytes.Buffer
	if err := report.RenderTimeline(&buf, page); err != nil {
		appLog.Error("timeline render failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleWeekPage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	start, ok := booking.ParseDate(ps.ByName("start"))
	if !ok {
		http.Error(w, "invalid week start", http.StatusBadRequest)
		return
	}
	snap := s.store.Current()
	wk, ok := booking.FindWeek(snap.Weeks, start)
	if !ok {
		http.NotFound(w, r)
		return
	}
	html, err := report.WeekHTML(wk, s.reportOptions(snap))
	if err != nil {
		appLog.Error("week render failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html)
}

func (s *Server) handleWeeklyPDF(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap, err := s.loaded()
	if err != nil {
		s.exportError(w, err)
		return
	}
	if s.raster == nil {
		writeError(w, http.StatusServiceUnavailable, "PDF export is not available")
		return
	}

	s.pdfMu.Lock()
	pc := s.pdfCache
	s.pdfMu.Unlock()

	var body []byte
	if pc != nil && pc.loadID == snap.LoadID {
		body = pc.body
	} else {
		var buf bytes.Buffer
		if err := report.WeeklyPDF(r.Context(), &buf, snap.Weeks, s.reportOptions(snap), s.raster); err != nil {
			s.exportError(w, err)
			return
		}
		body = buf.Bytes()
		s.pdfMu.Lock()
		s.pdfCache = &pdfCache{loadID: snap.LoadID, body: body}
		s.pdfMu.Unlock()
	}

	attachment(w, "application/pdf", report.PDFFilename(s.now().In(s.loc)))
	_, _ = w.Write(body)
}

func (s *Server) handleWeeklyXLSX(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap, err := s.loaded()
	if err != nil {
		s.exportError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WeeklyXLSX(&buf, snap.Weeks, s.reportOptions(snap)); err != nil {
		s.exportError(w, err)
		return
	}
	attachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", report.XLSXFilename(s.now().In(s.loc)))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleEventsCSV(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap, err := s.loaded()
	if err != nil {
		s.exportError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, snap.Events()); err != nil {
		s.exportError(w, err)
		return
	}
	attachment(w, "text/csv; charset=utf-8", "events.csv")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleEventsJSON(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	snap, err := s.loaded()
	if err != nil {
		s.exportError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteJSON(&buf, snap.Events()); err != nil {
		s.exportError(w, err)
		return
	}
	attachment(w, "application/json; charset=utf-8", "events.json")
	_, _ = w.Write(buf.Bytes())
}

// handleICS serves the current events as a subscribable calendar. Before
// the first load it serves an empty calendar.
func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	res := ics.Build(s.store.Current().Events(), s.loc, calendarName)
	if res.Skipped > 0 {
		appLog.Debug("calendar feed skipped events", "skipped", res.Skipped)
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	_, _ = w.Write([]byte(res.Body))
}

func (s *Server) exportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNoSnapshot), errors.Is(err, report.ErrNoWeeks):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		appLog.Error("export failed", err)
		writeError(w, http.StatusInternalServerError, "export failed")
	}
}
