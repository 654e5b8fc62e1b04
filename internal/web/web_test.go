package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easybook/internal/booking"
	"easybook/internal/config"
	"easybook/internal/store"
)

const exportCSV = "5:date,1:checkbox,7:checkbox,234:checkbox,244:lastname\n" +
	"2024-06-03,会議室(さくら),09:00～10:00;10:00～11:00,,山田\n" +
	"2024-06-12,テレワークルームA,,13:00～14:00,\n" +
	",会議室(さくら),09:00～10:00,,\n"

type fakeRasterizer struct{ calls int }

func (f *fakeRasterizer) Rasterize(context.Context, []byte) ([]byte, error) {
	f.calls++
	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		img.SetNRGBA(x, 0, color.NRGBA{A: 255})
	}
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	return buf.Bytes(), err
}

type fixture struct {
	srv    *Server
	h      http.Handler
	cfg    *config.Config
	path   string
	raster *fakeRasterizer
}

func newFixture(t *testing.T, tweak func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	if tweak != nil {
		tweak(cfg)
	}
	st, err := store.New(cfg.Mapping, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	raster := &fakeRasterizer{}
	srv := NewServer(cfg, path, st, raster)
	srv.now = func() time.Time { return time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC) }
	return &fixture{srv: srv, h: srv.Handler(), cfg: cfg, path: path, raster: raster}
}

func (f *fixture) do(t *testing.T, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, names ...string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range names {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(exportCSV))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return f.do(t, http.MethodPost, "/api/upload", body.Bytes(), http.Header{"Content-Type": {mw.FormDataContentType()}})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, nil).Code)

	rec := f.do(t, http.MethodGet, "/api/events", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBeforeFirstLoad(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/events", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[eventsResponse](t, rec)
	assert.Empty(t, resp.Events)
	assert.Nil(t, resp.LoadedAt)

	for _, path := range []string{"/export/events.csv", "/export/events.json", "/export/weekly.xlsx", "/export/weekly.pdf"} {
		rec := f.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, rec.Body.String(), store.ErrNoSnapshot.Error(), path)
	}

	rec = f.do(t, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "予約がありません")

	dates := decode[[]dateDTO](t, f.do(t, http.MethodGet, "/api/dates", nil, nil))
	require.Len(t, dates, 30)
	assert.Equal(t, "2024-06-01", dates[0].Date)
	assert.Equal(t, "6/1(土)", dates[0].Label)

	rec = f.do(t, http.MethodGet, "/calendar.ics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
	assert.NotContains(t, rec.Body.String(), "BEGIN:VEVENT")
}

func TestUploadAndQuery(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.upload(t, "old.csv", "new.csv")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	up := decode[uploadResponse](t, rec)
	assert.Equal(t, "new.csv", up.Source)
	assert.Equal(t, 2, up.Events)
	assert.Equal(t, 1, up.Skipped)
	assert.Equal(t, 2, up.Weeks)

	resp := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events", nil, nil))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, up.LoadID, resp.LoadID)
	assert.NotNil(t, resp.LoadedAt)
	assert.Equal(t, "09:00", resp.Events[0].StartTime)
	assert.Equal(t, "11:00", resp.Events[0].EndTime)
	assert.Equal(t, "山田", resp.Events[0].Title)

	resp = decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?resource=テレワークルームA", nil, nil))
	require.Len(t, resp.Events, 1)
	resp = decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?date=2024/6/3", nil, nil))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/events?date=tomorrow", nil, nil).Code)

	resources := decode[[]resourceDTO](t, f.do(t, http.MethodGet, "/api/resources", nil, nil))
	require.Len(t, resources, 4)
	assert.Equal(t, "会議室(さくら)", resources[0].ID)
	assert.Equal(t, 1, resources[0].Events)
	assert.True(t, resources[0].Configured)
	assert.Equal(t, "7:checkbox", resources[0].TimeColumn)

	weeks := decode[[]weekDTO](t, f.do(t, http.MethodGet, "/api/weeks", nil, nil))
	require.Len(t, weeks, 2)
	assert.Equal(t, "2024-06-02", weeks[0].Start)
	assert.Equal(t, "施設予約表 6/2 - 6/8", weeks[0].Title)

	skips := decode[skipsResponse](t, f.do(t, http.MethodGet, "/api/skips", nil, nil))
	assert.Equal(t, 3, skips.Stats.Rows)
	assert.Equal(t, 1, skips.ByReason["blank_date"])
	require.Len(t, skips.Skips, 1)
	assert.Equal(t, 2, skips.Skips[0].Row)
}

func TestUploadRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/upload", []byte("x"), http.Header{"Content-Type": {"text/plain"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "1"))
	require.NoError(t, mw.Close())
	rec = f.do(t, http.MethodPost, "/api/upload", body.Bytes(), http.Header{"Content-Type": {mw.FormDataContentType()}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing")
}

func TestUploadRateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.UploadRatePerMinute = 1 })

	assert.Equal(t, http.StatusOK, f.upload(t, "a.csv").Code)
	rec := f.upload(t, "b.csv")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	snap := f.srv.store.Current()
	assert.Equal(t, "a.csv", snap.Source)
}

func TestExports(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.upload(t, "export.csv").Code)

	rec := f.do(t, http.MethodGet, "/export/events.csv", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "events.csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "id,resourceId,title"))

	rec = f.do(t, http.MethodGet, "/export/events.json", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "2024-06-03T09:00:00", events[0]["start"])

	rec = f.do(t, http.MethodGet, "/export/weekly.xlsx", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = f.do(t, http.MethodGet, "/export/weekly.pdf", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
	assert.Equal(t, 2, f.raster.calls)

	// same load: served from cache
	rec = f.do(t, http.MethodGet, "/export/weekly.pdf", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, f.raster.calls)

	rec = f.do(t, http.MethodGet, "/calendar.ics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "BEGIN:VEVENT"))
}

func TestPDFUnavailableWithoutRasterizer(t *testing.T) {
	cfg := config.DefaultConfig()
	st, err := store.New(cfg.Mapping, nil)
	require.NoError(t, err)
	srv := NewServer(cfg, "", st, nil)
	_, err = st.LoadReader(strings.NewReader(exportCSV), "x.csv", config.EncodingAuto)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export/weekly.pdf", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPages(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.upload(t, "export.csv").Code)

	rec := f.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "6/3(月)")
	assert.Contains(t, rec.Body.String(), "export.csv")

	rec = f.do(t, http.MethodGet, "/report/week/2024-06-02", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-ready="true"`)
	assert.Contains(t, rec.Body.String(), "施設予約表 6/2 - 6/8")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/report/week/2024-01-07", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/report/week/someday", nil, nil).Code)
}

func TestMappingRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.upload(t, "export.csv").Code)

	m := decode[booking.Mapping](t, f.do(t, http.MethodGet, "/api/mapping", nil, nil))
	require.Len(t, m.Facilities, 4)

	m.Facilities[0].ID = "さくら会議室"
	body, err := json.Marshal(m)
	require.NoError(t, err)
	rec := f.do(t, http.MethodPut, "/api/mapping", body, http.Header{"Content-Type": {"application/json"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events", nil, nil))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "さくら会議室", resp.Events[0].ResourceID)

	saved, err := config.Load(f.path)
	require.NoError(t, err)
	assert.Equal(t, "さくら会議室", saved.Mapping.Facilities[0].ID)

	m.Facilities[1].ID = "さくら会議室"
	body, err = json.Marshal(m)
	require.NoError(t, err)
	rec = f.do(t, http.MethodPut, "/api/mapping", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/mapping", []byte(`{"bogus": 1}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.CORSOrigins = []string{"https://intranet.example"} })

	rec := f.do(t, http.MethodGet, "/api/weeks", nil, http.Header{"Origin": {"https://intranet.example"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://intranet.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(t, http.MethodGet, "/api/weeks", nil, http.Header{"Origin": {"https://elsewhere.example"}})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUploadLimiterForgetsIdleClients(t *testing.T) {
	l := newUploadLimiter(1)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))

	now = now.Add(visitorTTL + time.Second)
	assert.True(t, l.allow("10.0.0.1"))
	assert.Len(t, l.visitors, 1)
}
