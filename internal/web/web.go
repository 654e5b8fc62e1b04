package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"easybook/internal/config"
	appLog "easybook/internal/log"
	"easybook/internal/report"
	"easybook/internal/store"
)

// maxUploadBytes bounds a multipart upload body.
const maxUploadBytes = 32 << 20

// Server exposes the current bookings as JSON, HTML pages and exports.
type Server struct {
	cfgMu      sync.Mutex
	cfg        *config.Config
	configPath string

	store  *store.Store
	raster report.Rasterizer
	loc    *time.Location
	router *httprouter.Router
	limit  *uploadLimiter
	now    func() time.Time

	// Weekly PDFs are slow to produce; keep the last one per load.
	pdfMu    sync.Mutex
	pdfCache *pdfCache
}

type pdfCache struct {
	loadID string
	body   []byte
}

// NewServer constructs a Server. configPath, if set, is where PUT
// /api/mapping persists the updated configuration. raster may be nil, in
// which case the weekly PDF export is unavailable.
func NewServer(cfg *config.Config, configPath string, st *store.Store, raster report.Rasterizer) *Server {
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		store:      st,
		raster:     raster,
		loc:        resolveLocationOrLocal(cfg.Timezone),
		router:     httprouter.New(),
		limit:      newUploadLimiter(cfg.UploadRatePerMinute),
		now:        time.Now,
	}
	s.registerRoutes()

	// any load makes the cached PDF stale
	st.OnLoad(func(*store.Snapshot) { s.invalidatePDF() })
	return s
}

// Handler returns the router wrapped in basic auth and CORS as configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	if len(s.cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}).Handler(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// empty username or password disables auth
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="easybook", charset="UTF-8"`)
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

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// PDF export waits on the browser
		WriteTimeout: time.Duration(s.cfg.Report.TimeoutSec)*time.Second*4 + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", s.handleHealth)

	r.GET("/api/events", s.handleEvents)
	r.GET("/api/resources", s.handleResources)
	r.GET("/api/dates", s.handleDates)
	r.GET("/api/weeks", s.handleWeeks)
	r.GET("/api/skips", s.handleSkips)
	r.POST("/api/upload", s.limit.Limit(s.handleUpload))
	r.GET("/api/mapping", s.handleGetMapping)
	r.PUT("/api/mapping", s.handlePutMapping)

	r.GET("/", s.handleTimeline)
	r.GET("/report/week/:start", s.handleWeekPage)

	r.GET("/export/weekly.pdf", s.handleWeeklyPDF)
	r.GET("/export/weekly.xlsx", s.handleWeeklyXLSX)
	r.GET("/export/events.csv", s.handleEventsCSV)
	r.GET("/export/events.json", s.handleEventsJSON)
	r.GET("/calendar.ics", s.handleICS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// loaded returns the current snapshot, or store.ErrNoSnapshot when no
// export has been loaded yet.
func (s *Server) loaded() (*store.Snapshot, error) {
	snap := s.store.Current()
	if !snap.Loaded() {
		return nil, store.ErrNoSnapshot
	}
	return snap, nil
}

func (s *Server) reportOptions(snap *store.Snapshot) report.Options {
	s.cfgMu.Lock()
	rc := s.cfg.Report
	s.cfgMu.Unlock()
	return report.Options{
		Mapping:    snap.Mapping,
		Colors:     snap.Colors,
		MaxPerCell: rc.MaxEventsPerCell,
		Width:      rc.Width,
	}
}

func (s *Server) invalidatePDF() {
	s.pdfMu.Lock()
	s.pdfCache = nil
	s.pdfMu.Unlock()
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// attachment sets download headers; mime encodes non-ASCII names.
func attachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
}
