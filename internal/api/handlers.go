// Package api provides the HTTP surface of Beacon: submission intake, the
// snooze control and read-only views of hosts, timelines and alerts.
package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/darshan-rambhia/beacon/docs/swagger"
	"github.com/darshan-rambhia/beacon/internal/cache"
	"github.com/darshan-rambhia/beacon/internal/config"
	"github.com/darshan-rambhia/beacon/internal/flusher"
	"github.com/darshan-rambhia/beacon/internal/model"
	"github.com/darshan-rambhia/beacon/internal/store"
	"github.com/darshan-rambhia/beacon/internal/submit"
	"github.com/darshan-rambhia/beacon/internal/timeline"
	"github.com/darshan-rambhia/beacon/templates"
)

const maxBodyBytes = 1 << 20

// Options configures the HTTP server.
type Options struct {
	Addr      string
	SecretKey string
	Systems   []model.Resolution
}

// Server is the HTTP server for Beacon.
type Server struct {
	proc      *submit.Processor
	cache     *cache.Cache
	store     store.Storage
	timelines *timeline.Aggregator
	systems   map[string]model.Resolution
	secretKey string
	mux       *http.ServeMux
	server    *http.Server
	now       func() time.Time
}

// NewServer creates a new HTTP server.
func NewServer(opts Options, proc *submit.Processor, c *cache.Cache, s store.Storage) *Server {
	systems := make(map[string]model.Resolution, len(opts.Systems))
	for _, sys := range opts.Systems {
		systems[sys.ID] = sys
	}
	srv := &Server{
		proc:      proc,
		cache:     c,
		store:     s,
		timelines: timeline.New(s, 0),
		systems:   systems,
		secretKey: opts.SecretKey,
		mux:       http.NewServeMux(),
		now:       time.Now,
	}

	srv.registerRoutes()

	srv.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      SecurityHeadersMiddleware(LoggingMiddleware(RecoveryMiddleware(srv.mux))),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("HTTP server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	// Client API
	s.mux.HandleFunc("POST /api/app/submit/v1", s.handleSubmit)
	s.mux.HandleFunc("POST /api/app/snooze/v1", s.handleSnooze)

	// Read API (JSON)
	s.mux.HandleFunc("GET /api/app/hosts/{hostname}", s.handleHost)
	s.mux.HandleFunc("GET /api/app/timeline/{system}/{hostname}", s.handleTimeline)
	s.mux.HandleFunc("GET /api/app/alerts", s.handleAlerts)

	// Host status page
	s.mux.HandleFunc("GET /hosts/{hostname}", s.handleHostPage)

	// Health check and self-metrics
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Swagger UI
	s.mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}

// renderHTML renders a templ component to a buffer first, then writes the
// buffer to the response. This ensures rendering errors can be returned as a
// proper 500 before any bytes reach the client.
func renderHTML(w http.ResponseWriter, r *http.Request, component templ.Component) {
	var buf bytes.Buffer
	if err := component.Render(r.Context(), &buf); err != nil {
		slog.Error("rendering component", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		// Client disconnected after headers sent.
		slog.Debug("writing HTML response", "path", r.URL.Path, "error", err)
	}
}

// writeJSON marshals v to JSON into a buffer first, then writes it to the
// response. This ensures marshalling errors can be returned as a proper 500.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding JSON response", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("writing JSON response", "path", r.URL.Path, "error", err)
	}
}

// apiResponse is the envelope returned by the client API. Code is 0 on
// success and a short error kind otherwise.
type apiResponse struct {
	Code        any    `json:"code"`
	Description string `json:"description,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, description string) {
	writeJSON(w, r, status, apiResponse{Code: code, Description: description})
}

// @Summary Submit metrics
// @Description Accepts one metric report from a host. Processing happens asynchronously after the response.
// @Accept json
// @Produce json
// @Param submission body model.SubmitRequest true "Submission"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Failure 503 {object} apiResponse
// @Router /api/app/submit/v1 [post]
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "submit", "malformed request body: "+err.Error())
		return
	}

	if _, err := s.proc.Accept(req, clientIP(r)); err != nil {
		if errors.Is(err, submit.ErrValidation) {
			writeError(w, r, http.StatusBadRequest, "submit", err.Error())
			return
		}
		slog.Error("accepting submission", "hostname", req.Hostname, "error", err)
		writeError(w, r, http.StatusServiceUnavailable, "submit", err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{Code: 0})
}

type snoozeRequest struct {
	Duration string `json:"duration"`
}

type snoozeResponse struct {
	Code        int   `json:"code"`
	SnoozeUntil int64 `json:"snooze_until"`
}

// @Summary Snooze alert notifications
// @Description Suppresses alert notifications for the given duration. A zero duration clears the window.
// @Accept json
// @Produce json
// @Param X-Beacon-Key header string false "Shared secret key"
// @Param snooze body snoozeRequest true "Snooze duration"
// @Success 200 {object} snoozeResponse
// @Failure 400 {object} apiResponse
// @Failure 403 {object} apiResponse
// @Router /api/app/snooze/v1 [post]
func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, r, http.StatusForbidden, "auth", "invalid or missing key")
		return
	}

	var req snoozeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "snooze", "malformed request body: "+err.Error())
		return
	}
	d, err := config.ParseDuration(req.Duration)
	if err != nil || d < 0 {
		writeError(w, r, http.StatusBadRequest, "snooze", "invalid duration: "+req.Duration)
		return
	}

	var until time.Time
	if d > 0 {
		until = s.now().Add(d)
		slog.Info("alert notifications snoozed", "until", until, "duration", d)
	} else {
		slog.Info("alert snooze cleared")
	}
	s.cache.Snooze(until)

	resp := snoozeResponse{}
	if !until.IsZero() {
		resp.SnoozeUntil = until.Unix()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// @Summary Host record
// @Description Returns the last persisted state of a host
// @Produce json
// @Param hostname path string true "Hostname"
// @Success 200 {object} model.HostRecord
// @Failure 404 {object} apiResponse
// @Router /api/app/hosts/{hostname} [get]
func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// @Summary Host status page
// @Description HTML summary of a host's last submission and active alerts
// @Produce html
// @Param hostname path string true "Hostname"
// @Success 200 {string} string "HTML page"
// @Failure 404 {object} apiResponse
// @Router /hosts/{hostname} [get]
func (s *Server) handleHostPage(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	renderHTML(w, r, templates.HostPage(rec))
}

func (s *Server) loadRecord(w http.ResponseWriter, r *http.Request) (*model.HostRecord, bool) {
	hostname := r.PathValue("hostname")
	rec, err := s.proc.Record(r.Context(), hostname)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "host", "unknown host: "+hostname)
		return nil, false
	}
	if err != nil {
		slog.Error("loading host record", "hostname", hostname, "error", err)
		writeError(w, r, http.StatusInternalServerError, "host", "Internal Server Error")
		return nil, false
	}
	return rec, true
}

// @Summary Host timeline
// @Description Returns the timeline buckets of a host for one resolution and date
// @Produce json
// @Param system path string true "Resolution id"
// @Param hostname path string true "Hostname"
// @Param date query int false "Unix timestamp inside the wanted list (default now)"
// @Param group query string false "Explicit group the host submits under"
// @Success 200 {array} model.Bucket
// @Failure 400 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/app/timeline/{system}/{hostname} [get]
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	sys, ok := s.systems[r.PathValue("system")]
	if !ok {
		writeError(w, r, http.StatusNotFound, "timeline", "unknown system: "+r.PathValue("system"))
		return
	}

	date := s.now().Unix()
	if v := r.URL.Query().Get("date"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "timeline", "invalid date: "+v)
			return
		}
		date = n
	}

	group := submit.Normalize(r.URL.Query().Get("group"))
	sub := &model.Submission{
		Hostname:    submit.Normalize(r.PathValue("hostname")),
		Group:       group,
		CustomGroup: group != "",
		Date:        date,
	}
	buckets, err := s.timelines.Buckets(r.Context(), timeline.HostKey(sys, sub))
	if err != nil {
		slog.Error("reading timeline", "system", sys.ID, "hostname", sub.Hostname, "error", err)
		writeError(w, r, http.StatusInternalServerError, "timeline", "Internal Server Error")
		return
	}
	if buckets == nil {
		buckets = []model.Bucket{}
	}
	writeJSON(w, r, http.StatusOK, buckets)
}

// @Summary Active alerts
// @Description Returns the active alerts of every host, combining the last flushed snapshot with unflushed updates
// @Produce json
// @Success 200 {object} map[string]map[string]model.ActiveAlert
// @Router /api/app/alerts [get]
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	current, err := flusher.CurrentAlerts(r.Context(), s.store)
	if err != nil {
		slog.Error("reading alert snapshot", "error", err)
		writeError(w, r, http.StatusInternalServerError, "alerts", "Internal Server Error")
		return
	}
	maps.Copy(current, s.cache.Snapshot().Alerts)
	writeJSON(w, r, http.StatusOK, current)
}

// @Summary Health check
// @Description Returns service health, the last flush time and the snooze window
// @Produce json
// @Success 200 {object} map[string]interface{} "Health status"
// @Router /healthz [get]
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Snapshot()
	resp := map[string]any{
		"status":    "ok",
		"timestamp": s.now().Unix(),
		"snoozed":   s.cache.Snoozed(s.now()),
	}
	if !snap.LastFlush.IsZero() {
		resp["last_flush"] = snap.LastFlush.Unix()
	}
	if !snap.SnoozeUntil.IsZero() {
		resp["snooze_until"] = snap.SnoozeUntil.Unix()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.secretKey == "" {
		return true
	}
	key := r.Header.Get("X-Beacon-Key")
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.secretKey)) == 1
}

// clientIP returns the submitting address, preferring the first hop of
// X-Forwarded-For.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
