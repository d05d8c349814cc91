// Package api serves the scan registry, device control and renders over
// HTTP. Every handler that touches a session runs its work on the ingest
// dispatcher, the single goroutine that owns grids and meshes.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/scanmesh/internal/config"
	"github.com/banshee-data/scanmesh/internal/db"
	"github.com/banshee-data/scanmesh/internal/httputil"
	"github.com/banshee-data/scanmesh/internal/monitoring"
	"github.com/banshee-data/scanmesh/internal/render"
	"github.com/banshee-data/scanmesh/internal/scan"
	"github.com/banshee-data/scanmesh/internal/scan/device"
	"github.com/banshee-data/scanmesh/internal/scan/ingest"
	"github.com/banshee-data/scanmesh/internal/scan/session"
	"github.com/banshee-data/scanmesh/internal/security"
	"github.com/banshee-data/scanmesh/internal/serialmux"
	"github.com/banshee-data/scanmesh/internal/timeutil"
	"github.com/banshee-data/scanmesh/internal/version"
	"github.com/banshee-data/scanmesh/internal/visualiser"
)

// ANSI escape codes for the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Deps are the components the server fronts. Registry and Dispatcher are
// required; the rest may be nil and their endpoints answer 503.
type Deps struct {
	Registry   *session.Registry
	Dispatcher *ingest.Dispatcher
	Store      *db.ScanStore
	Device     *device.Controller
	Serial     *serialmux.Manager
	Ingestor   *ingest.Ingestor
	Publisher  *visualiser.Publisher
	Config     *config.ScannerConfig
	ExportDir  string
	// Clock drives the reported uptime; nil uses the system clock.
	Clock timeutil.Clock
}

type Server struct {
	Deps
	started time.Time
}

func NewServer(deps Deps) *Server {
	if deps.ExportDir == "" && deps.Config != nil {
		deps.ExportDir = deps.Config.GetExportDir()
	}
	deps.Clock = timeutil.OrReal(deps.Clock)
	return &Server{Deps: deps, started: deps.Clock.Now()}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/scans", s.handleScans)
	mux.HandleFunc("/api/scans/active", s.handleActive)
	mux.HandleFunc("/api/scans/offsets", s.handleOffsets)
	mux.HandleFunc("/api/scans/closed", s.handleClosed)
	mux.HandleFunc("/api/scans/reset", s.handleReset)
	mux.HandleFunc("/api/scans/name", s.handleName)
	mux.HandleFunc("/api/scans/mesh", s.handleMesh)
	mux.HandleFunc("/api/scans/save", s.handleSave)
	mux.HandleFunc("/api/scans/load", s.handleLoad)
	mux.HandleFunc("/api/scans/sets", s.handleSets)
	mux.HandleFunc("/api/scans/export", s.handleExport)
	mux.HandleFunc("/api/render/png", s.handleRenderPNG)
	mux.HandleFunc("/api/render/html", s.handleRenderHTML)
	mux.HandleFunc("/api/device/commands", s.handleDeviceCommands)
	mux.HandleFunc("/api/device/command", s.handleDeviceCommand)
	mux.HandleFunc("/api/device/raw", s.handleDeviceRaw)
	mux.HandleFunc("/api/device/status", s.handleDeviceStatus)
	mux.HandleFunc("/api/serial/ports", s.handleSerialPorts)
	mux.HandleFunc("/api/serial/config", s.handleSerialConfig)
	mux.HandleFunc("/api/serial/reload", s.handleSerialReload)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/config", s.handleConfig)
	return mux
}

var (
	errInvalidRequest = errors.New("invalid request")
	errNoStore        = errors.New("persistence disabled")
	errNoDevice       = errors.New("device control disabled")
	errNoSerial       = errors.New("serial management disabled")
)

// do runs fn on the dispatcher.
func (s *Server) do(ctx context.Context, fn func() error) error {
	return s.Dispatcher.Do(ctx, fn)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var idx *scan.IndexError
	switch {
	case errors.As(err, &idx),
		errors.Is(err, scan.ErrNonFinite),
		errors.Is(err, scan.ErrInvalidRange),
		errors.Is(err, device.ErrUnknownCommand),
		errors.Is(err, device.ErrBadArgument),
		errors.Is(err, device.ErrInvalidRaw),
		errors.Is(err, render.ErrUnknownProjection),
		errors.Is(err, security.ErrPathTraversal),
		errors.Is(err, errInvalidRequest):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, session.ErrPrecondition):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, db.ErrScanSetNotFound),
		errors.Is(err, render.ErrNothingToRender):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, ingest.ErrDispatcherStopped),
		errors.Is(err, serialmux.ErrDisabled),
		errors.Is(err, serialmux.ErrUnavailable),
		errors.Is(err, serialmux.ErrManagerClosed),
		errors.Is(err, errNoStore),
		errors.Is(err, errNoDevice),
		errors.Is(err, errNoSerial),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

// StatsResponse aggregates every counter the process keeps.
type StatsResponse struct {
	Version    string                     `json:"version"`
	UptimeSecs float64                    `json:"uptime_secs"`
	Sessions   int                        `json:"sessions"`
	Active     int                        `json:"active"`
	Dispatcher ingest.DispatcherStats     `json:"dispatcher"`
	Ingest     *ingest.IngestStats        `json:"ingest,omitempty"`
	Visualiser *visualiser.PublisherStats `json:"visualiser,omitempty"`
	Device     *device.Status             `json:"device,omitempty"`
	Serial     *serialmux.PortConfig      `json:"serial,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := StatsResponse{
		Version:    version.String(),
		UptimeSecs: s.Clock.Since(s.started).Seconds(),
	}
	if err := s.do(r.Context(), func() error {
		resp.Sessions = s.Registry.Len()
		resp.Active = s.Registry.Active()
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	resp.Dispatcher = s.Dispatcher.Stats()
	if s.Ingestor != nil {
		st := s.Ingestor.Stats()
		resp.Ingest = &st
	}
	if s.Publisher != nil {
		st := s.Publisher.Stats()
		resp.Visualiser = &st
	}
	if s.Device != nil {
		st := s.Device.Status()
		resp.Device = &st
	}
	if s.Serial != nil {
		cfg := s.Serial.Config()
		resp.Serial = &cfg
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.Config == nil {
		httputil.ServiceUnavailable(w, "config not loaded")
		return
	}
	httputil.WriteJSONOK(w, s.Config)
}
