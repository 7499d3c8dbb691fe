// Package dashboard serves the fill test page and its control API.
//
// Routes:
//   - GET /: the dashboard page
//   - GET /api/status: the current panel snapshot as JSON
//   - GET /api/sse: panel snapshots as Server-Sent Events
//   - POST /api/start, /api/stop, /api/resume: control actions
//   - GET /metrics, /health: when an Observability is attached
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gezibash/quotafill/internal/observability"
	"github.com/gezibash/quotafill/internal/report"
)

const (
	// sseWriteTimeout bounds a single SSE write so a stalled client
	// cannot pin its handler goroutine.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	defaultTitle     = "Storage Quota Test"
	titlePlaceholder = "{{.Title}}"
)

// Controller is the session the control API drives.
type Controller interface {
	Start(ctx context.Context) bool
	Stop(ctx context.Context)
	Resume(ctx context.Context) bool
}

// Config configures a Server.
type Config struct {
	Controller Controller
	Panel      *report.Panel
	Title      string
	Assets     fs.FS // defaults to Assets

	// Obs, when set, mounts /metrics and /health and instruments requests.
	Obs    *observability.Observability
	Logger *slog.Logger
}

// Server handles HTTP requests for the dashboard and control API.
type Server struct {
	ctrl    Controller
	panel   *report.Panel
	title   string
	assets  fs.FS
	obs     *observability.Observability
	logger  *slog.Logger
	handler http.Handler
}

// New creates a Server. It does not listen until Serve is called.
func New(cfg Config) *Server {
	s := &Server{
		ctrl:   cfg.Controller,
		panel:  cfg.Panel,
		title:  cfg.Title,
		assets: cfg.Assets,
		obs:    cfg.Obs,
		logger: cfg.Logger,
	}
	if s.assets == nil {
		s.assets = Assets
	}
	if s.title == "" {
		s.title = defaultTitle
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/sse", s.handleSSE)
	mux.HandleFunc("POST /api/start", s.handleAction(actionStart))
	mux.HandleFunc("POST /api/stop", s.handleAction(actionStop))
	mux.HandleFunc("POST /api/resume", s.handleAction(actionResume))

	var metrics *observability.Metrics
	if s.obs != nil {
		s.obs.Mount(mux)
		metrics = s.obs.Metrics
	}
	s.handler = observability.HTTPMiddleware(metrics, mux)
	return s
}

// Handler returns the instrumented route handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on addr and serves until ctx is cancelled, then shuts
// down gracefully. Request contexts derive from ctx, so SSE streams end
// on shutdown.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "dashboard listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(s.title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(rendered)); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to write dashboard response", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.panel.Snapshot())
}

type action int

const (
	actionStart action = iota
	actionStop
	actionResume
)

// actionResponse reports whether the action changed anything, with the
// snapshot taken right after it.
type actionResponse struct {
	Accepted bool            `json:"accepted"`
	Status   report.Snapshot `json:"status"`
}

func (s *Server) handleAction(a action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithoutCancel(r.Context())
		accepted := true
		switch a {
		case actionStart:
			accepted = s.ctrl.Start(ctx)
		case actionStop:
			s.ctrl.Stop(ctx)
		case actionResume:
			accepted = s.ctrl.Resume(ctx)
		}
		s.writeJSON(w, r, http.StatusOK, actionResponse{Accepted: accepted, Status: s.panel.Snapshot()})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// handleSSE streams panel snapshots. Writes carry a deadline so a slow
// or vanished client ends the handler instead of blocking it.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(snap report.Snapshot) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.WarnContext(r.Context(), "sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.panel.Subscribe()
	defer unsubscribe()

	if err := writeAndFlush(s.panel.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case snap := <-ch:
			if err := writeAndFlush(snap); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
