package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raysh454/pagewatch/internal/logging"
	"github.com/raysh454/pagewatch/internal/netlog"
	"github.com/raysh454/pagewatch/internal/session"
)

// statusPoll is how often a websocket checks whether the run has closed.
var statusPoll = 250 * time.Millisecond

// Source is the running session the live view reports on.
type Source interface {
	Status() session.Status
	Recorder() *netlog.Recorder
}

// Server is the read-only HTTP + WebSocket view of one session.
type Server struct {
	cfg      Config
	src      Source
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger

	quit     chan struct{}
	quitOnce sync.Once
}

// NewServer wires the routes for src.
func NewServer(cfg Config, src Source) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("Server")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	s := &Server{
		cfg:    cfg,
		src:    src,
		router: chi.NewRouter(),
		logger: logger,
		upgrader: websocket.Upgrader{
			// the view is read-only and bound to a local address
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/run", s.handleRun)
	r.Get("/events", s.handleEvents)
	r.Get("/ws/events", s.handleEventsWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}
	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}
	s.logger.Debug("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to serve the view.
func (s *Server) HTTPServer() *http.Server {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // allow streaming
	}
	srv.RegisterOnShutdown(s.stopStreams)
	return srv
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully. Open
// websockets are sent a close frame.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := s.HTTPServer()
	s.logger.Info("live view listening", logging.F("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve live view: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown live view: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve live view: %w", err)
	}
	s.logger.Info("live view stopped")
	return nil
}

func (s *Server) stopStreams() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- HTTP handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	data, err := netlog.MarshalEvents(s.src.Recorder().Events())
	if err != nil {
		s.logger.Warn("encoding events", logging.F("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// WebSockets

// handleEventsWS sends everything recorded so far, then each new event as
// it is observed. The socket is closed normally once the run is closed or
// the server shuts down.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.F("error", err.Error()))
		return
	}
	defer conn.Close()

	backlog, events, cancel := s.src.Recorder().Subscribe(s.cfg.EventBuffer)
	defer cancel()

	for _, ev := range backlog {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	// reads are only needed to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusPoll)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if s.src.Status().State != session.StateClosed {
				continue
			}
			if drain(conn, events) != nil {
				return
			}
			closeWS(conn, "run finished")
			return
		case <-s.quit:
			closeWS(conn, "server shutting down")
			return
		case <-gone:
			return
		}
	}
}

// drain writes whatever is already buffered without waiting for more.
func drain(conn *websocket.Conn, events <-chan netlog.NetworkEvent) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := conn.WriteJSON(ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func closeWS(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
