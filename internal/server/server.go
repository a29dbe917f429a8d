// Package server is the HTTP surface: health, engine status and reset,
// websocket audio ingestion, the event stream and the MCP endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/voice-agent-lab/internal/logging"
	"github.com/voice-agent-lab/internal/voice"
)

// Controller is the engine as seen from HTTP.
type Controller interface {
	Status(ctx context.Context) (voice.Status, error)
	Reset(ctx context.Context) error
}

// Config wires optional handlers. A nil handler leaves its route unmounted.
type Config struct {
	Addr    string
	Version string
	Audio   http.Handler
	MCP     http.Handler
	// RequestTimeout bounds /status and /reset.
	RequestTimeout time.Duration
}

type Server struct {
	cfg    Config
	ctl    Controller
	hub    *Hub
	router chi.Router
	start  time.Time
}

func New(cfg Config, ctl Controller, hub *Hub) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{cfg: cfg, ctl: ctl, hub: hub, start: time.Now()}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(s.cfg.RequestTimeout))
		r.Get("/status", s.handleStatus)
		r.Post("/reset", s.handleReset)
	})
	r.Get("/ws/events", s.hub.ServeHTTP)
	if s.cfg.Audio != nil {
		r.Get("/ws/audio", s.cfg.Audio.ServeHTTP)
	}
	if s.cfg.MCP != nil {
		r.Get("/mcp/ws", s.cfg.MCP.ServeHTTP)
	}
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Uptime    string `json:"uptime"`
	Degraded  bool   `json:"degraded"`
	Listeners int    `json:"event_listeners"`
}

// handleHealth answers 200 while the engine responds, 503 otherwise. A
// degraded decoder is reported but still healthy: the process is up and
// recovers by itself.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	resp := healthResponse{
		Status:    "ok",
		Version:   s.cfg.Version,
		Uptime:    time.Since(s.start).Round(time.Second).String(),
		Listeners: s.hub.Clients(),
	}
	st, err := s.ctl.Status(ctx)
	if err != nil {
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Degraded = st.Degraded
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctl.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	logging.Infow("http: engine reset", "remote", r.RemoteAddr, "request_id", chimw.GetReqID(r.Context()))
	st, err := s.ctl.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, voice.ErrEngineClosed), errors.Is(err, voice.ErrNotStarted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Run serves until ctx is cancelled, then shuts down gracefully and
// disconnects event subscribers.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logging.Infow("http: listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
