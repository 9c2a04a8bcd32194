package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BioHazard786/duet/internal/discovery"
	"github.com/BioHazard786/duet/internal/signaling"
	"github.com/BioHazard786/duet/internal/transport"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Advertise publishes the server over mDNS as instance name Instance.
	Advertise bool
	Instance  string

	Logger *slog.Logger
}

// Server serves the websocket endpoint at /ws and a health check at /health.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	opts     Options
	log      *slog.Logger
}

// NewServer creates a server with its own hub. The hub starts with Run.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Instance == "" {
		opts.Instance = "duet-relay"
	}
	return &Server{
		hub:  NewHub(logger),
		opts: opts,
		log:  logger.With("component", "relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,

			// Browser peers connect from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Hub exposes the server's hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP routes wrapped with permissive CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWs)
	mux.HandleFunc("/health", s.health)
	return cors.Default().Handler(mux)
}

// ServeWs upgrades the request and attaches the connection to the hub.
// The identity comes from the userid query parameter, or a fresh uuid.
func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("userid")
	if id == "" {
		id = uuid.NewString()
	}
	msgEvent := q.Get("msgEvent")
	if msgEvent == "" {
		msgEvent = signaling.DefaultMessageEvent
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade connection", "err", err)
		return
	}

	c := &Conn{
		ID:       id,
		MsgEvent: msgEvent,
		hub:      s.hub,
		ws:       ws,
		send:     make(chan *transport.Frame, sendBuffer),
	}
	if !s.hub.join(c) {
		ws.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
		Stats
	}{Status: "ok", Stats: s.hub.Stats()})
}

// ListenAndServe runs the hub and HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.hub.Run(ctx)

	if s.opts.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		ad, err := discovery.Advertise(s.opts.Instance, port, "/ws", s.log)
		if err != nil {
			s.log.Warn("mDNS advertisement unavailable", "err", err)
		} else {
			defer ad.Shutdown()
		}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("relay listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
