package livereload

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/LiamSnow/liamsnow.com/internal/logging"
)

// DefaultMaxClients bounds concurrent live-reload connections.
const DefaultMaxClients = 64

// Server exposes a Hub on its own listener.
type Server struct {
	hub        *Hub
	maxClients int
	logger     logging.Logger
}

// NewServer creates a live-reload server. maxClients <= 0 uses
// DefaultMaxClients.
func NewServer(hub *Hub, maxClients int, logger logging.Logger) *Server {
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Server{
		hub:        hub,
		maxClients: maxClients,
		logger:     logger.WithComponent("livereload"),
	}
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts WebSocket upgrades on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("GET /", s.hub)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Live reload listening", "addr", ln.Addr().String(), "max_clients", s.maxClients)

	err := srv.Serve(netutil.LimitListener(ln, s.maxClients))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
