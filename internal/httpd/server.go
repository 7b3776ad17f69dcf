// Package httpd is the HTTP/1.1 engine that serves the pre-built routes.
//
// A fixed pool of acceptor goroutines blocks on one shared listener. Each
// worker handles one connection at a time to completion with blocking reads
// and writes bounded by a timeout. The engine never formats a response: it
// picks one of the buffers stored in a route.Route or a fixed error constant.
package httpd

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/LiamSnow/liamsnow.com/internal/logging"
	"github.com/LiamSnow/liamsnow.com/internal/table"
)

const (
	// MaxHeaderSize bounds the per-connection buffer holding a request head.
	MaxHeaderSize = 16 * 1024
	// MaxBodySize bounds the only request body the server accepts (the webhook).
	MaxBodySize = 64 * 1024
	// DefaultTimeout bounds every blocking read and write.
	DefaultTimeout = 5 * time.Second
	// DefaultUpdatePath is where the self-update webhook is received.
	DefaultUpdatePath = "/_update"
	// SignatureHeader carries the webhook HMAC.
	SignatureHeader = "x-hub-signature-256"

	acceptBackoff = 10 * time.Millisecond

	// workers kept free for the watcher and update work
	reservedWorkers = 1
)

// Updater verifies and starts a self-update.
type Updater interface {
	Enabled() bool
	Verify(signature, body []byte) error
	// Trigger starts the update without blocking.
	Trigger()
}

// Config configures the engine.
type Config struct {
	Workers    int
	Timeout    time.Duration
	UpdatePath string
}

// Server serves routes from a table.Store.
type Server struct {
	store      *table.Store
	updater    Updater
	logger     logging.Logger
	workers    int
	timeout    time.Duration
	updatePath string
}

// DefaultWorkers derives the acceptor count from available parallelism.
func DefaultWorkers() int {
	n := runtime.NumCPU() - reservedWorkers
	if n < 1 {
		n = 1
	}
	return n
}

// NewServer creates an engine. A nil updater disables the webhook.
func NewServer(store *table.Store, updater Updater, logger logging.Logger, cfg Config) *Server {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UpdatePath == "" {
		cfg.UpdatePath = DefaultUpdatePath
	}

	return &Server{
		store:      store,
		updater:    updater,
		logger:     logger.WithComponent("httpd"),
		workers:    cfg.Workers,
		timeout:    cfg.Timeout,
		updatePath: cfg.UpdatePath,
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

// Serve runs the acceptor pool on ln until ctx is cancelled. The listener is
// closed on return; workers finish their current connection first.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info(ctx, "Hosting", "addr", ln.Addr().String(), "workers", s.workers)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.acceptLoop(ctx, ln)
		}()
	}
	wg.Wait()

	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn(ctx, err, "Accept failed")
			time.Sleep(acceptBackoff)
			continue
		}

		s.serveConn(nc)
	}
}

func (s *Server) serveConn(nc net.Conn) {
	defer nc.Close()

	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	c := conn{
		srv: s,
		nc:  nc,
		buf: make([]byte, MaxHeaderSize),
	}
	c.serve()
}
