// Package httpserver runs the HTTP listeners shared by the archive, platform
// and gateway services: lifecycle, health endpoint, middleware and JSON helpers.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"lnm/internal/config"
	"lnm/internal/logging"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// Status reports runtime lifecycle states for the HTTP server.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusDraining Status = "draining"
	StatusStopped  Status = "stopped"
)

// Settings captures the runtime configuration of one listener.
type Settings struct {
	Name            string
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxConnections  int
	MaxBodyBytes    int64
}

// SettingsFromConfig builds Settings from a service's server section.
func SettingsFromConfig(name string, cfg config.ServerConfig) Settings {
	return Settings{
		Name:            name,
		Address:         cfg.Address,
		ReadTimeout:     cfg.GetReadTimeout(),
		WriteTimeout:    cfg.GetWriteTimeout(),
		IdleTimeout:     cfg.GetIdleTimeout(),
		ShutdownTimeout: cfg.GetShutdownTimeout(),
		MaxConnections:  cfg.MaxConnections,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	}
}

// Server wraps the HTTP listener for one service.
type Server struct {
	settings Settings
	handler  http.Handler
	logger   *zap.Logger
	clock    func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    Status
	startTime time.Time
	done      chan struct{}
	serveErr  error
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger sets the zap logger used for access and lifecycle logs.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New prepares a server for the given routes. The handler is wrapped with
// request IDs, access logging, panic recovery and a /health endpoint.
func New(settings Settings, routes http.Handler, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		logger:   zap.NewNop(),
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/", routes)
	s.handler = Chain(mux,
		RequestID,
		AccessLog(s.logger.Named(settings.Name)),
		Recover(s.logger.Named(settings.Name)),
	)
	return s
}

// Handler exposes the fully wrapped handler, mostly for httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("httpserver: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("httpserver: %s already started", s.settings.Name)
	}

	listener, err := net.Listen("tcp", s.settings.Address)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", s.settings.Address, err)
	}
	if s.settings.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.settings.MaxConnections)
	}
	s.listener = listener
	s.startTime = s.clock()

	server := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
		ErrorLog:     zap.NewStdLog(s.logger.Named(s.settings.Name)),
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", zap.String("server", s.settings.Name), zap.Error(err))
			logging.HTTPError("%s: serve error: %v", s.settings.Name, err)
			s.mu.Lock()
			s.serveErr = err
			s.mu.Unlock()
		}
	}(s.done)

	s.logger.Info("listening", zap.String("server", s.settings.Name), zap.String("addr", listener.Addr().String()))
	logging.HTTP("%s: listening on %s", s.settings.Name, listener.Addr().String())
	return nil
}

// Run starts the server, blocks until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()

	select {
	case <-ctx.Done():
	case <-done:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serveErr
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.settings.ShutdownTimeout > 0 {
		return s.settings.ShutdownTimeout
	}
	return 10 * time.Second
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.listener == nil || s.server == nil {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusDraining
	server := s.server
	done := s.done
	s.mu.Unlock()

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
	}
	err := server.Shutdown(ctx)
	<-done

	s.mu.Lock()
	s.listener = nil
	s.server = nil
	s.status = StatusStopped
	s.mu.Unlock()

	s.logger.Info("stopped", zap.String("server", s.settings.Name))
	logging.HTTP("%s: stopped", s.settings.Name)
	return err
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		addr = s.settings.Address
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

type healthResponse struct {
	Service       string `json:"service"`
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	WriteJSON(w, http.StatusOK, healthResponse{
		Service:       s.settings.Name,
		Status:        string(s.Status()),
		UptimeSeconds: s.uptimeSeconds(),
	})
}
