// Package api provides the HTTP REST API and WebSocket endpoint for the
// realtime bridge.
//
// It exposes stored sensor readings, device status and control history,
// a control endpoint that shares the orchestrator with the WebSocket
// path, and the WebSocket upgrade itself.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vantran-dev/homestream-core/internal/bridge"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/config"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/logging"
	"github.com/vantran-dev/homestream-core/internal/storage"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Store is the read surface the handlers need. *storage.Store satisfies it.
type Store interface {
	ListTelemetry(ctx context.Context, limit, offset int) ([]storage.TelemetryReading, error)
	LatestTelemetry(ctx context.Context) (*storage.TelemetryReading, error)
	TelemetrySeries(ctx context.Context, since time.Time, limit int) ([]storage.TelemetryReading, error)
	ListControlRecords(ctx context.Context, deviceID string, limit, offset int) ([]storage.ControlRecord, error)
	LastStatus(ctx context.Context, deviceID string) (*storage.DeviceStatus, error)
	LatestStatuses(ctx context.Context) (map[string]storage.DeviceStatus, error)
	Counts(ctx context.Context) (storage.Stats, error)
}

// Bridge is the realtime side the handlers need. *bridge.Supervisor
// satisfies it.
type Bridge interface {
	Control(ctx context.Context, deviceID, action string) (bridge.ControlResult, error)
	Hub() bridge.ClientHub
	BusState() string
	Running() bool
}

// Pinger checks a dependency's health. *database.DB satisfies it.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  *config.Config
	Logger  *logging.Logger
	Store   Store
	Bridge  Bridge
	DB      Pinger // optional; reported in health when set
	Version string
}

// Server is the HTTP server for the bridge's REST and WebSocket surface.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   Store
	bridge  Bridge
	db      Pinger
	version string
	started time.Time
	server  *http.Server
}

// New creates the API server. It does not listen until Start.
//
// Parameters:
//   - deps: Required dependencies (config, logger, store, bridge)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		store:   deps.Store,
		bridge:  deps.Bridge,
		db:      deps.DB,
		version: deps.Version,
		started: time.Now().UTC(),
	}, nil
}

// Start launches the HTTP listener in a background goroutine.
//
// Returns:
//   - error: nil; listener failures are logged asynchronously
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.cfg.GetReadTimeout(),
		WriteTimeout: s.cfg.GetWriteTimeout(),
		IdleTimeout:  s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
	return nil
}

// Close drains in-flight requests and stops the listener.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
