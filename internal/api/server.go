package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/modbus-mw/internal/device"
	"github.com/nerrad567/modbus-mw/internal/history"
	"github.com/nerrad567/modbus-mw/internal/infrastructure/config"
	"github.com/nerrad567/modbus-mw/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Catalog is a device catalog. Relay handlers also resolve internal ids.
type Catalog interface {
	device.Catalog
	InternalID(ctx context.Context, id int) (int64, error)
}

// FleetStates reports the latest recorded state of a device class.
type FleetStates interface {
	LatestStates(ctx context.Context) (map[int]bool, error)
	AllDisconnected(ctx context.Context) ([]device.DisconnectedDevice, error)
}

// HistoryQuerier builds windowed history payloads.
type HistoryQuerier interface {
	Query(ctx context.Context, deviceID int, window history.Window, page int) (*history.Payload, error)
}

// FaultReader returns the latest fault of a relay by internal id.
type FaultReader interface {
	LatestFault(ctx context.Context, relayID int64) (*device.Fault, error)
}

// ObserverFlags reads and writes the relay observer switch.
type ObserverFlags interface {
	RelaysEnabled() bool
	SetRelaysEnabled(enabled bool) error
}

// HealthChecker is a dependency probed by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger

	GRDs         Catalog
	Relays       Catalog
	GRDStates    FleetStates
	GRDHistory   HistoryQuerier
	RelayHistory HistoryQuerier
	Faults       FaultReader
	Flags        ObserverFlags

	// Database is optional; when set /health reports its status.
	Database HealthChecker

	// ExternalHub, if set, is used instead of creating a hub. The monitor
	// loops broadcast into it so it must outlive the server.
	ExternalHub *Hub
	Version     string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	logger       *logging.Logger
	grds         Catalog
	relays       Catalog
	grdStates    FleetStates
	grdHistory   HistoryQuerier
	relayHistory HistoryQuerier
	faults       FaultReader
	flags        ObserverFlags
	database     HealthChecker
	version      string
	server       *http.Server
	hub          *Hub
	externalHub  bool
	cancel       context.CancelFunc
	now          func() time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	switch {
	case deps.GRDs == nil || deps.GRDStates == nil || deps.GRDHistory == nil:
		return nil, fmt.Errorf("grd catalog, states and history are required")
	case deps.Relays == nil || deps.RelayHistory == nil || deps.Faults == nil:
		return nil, fmt.Errorf("relay catalog, history and faults are required")
	case deps.Flags == nil:
		return nil, fmt.Errorf("observer flags are required")
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		logger:       deps.Logger,
		grds:         deps.GRDs,
		relays:       deps.Relays,
		grdStates:    deps.GRDStates,
		grdHistory:   deps.GRDHistory,
		relayHistory: deps.RelayHistory,
		faults:       deps.Faults,
		flags:        deps.Flags,
		database:     deps.Database,
		version:      deps.Version,
		now:          time.Now,
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the WebSocket hub, creating it if Start has not run yet.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.Hub().Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
