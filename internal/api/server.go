package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hitchin999/unifi-connect-display/internal/audit"
	"github.com/hitchin999/unifi-connect-display/internal/capability"
	"github.com/hitchin999/unifi-connect-display/internal/controller"
	"github.com/hitchin999/unifi-connect-display/internal/device"
	"github.com/hitchin999/unifi-connect-display/internal/dispatch"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/config"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/logging"
	"github.com/hitchin999/unifi-connect-display/internal/poller"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceSource is the read side of the device store.
type DeviceSource interface {
	Get(id string) (device.Device, error)
	List() []device.Device
	Stats() device.Stats
	Subscribe(handler func(device.Event)) (unsubscribe func())
}

// Dispatcher executes device commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd dispatch.Command) (dispatch.Outcome, error)
}

// ModelCatalog describes the capability registry.
type ModelCatalog interface {
	Models() []capability.Model
	Describe(model capability.Model) (capability.Description, error)
}

// ControllerCatalog lists controller-side objects commands refer to.
type ControllerCatalog interface {
	ListPlaylists(ctx context.Context) ([]controller.Playlist, error)
	ListSites(ctx context.Context) ([]controller.Site, error)
}

// AuditLister queries the command audit trail.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	JWT        config.JWTConfig
	Logger     *logging.Logger
	Devices    DeviceSource
	Dispatcher Dispatcher
	Models     ModelCatalog

	// Optional. Routes whose dependency is missing answer 503.
	Catalog ControllerCatalog
	Audit   AuditLister

	// Metrics, when set, is served on /metrics and wraps every request.
	Metrics MetricsExporter

	// PollStatus feeds the health endpoint. Optional.
	PollStatus func() poller.Status

	Version string
}

// MetricsExporter is the Prometheus side of the metrics collector.
type MetricsExporter interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Server is the HTTP API server for connectd.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	jwtCfg     config.JWTConfig
	logger     *logging.Logger
	devices    DeviceSource
	dispatcher Dispatcher
	models     ModelCatalog
	catalog    ControllerCatalog
	audit      AuditLister
	metrics    MetricsExporter
	pollStatus func() poller.Status
	version    string

	hub     *Hub
	tickets *ticketStore
	router  http.Handler
	server  *http.Server

	mu          sync.Mutex
	cancel      context.CancelFunc // stops the hub and ticket cleanup
	unsubscribe func()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device source is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Models == nil {
		return nil, fmt.Errorf("model catalog is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		jwtCfg:     deps.JWT,
		logger:     deps.Logger.Component("api"),
		devices:    deps.Devices,
		dispatcher: deps.Dispatcher,
		models:     deps.Models,
		catalog:    deps.Catalog,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		pollStatus: deps.PollStatus,
		version:    deps.Version,
		tickets:    newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.router = s.buildRouter()

	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start relays store events to WebSocket clients and begins listening
// in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.attach(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr, "auth", s.authEnabled())
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// attach starts the background work that does not need a listener: the
// hub, ticket cleanup and the store subscription.
func (s *Server) attach(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

	s.unsubscribe = s.devices.Subscribe(func(ev device.Event) {
		s.hub.Broadcast(string(ev.Type), ev)
	})
}

func (s *Server) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.detach()
	if s.server == nil {
		return nil
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

func (s *Server) authEnabled() bool {
	return s.jwtCfg.Secret != ""
}
