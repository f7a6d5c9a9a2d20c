package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/scoreshelf/internal/api"
	"github.com/jackzampolin/scoreshelf/internal/auth"
	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/home"
	"github.com/jackzampolin/scoreshelf/internal/pdf"
	"github.com/jackzampolin/scoreshelf/internal/providers"
	"github.com/jackzampolin/scoreshelf/internal/server/endpoints"
	"github.com/jackzampolin/scoreshelf/internal/svcctx"
)

// Server is the scoreshelf HTTP server. It opens the database and blob
// store on start and, with WithWorker, also runs the job worker in-process.
type Server struct {
	httpServer *http.Server
	registry   *providers.Registry
	configMgr  *config.Manager
	cfg        Config
	logger     *slog.Logger

	// guard is swapped on config reload
	guard atomic.Pointer[auth.Guard]

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the scoreshelf home directory for the default database,
	// blobs and reaper lock.
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// WithWorker runs pipeline jobs in this process.
	WithWorker bool
	// SwaggerSpecPath overrides the built-in OpenAPI document.
	SwaggerSpecPath string
	// Renderer replaces pdftoppm, mainly in tests.
	Renderer pdf.Renderer
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Create provider registry
	registry := providers.NewRegistry()
	registry.SetLogger(cfg.Logger)

	s := &Server{
		registry:  registry,
		configMgr: cfg.ConfigManager,
		cfg:       cfg,
		logger:    cfg.Logger,
	}
	s.guard.Store(NewGuard(s.config().Auth))

	// If config manager provided, set up providers and hot reload
	if cfg.ConfigManager != nil {
		registry.Reload(cfg.ConfigManager.Get().ToProviderRegistryConfig())

		cfg.ConfigManager.OnChange(func(c *config.Config) {
			registry.Reload(c.ToProviderRegistryConfig())
			s.guard.Store(NewGuard(c.Auth))
			cfg.Logger.Info("provider registry and grants reloaded from config")
		})
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	s.endpointRegistry.Register(endpoints.All(endpoints.Config{SwaggerSpecPath: cfg.SwaggerSpecPath})...)

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit, s.requireAuth)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  5 * time.Minute, // large uploads
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

func (s *Server) config() *config.Config {
	if s.configMgr != nil {
		return s.configMgr.Get()
	}
	return config.DefaultConfig()
}

// Init opens storage and wires services without listening. Start calls it;
// tests call it directly and serve Handler with httptest.
func (s *Server) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.services != nil {
		return nil
	}
	if s.cfg.Home != nil {
		if err := s.cfg.Home.EnsureExists(); err != nil {
			return fmt.Errorf("failed to create home directory: %w", err)
		}
	}
	svc, err := BuildServices(ctx, ServicesConfig{
		Config:   s.config(),
		Home:     s.cfg.Home,
		Registry: s.registry,
		Renderer: s.cfg.Renderer,
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}
	s.services = svc
	return nil
}

// Start initializes services and serves HTTP (and the worker, if enabled).
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()
	defer s.setNotRunning()

	if err := s.Init(ctx); err != nil {
		return err
	}
	s.logger.Info("services ready", "providers", s.registry.ListLLM())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	if s.cfg.WithWorker {
		g.Go(func() error {
			return RunWorker(gctx, s.services, s.config().Worker)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			s.logger.Info("shutdown signal received")
		}
		return s.shutdownHTTP()
	})

	err := g.Wait()
	if cerr := s.Close(); cerr != nil {
		s.logger.Error("failed to close services", "error", cerr)
	}
	s.logger.Info("server stopped")
	return err
}

func (s *Server) shutdownHTTP() error {
	timeout := time.Duration(s.config().Worker.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	return nil
}

// Close releases the database and blob store.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := CloseServices(s.services)
	s.services = nil
	return err
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Services returns the wired services, or nil before Init.
func (s *Server) Services() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc := s.Services(); svc != nil {
			ctx = svcctx.WithServices(ctx, svc)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth checks identity and capability before anything else runs.
func (s *Server) requireAuth(next http.HandlerFunc, actions ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.guard.Load().Require(next, actions...)(w, r)
	}
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the database or job manager aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := svcctx.ServicesFrom(r.Context())
		if svc == nil || svc.DB == nil || svc.JobManager == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
