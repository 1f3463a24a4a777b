// Package gateway is the HTTP front end: it owns the listener, routes
// requests through admission and the pipeline, and serves the metrics,
// health, and admin surfaces.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Clickin/querygate/admission"
	"github.com/Clickin/querygate/config"
	"github.com/Clickin/querygate/endpoint"
	"github.com/Clickin/querygate/errors"
	"github.com/Clickin/querygate/health"
	"github.com/Clickin/querygate/metric"
	"github.com/Clickin/querygate/pipeline"
	"github.com/Clickin/querygate/pkg/worker"
	"github.com/Clickin/querygate/sqlexec"
)

// Server wires the gateway subsystems behind one HTTP listener.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *endpoint.Registry
	acl       *admission.NetworkACL
	auth      *admission.Authenticator
	admitter  *admission.Controller
	pipeline  *pipeline.Pipeline
	responder *pipeline.Responder
	pool      *worker.Pool[*job]
	monitor   *health.Monitor
	metrics   *metric.Registry
	executor  sqlexec.Executor

	httpServer *http.Server
	mux        *http.ServeMux

	running  bool
	mu       sync.RWMutex
	stopOnce sync.Once
}

// NewServer assembles a gateway server from configuration and an executor.
func NewServer(cfg *config.Config, executor sqlexec.Executor, metrics *metric.Registry, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = metric.NewRegistry()
	}

	registry := endpoint.NewRegistry(
		logger.With("component", "endpoint-registry"),
		endpoint.WithMetrics(metrics.Core),
	)

	acl, err := admission.NewNetworkACL(cfg.Security.AllowedNetworks)
	if err != nil {
		return nil, err
	}

	var auth *admission.Authenticator
	if cfg.Security.Enabled {
		auth = admission.NewAuthenticator(
			cfg.Security.CredentialHeader,
			cfg.Security.SchemePrefix,
			cfg.Security.Credentials,
		)
	}

	// admitter stays nil when admission is disabled; requests then go to
	// the worker pool without a permit.
	var admitter *admission.Controller
	if cfg.Admission.Enabled {
		admitter, err = admission.NewController(
			cfg.Admission.MaxConcurrent,
			cfg.Admission.AcquireTimeout(),
			logger.With("component", "admission"),
			metrics,
		)
		if err != nil {
			return nil, err
		}
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		acl:       acl,
		auth:      auth,
		admitter:  admitter,
		pipeline:  pipeline.NewPipeline(executor, logger.With("component", "pipeline"), metrics.Core),
		responder: pipeline.NewResponder(cfg.ErrorHandling, logger.With("component", "responder")),
		monitor:   health.NewMonitor(2 * time.Second),
		metrics:   metrics,
		executor:  executor,
		mux:       http.NewServeMux(),
	}

	// Execution runs on a fixed worker set sized to the permit pool, so
	// admitted work never spawns unbounded goroutines.
	pool, err := worker.NewPool(
		cfg.Admission.MaxConcurrent,
		cfg.Admission.MaxConcurrent,
		s.processJob,
		worker.WithMetrics[*job](metrics, "querygate_execution"),
	)
	if err != nil {
		return nil, err
	}
	s.pool = pool

	s.monitor.Register(health.DatabaseIndicator(executor))
	s.monitor.Register(health.ConfigurationIndicator(registry))

	s.setupRoutes()
	return s, nil
}

// Registry exposes the endpoint registry for reload wiring.
func (s *Server) Registry() *endpoint.Registry {
	return s.registry
}

func (s *Server) setupRoutes() {
	s.mux.Handle(s.cfg.Server.MetricsPath, s.metrics.Handler())
	s.mux.Handle("/health", s.monitor.Handler())
	s.mux.HandleFunc("POST /admin/reload", s.handleReload)

	base := strings.TrimSuffix(s.cfg.Server.BasePath, "/")
	s.mux.HandleFunc(base+"/", s.handleRequest)
}

// Start loads the endpoint configuration, starts the worker pool, and
// begins serving. Returns after the listener is bound; serve errors are
// logged from the serving goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	s.running = true
	s.mu.Unlock()

	if err := s.registry.LoadFile(s.cfg.EndpointConfigPath); err != nil {
		return err
	}

	if err := s.pool.Start(ctx); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "Server", "Start", "bind listener")
	}

	go func() {
		s.logger.Info("gateway listening",
			"address", addr,
			"base_path", s.cfg.Server.BasePath,
			"endpoints", s.registry.Count())
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server terminated", "error", err)
		}
	}()

	return nil
}

// Stop drains the listener and the worker pool.
func (s *Server) Stop(timeout time.Duration) error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		running := s.running
		s.running = false
		s.mu.Unlock()
		if !running {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Warn("listener shutdown incomplete", "error", err)
				stopErr = err
			}
		}
		if err := s.pool.Stop(timeout); err != nil {
			s.logger.Warn("worker pool shutdown incomplete", "error", err)
			if stopErr == nil {
				stopErr = err
			}
		}
		s.logger.Info("gateway stopped")
	})
	return stopErr
}

// handleReload republishes the endpoint configuration on demand. The same
// access checks as data requests apply.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.admitRequest(r); err != nil {
		s.responder.WriteError(w, r, nil, err)
		return
	}

	if err := s.registry.LoadFile(s.cfg.EndpointConfigPath); err != nil {
		s.logger.Error("manual reload failed", "error", err)
		s.responder.WriteError(w, r, nil,
			errors.New(errors.Internal, "configuration reload failed"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, `{"success":true,"endpoints":%d}`+"\n", s.registry.Count())
}

// admitRequest runs the network and credential checks shared by the data
// and admin surfaces.
func (s *Server) admitRequest(r *http.Request) error {
	if err := s.acl.CheckRequest(r); err != nil {
		return err
	}
	if s.auth != nil {
		if err := s.auth.CheckRequest(r); err != nil {
			return err
		}
	}
	return nil
}
