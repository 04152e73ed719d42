// Package app wires the assignment service runtime: the HTTP API, the split
// registry client, the notification outbox, and the health surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/louisbranch/divergence.space/internal/platform/timeouts"
	apihttp "github.com/louisbranch/divergence.space/internal/services/assignment/api/http"
	"github.com/louisbranch/divergence.space/internal/services/assignment/integration/registryapi"
	"github.com/louisbranch/divergence.space/internal/services/assignment/integration/servicetoken"
	"github.com/louisbranch/divergence.space/internal/services/assignment/platform/requestmeta"
	"github.com/louisbranch/divergence.space/internal/services/notifier/dispatch"
	notifiersqlite "github.com/louisbranch/divergence.space/internal/services/notifier/storage/sqlite"
	"github.com/louisbranch/divergence.space/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Config controls assignment server startup.
type Config struct {
	HTTPAddr            string
	GRPCPort            int
	DBPath              string
	Offline             bool
	TrustForwardedProto bool
	RegistryAPI         registryapi.Config
}

const (
	defaultHTTPAddr = ":8080"
	defaultGRPCPort = 8088
	defaultDBPath   = "data/notifier.db"
)

// Server hosts the assignment service.
type Server struct {
	httpListener net.Listener
	httpServer   *http.Server
	grpcListener net.Listener
	grpcServer   *grpc.Server
	health       *health.Server
	store        *notifiersqlite.Store
	dispatcher   *dispatch.Dispatcher
}

// New creates a configured assignment server.
func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.GRPCPort <= 0 {
		cfg.GRPCPort = defaultGRPCPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}

	tokenCfg, err := servicetoken.LoadConfigFromEnv(nil)
	if err != nil {
		return nil, err
	}
	signer, err := servicetoken.New(tokenCfg)
	if err != nil {
		return nil, err
	}
	registryCfg := cfg.RegistryAPI
	registryCfg.Signer = signer
	registryClient, err := registryapi.New(registryCfg)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := notifiersqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open notification outbox store: %w", err)
	}

	dispatcher := dispatch.New(dispatch.NewOutboxQueue(store))
	handler := apihttp.NewHandler(apihttp.Deps{
		Registry:    registryClient,
		Assignments: registryClient,
		Identity:    registryClient,
		Dispatcher:  dispatcher,
		Scheme:      requestmeta.SchemePolicy{TrustForwardedProto: cfg.TrustForwardedProto},
		Telemetry:   telemetry.NewEmitter(store),
		Offline:     cfg.Offline,
	})
	mux := http.NewServeMux()
	handler.Routes(mux)

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on http addr %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		_ = httpListener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen on grpc port %d: %w", cfg.GRPCPort, err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("assignment.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		httpListener: httpListener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		grpcListener: grpcListener,
		grpcServer:   grpcServer,
		health:       healthServer,
		store:        store,
		dispatcher:   dispatcher,
	}, nil
}

// Addr returns the HTTP listener address.
func (s *Server) Addr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Run creates and serves an assignment server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the assignment server and blocks until it stops or the
// context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("assignment server listening at %v", s.httpListener.Addr())
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- s.httpServer.Serve(s.httpListener)
	}()

	log.Printf("assignment health server listening at %v", s.grpcListener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.grpcListener)
	}()

	handleGRPCErr := func(err error) error {
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}

	shutdownGRPC := func() {
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}
	shutdownHTTP := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		shutdownHTTP()
		shutdownGRPC()
		return handleGRPCErr(<-serveErr)
	case err := <-serveErr:
		shutdownHTTP()
		return handleGRPCErr(err)
	case err := <-httpErr:
		shutdownGRPC()
		if grpcErr := handleGRPCErr(<-serveErr); grpcErr != nil {
			return grpcErr
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close notification outbox store: %v", err)
	}
}
