package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	platformgrpc "github.com/louisbranch/divergence.space/internal/platform/grpc"
	"github.com/louisbranch/divergence.space/internal/platform/timeouts"
	notifiersqlite "github.com/louisbranch/divergence.space/internal/services/notifier/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls notifier startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port            int
	DBPath          string
	IngestURL       string
	ServerAddr      string
	Consumer        string
	PollInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	RetryBackoff    time.Duration
	RetryMaxDelay   time.Duration
	GRPCDialTimeout time.Duration
}

const (
	defaultNotifierPort = 8089
	defaultNotifierDB   = "data/notifier.db"
)

// Run starts notifier runtime dependencies and the background delivery loop.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.IngestURL) == "" {
		return fmt.Errorf("ingest URL is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultNotifierPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultNotifierDB
	}
	if cfg.GRPCDialTimeout <= 0 {
		cfg.GRPCDialTimeout = timeouts.GRPCDial
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create notifier storage dir: %w", err)
		}
	}

	store, err := notifiersqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open notifier sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close notifier sqlite store: %v", closeErr)
		}
	}()

	// The assignment server owns the outbox writer side. When its address is
	// configured, wait for its health check so the loop does not race startup.
	if addr := strings.TrimSpace(cfg.ServerAddr); addr != "" {
		serverConn, err := platformgrpc.DialWithHealth(
			ctx,
			nil,
			addr,
			cfg.GRPCDialTimeout,
			log.Printf,
			platformgrpc.DefaultClientDialOptions()...,
		)
		if err != nil {
			return fmt.Errorf("dial assignment server: %w", err)
		}
		defer func() {
			if closeErr := serverConn.Close(); closeErr != nil {
				log.Printf("close assignment server connection: %v", closeErr)
			}
		}()
	}

	deliverer := NewHTTPDeliverer(&http.Client{Timeout: timeouts.SplitAPIRequest}, cfg.IngestURL)
	loop := New(store, deliverer, Config{
		Consumer:      cfg.Consumer,
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.BatchSize,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		RetryMaxDelay: cfg.RetryMaxDelay,
	}, nil)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on notifier port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("notifier.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("notifier server listening at %v", listener.Addr())
	return loop.Run(ctx)
}
