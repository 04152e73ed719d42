// Package server parses assignment server command flags and launches the
// server runtime.
package server

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/divergence.space/internal/platform/cmd"
	assignmentserver "github.com/louisbranch/divergence.space/internal/services/assignment/app"
	"github.com/louisbranch/divergence.space/internal/services/assignment/integration/registryapi"
)

// Config holds assignment server command configuration.
type Config struct {
	HTTPAddr            string        `env:"DIVERGENCE_SPACE_SERVER_HTTP_ADDR" envDefault:":8080"`
	GRPCPort            int           `env:"DIVERGENCE_SPACE_SERVER_GRPC_PORT" envDefault:"8088"`
	DBPath              string        `env:"DIVERGENCE_SPACE_SERVER_DB_PATH" envDefault:"data/notifier.db"`
	SplitAPIURL         string        `env:"DIVERGENCE_SPACE_SPLIT_API_URL"`
	SplitAPITimeout     time.Duration `env:"DIVERGENCE_SPACE_SPLIT_API_TIMEOUT" envDefault:"5s"`
	Offline             bool          `env:"DIVERGENCE_SPACE_SERVER_OFFLINE" envDefault:"false"`
	TrustForwardedProto bool          `env:"DIVERGENCE_SPACE_SERVER_TRUST_FORWARDED_PROTO" envDefault:"false"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The assignment HTTP API address")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "The assignment health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The notification outbox SQLite database path")
	fs.StringVar(&cfg.SplitAPIURL, "split-api-url", cfg.SplitAPIURL, "The split registry API base URL")
	fs.DurationVar(&cfg.SplitAPITimeout, "split-api-timeout", cfg.SplitAPITimeout, "Split registry API request timeout")
	fs.BoolVar(&cfg.Offline, "offline", cfg.Offline, "Suppress new variant calculation")
	fs.BoolVar(&cfg.TrustForwardedProto, "trust-forwarded-proto", cfg.TrustForwardedProto, "Trust X-Forwarded-Proto for cookie security")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the assignment server runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(context.Context) error {
		return assignmentserver.Run(ctx, assignmentserver.Config{
			HTTPAddr:            cfg.HTTPAddr,
			GRPCPort:            cfg.GRPCPort,
			DBPath:              cfg.DBPath,
			Offline:             cfg.Offline,
			TrustForwardedProto: cfg.TrustForwardedProto,
			RegistryAPI: registryapi.Config{
				BaseURL: cfg.SplitAPIURL,
				Timeout: cfg.SplitAPITimeout,
			},
		})
	})
}
