// Package worker parses notifier command flags and launches the notifier
// runtime.
package worker

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/divergence.space/internal/platform/cmd"
	notifierapp "github.com/louisbranch/divergence.space/internal/services/notifier/app"
)

// Config holds notifier command configuration.
type Config struct {
	Port            int           `env:"DIVERGENCE_SPACE_WORKER_PORT" envDefault:"8089"`
	DBPath          string        `env:"DIVERGENCE_SPACE_WORKER_DB_PATH" envDefault:"data/notifier.db"`
	IngestURL       string        `env:"DIVERGENCE_SPACE_WORKER_INGEST_URL"`
	ServerAddr      string        `env:"DIVERGENCE_SPACE_WORKER_SERVER_ADDR"`
	Consumer        string        `env:"DIVERGENCE_SPACE_WORKER_CONSUMER" envDefault:"notifier"`
	PollInterval    time.Duration `env:"DIVERGENCE_SPACE_WORKER_POLL_INTERVAL" envDefault:"2s"`
	BatchSize       int           `env:"DIVERGENCE_SPACE_WORKER_BATCH_SIZE" envDefault:"25"`
	MaxAttempts     int           `env:"DIVERGENCE_SPACE_WORKER_MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff    time.Duration `env:"DIVERGENCE_SPACE_WORKER_RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay   time.Duration `env:"DIVERGENCE_SPACE_WORKER_RETRY_MAX_DELAY" envDefault:"10m"`
	GRPCDialTimeout time.Duration `env:"DIVERGENCE_SPACE_WORKER_DIAL_TIMEOUT" envDefault:"2s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The notifier health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The notification outbox SQLite database path")
	fs.StringVar(&cfg.IngestURL, "ingest-url", cfg.IngestURL, "The analytics ingest endpoint URL")
	fs.StringVar(&cfg.ServerAddr, "server-addr", cfg.ServerAddr, "The assignment server health gRPC address")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Notification outbox consumer name")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Notification outbox poll interval")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Maximum jobs fetched per poll")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum delivery attempts before dead-letter")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	fs.DurationVar(&cfg.GRPCDialTimeout, "dial-timeout", cfg.GRPCDialTimeout, "gRPC dependency dial timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the notifier runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(context.Context) error {
		return notifierapp.Run(ctx, notifierapp.RuntimeConfig{
			Port:            cfg.Port,
			DBPath:          cfg.DBPath,
			IngestURL:       cfg.IngestURL,
			ServerAddr:      cfg.ServerAddr,
			Consumer:        cfg.Consumer,
			PollInterval:    cfg.PollInterval,
			BatchSize:       cfg.BatchSize,
			MaxAttempts:     cfg.MaxAttempts,
			RetryBackoff:    cfg.RetryBackoff,
			RetryMaxDelay:   cfg.RetryMaxDelay,
			GRPCDialTimeout: cfg.GRPCDialTimeout,
		})
	})
}
