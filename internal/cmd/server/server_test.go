package server

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	t.Setenv("DIVERGENCE_SPACE_SERVER_HTTP_ADDR", ":9090")
	t.Setenv("DIVERGENCE_SPACE_SPLIT_API_URL", "https://registry.boom.com")

	cfg, err := ParseConfig(fs, []string{"-offline", "-split-api-timeout", "3s"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("http addr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.SplitAPIURL != "https://registry.boom.com" {
		t.Fatalf("split api url = %q", cfg.SplitAPIURL)
	}
	if !cfg.Offline {
		t.Fatal("offline = false, want true")
	}
	if cfg.SplitAPITimeout != 3*time.Second {
		t.Fatalf("split api timeout = %v, want 3s", cfg.SplitAPITimeout)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.GRPCPort != 8088 {
		t.Fatalf("grpc port = %d, want 8088", cfg.GRPCPort)
	}
	if cfg.TrustForwardedProto {
		t.Fatal("trust forwarded proto defaults to false")
	}
}
