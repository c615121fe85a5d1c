package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
chain:
  rpc_url: https://polygon-rpc.example
tokens:
  trade: "0x0000000000000000000000000000000000001234"
fleet:
  size: 4
  total_capital: "250"
watch:
  poll_interval_ms: 100
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.RPCURL != "https://polygon-rpc.example" {
		t.Fatalf("rpc url %q", cfg.Chain.RPCURL)
	}
	if cfg.Fleet.Size != 4 || cfg.Fleet.TotalCapital != "250" {
		t.Fatalf("fleet %+v", cfg.Fleet)
	}
	if cfg.Watch.PollIntervalMS != 100 {
		t.Fatalf("poll interval %d, want 100", cfg.Watch.PollIntervalMS)
	}

	// Untouched sections keep their defaults.
	if cfg.Contracts.FeeTier != 10_000 {
		t.Fatalf("fee tier %d, want default 10000", cfg.Contracts.FeeTier)
	}
	if cfg.Tokens.Capital == "" || cfg.Contracts.Router == "" {
		t.Fatalf("defaults lost: %+v", cfg.Tokens)
	}
}

func TestLoadEnvWins(t *testing.T) {
	path := writeConfig(t, `
chain:
  rpc_url: https://from-file.example
fleet:
  size: 4
`)
	t.Setenv("RPC_WS_URL", "wss://from-env.example")
	t.Setenv("FLEET_SIZE", "12")
	t.Setenv("DRY_RUN", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.RPCURL != "wss://from-env.example" {
		t.Fatalf("env should win, got %q", cfg.Chain.RPCURL)
	}
	if cfg.Fleet.Size != 12 {
		t.Fatalf("fleet size %d, want 12", cfg.Fleet.Size)
	}
	if !cfg.Exec.DryRun {
		t.Fatalf("dry run should be on")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "chain:\n  rpc_uri: https://typo.example\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Defaults()
		cfg.Chain.RPCURL = "https://polygon-rpc.example"
		cfg.Tokens.Trade = "0x0000000000000000000000000000000000001234"
		return cfg
	}

	if err := base().Validate(true); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	t.Run("missing rpc", func(t *testing.T) {
		cfg := base()
		cfg.Chain.RPCURL = ""
		if err := cfg.Validate(true); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("placeholder rpc", func(t *testing.T) {
		cfg := base()
		cfg.Chain.RPCURL = "wss://polygon.example/v2/YOUR_KEY"
		if err := cfg.Validate(true); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("bad scheme", func(t *testing.T) {
		cfg := base()
		cfg.Chain.RPCURL = "ftp://polygon.example"
		if err := cfg.Validate(true); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("trade optional when not needed", func(t *testing.T) {
		cfg := base()
		cfg.Tokens.Trade = ""
		if err := cfg.Validate(false); err != nil {
			t.Fatalf("trade should be optional here, got %v", err)
		}
		if err := cfg.Validate(true); err == nil {
			t.Fatalf("expected error when trade is required")
		}
	})

	t.Run("zero fleet", func(t *testing.T) {
		cfg := base()
		cfg.Fleet.Size = 0
		if err := cfg.Validate(true); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("zero poll interval", func(t *testing.T) {
		cfg := base()
		cfg.Watch.PollIntervalMS = 0
		if err := cfg.Validate(true); err == nil {
			t.Fatalf("expected error")
		}
	})
}
