package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.RPCURL == "" || cfg.Database.DSN == "" {
		t.Fatalf("defaults incomplete: %+v", cfg)
	}
	if cfg.Tracker.PollInterval <= 0 || cfg.Tracker.BatchSize == 0 {
		t.Fatalf("tracker defaults incomplete: %+v", cfg.Tracker)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
Environment = "prod"

[Chain]
RPCURL = "ws://node:8546"
ContractAddress = "0x000000000000000000000000000000000000dEaD"
CallTimeoutSeconds = 10

[Database]
Driver = "postgres"
DSN = "host=db user=metafusion dbname=metafusion"

[Tracker]
PollIntervalSeconds = 5
StartBlock = 1200
Confirmations = 6
BatchSize = 500
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "prod", cfg.Environment)
	require.Equal(t, "ws://node:8546", cfg.Chain.RPCURL)
	require.Equal(t, 10, cfg.Chain.CallTimeout)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, uint64(1200), cfg.Tracker.StartBlock)
	require.Equal(t, uint64(6), cfg.Tracker.Confirmations)
	// Sections absent from the file keep their defaults.
	require.NotEmpty(t, cfg.IPFS.APIURL)
	require.NotEmpty(t, cfg.API.ListenAddress)
}

func TestLoadRejectsBadDriver(t *testing.T) {
	path := writeConfig(t, `
[Database]
Driver = "oracle"
DSN = "x"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestLoadRejectsPipelineWithoutGenerator(t *testing.T) {
	path := writeConfig(t, `
[Pipeline]
Enabled = true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when pipeline lacks a generator URL")
	}
}

func TestSignerKeyFromEnv(t *testing.T) {
	t.Setenv("METAFUSION_TEST_SIGNER", " 0xabc123 ")
	chain := Chain{SignerKeyEnv: "METAFUSION_TEST_SIGNER"}
	key, err := chain.SignerKey()
	if err != nil {
		t.Fatalf("signer key: %v", err)
	}
	if key != "0xabc123" {
		t.Fatalf("key = %q", key)
	}
}

func TestSignerKeyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.key")
	if err := os.WriteFile(path, []byte("deadbeef\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	chain := Chain{SignerKeyFile: path}
	key, err := chain.SignerKey()
	if err != nil {
		t.Fatalf("signer key: %v", err)
	}
	if key != "deadbeef" {
		t.Fatalf("key = %q", key)
	}
}
