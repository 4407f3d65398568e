// Package config loads the TOML configuration shared by the tracker and
// web API daemons.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration document.
type Config struct {
	Environment string `toml:"Environment"`
	LogFile     string `toml:"LogFile"`

	Chain    Chain    `toml:"Chain"`
	Database Database `toml:"Database"`
	Tracker  Tracker  `toml:"Tracker"`
	IPFS     IPFS     `toml:"IPFS"`
	Pipeline Pipeline `toml:"Pipeline"`
	API      API      `toml:"API"`
}

// Chain configures the node connection and the transacting identity.
type Chain struct {
	RPCURL          string `toml:"RPCURL"`
	ContractAddress string `toml:"ContractAddress"`
	// SignerKeyEnv names the environment variable holding the hex signer
	// key. SignerKeyFile points at a file holding it instead. Set at most
	// one; neither means read-only.
	SignerKeyEnv    string `toml:"SignerKeyEnv"`
	SignerKeyFile   string `toml:"SignerKeyFile"`
	CallTimeout     int    `toml:"CallTimeoutSeconds"`
	ConfirmReceipts bool   `toml:"ConfirmReceipts"`
}

// Database selects the replica store backend.
type Database struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Tracker tunes the log polling loop.
type Tracker struct {
	PollInterval  int    `toml:"PollIntervalSeconds"`
	StartBlock    uint64 `toml:"StartBlock"`
	BatchSize     uint64 `toml:"BatchSize"`
	Confirmations uint64 `toml:"Confirmations"`
}

// IPFS configures the content store client.
type IPFS struct {
	APIURL  string `toml:"APIURL"`
	Timeout int    `toml:"TimeoutSeconds"`
}

// Pipeline enables the oracle role on the tracker.
type Pipeline struct {
	Enabled          bool   `toml:"Enabled"`
	GeneratorURL     string `toml:"GeneratorURL"`
	GeneratorTimeout int    `toml:"GeneratorTimeoutSeconds"`
}

// API configures the read-only HTTP surface.
type API struct {
	ListenAddress  string `toml:"ListenAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
}

func defaults() *Config {
	return &Config{
		Environment: "dev",
		Chain: Chain{
			RPCURL:      "http://127.0.0.1:8545",
			CallTimeout: 30,
		},
		Database: Database{
			Driver: "sqlite",
			DSN:    "metafusion.db",
		},
		Tracker: Tracker{
			PollInterval: 2,
			BatchSize:    2000,
		},
		IPFS: IPFS{
			APIURL:  "http://127.0.0.1:5001",
			Timeout: 30,
		},
		Pipeline: Pipeline{
			GeneratorTimeout: 300,
		},
		API: API{
			ListenAddress:  ":8080",
			MetricsAddress: ":9090",
		},
	}
}

// Load reads the configuration file and fills in defaults. A missing file
// yields the pure defaults so local runs work without any setup.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		return fmt.Errorf("config: Chain.RPCURL is required")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: Database.DSN is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported Database.Driver %q", c.Database.Driver)
	}
	if c.Tracker.PollInterval <= 0 {
		return fmt.Errorf("config: Tracker.PollIntervalSeconds must be positive")
	}
	if c.Tracker.BatchSize == 0 {
		return fmt.Errorf("config: Tracker.BatchSize must be positive")
	}
	if c.Chain.SignerKeyEnv != "" && c.Chain.SignerKeyFile != "" {
		return fmt.Errorf("config: set at most one of Chain.SignerKeyEnv and Chain.SignerKeyFile")
	}
	if c.Pipeline.Enabled && strings.TrimSpace(c.Pipeline.GeneratorURL) == "" {
		return fmt.Errorf("config: Pipeline.GeneratorURL is required when the pipeline is enabled")
	}
	return nil
}

// SignerKey resolves the transacting key from the configured source. An
// empty result means the daemon runs read-only.
func (c *Chain) SignerKey() (string, error) {
	if c.SignerKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(c.SignerKeyEnv)), nil
	}
	if c.SignerKeyFile != "" {
		raw, err := os.ReadFile(c.SignerKeyFile)
		if err != nil {
			return "", fmt.Errorf("config: read signer key file: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return "", nil
}

// CallTimeoutDuration returns the chain call timeout as a duration.
func (c *Chain) CallTimeoutDuration() time.Duration {
	return time.Duration(c.CallTimeout) * time.Second
}

// PollIntervalDuration returns the polling cadence as a duration.
func (t *Tracker) PollIntervalDuration() time.Duration {
	return time.Duration(t.PollInterval) * time.Second
}

// TimeoutDuration returns the IPFS client timeout as a duration.
func (i *IPFS) TimeoutDuration() time.Duration {
	return time.Duration(i.Timeout) * time.Second
}

// GeneratorTimeoutDuration returns the generation timeout as a duration.
func (p *Pipeline) GeneratorTimeoutDuration() time.Duration {
	return time.Duration(p.GeneratorTimeout) * time.Second
}
