package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddress     string     `toml:"ListenAddress" yaml:"listenAddress"`
	DataDir           string     `toml:"DataDir" yaml:"dataDir"`
	Environment       string     `toml:"Environment" yaml:"environment"`
	OwnerKeystorePath string     `toml:"OwnerKeystorePath" yaml:"ownerKeystorePath"`
	Storage           Storage    `toml:"storage" yaml:"storage"`
	Contract          Contract   `toml:"contract" yaml:"contract"`
	Token             Token      `toml:"token" yaml:"token"`
	Dispatcher        Dispatcher `toml:"dispatcher" yaml:"dispatcher"`
	Gateway           Gateway    `toml:"gateway" yaml:"gateway"`
	Journal           Journal    `toml:"journal" yaml:"journal"`
	Logging           Logging    `toml:"logging" yaml:"logging"`
	Telemetry         Telemetry  `toml:"telemetry" yaml:"telemetry"`
}

// Load loads the configuration from the given path. Files ending in .yaml or
// .yml are parsed as YAML, everything else as TOML. A missing file is created
// with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
		}
	}
	cfg.applyDefaults(path)
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		DataDir:       "./peleon-data",
		Environment:   "local",
		Storage:       Storage{Backend: "leveldb"},
		Contract: Contract{
			ID:                "wallet.peleon",
			Variant:           "peer",
			HashAlgorithm:     "sha256",
			SingleCallGas:     1_000_000_000_000_000_000,
			GatewayContractID: "chiron.peleon",
		},
		Token: Token{Symbol: "CHIRON"},
		Dispatcher: Dispatcher{
			QueueSize:     256,
			RatePerSecond: 50,
			Burst:         10,
		},
		Gateway: Gateway{
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 15,
			RateLimitPerSecond:  20,
			RateLimitBurst:      40,
			NonceTTLSeconds:     600,
			MaxSkewSeconds:      120,
			NonceCapacity:       100_000,
			JWTSecretEnv:        "PELEON_OPERATOR_JWT_SECRET",
			JWTIssuer:           "peleon",
		},
		Journal: Journal{Driver: "sqlite"},
		Logging: Logging{Level: "info"},
	}
}

// applyDefaults fills paths derived from the config location and DataDir.
func (c *Config) applyDefaults(configPath string) {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./peleon-data"
	}
	if c.Storage.Path == "" && c.Storage.Backend != "memory" {
		c.Storage.Path = filepath.Join(c.DataDir, "state")
	}
	if c.Journal.Driver == "sqlite" && c.Journal.DSN == "" {
		c.Journal.DSN = filepath.Join(c.DataDir, "journal.db")
	}
	if c.Journal.ReportDir == "" {
		c.Journal.ReportDir = filepath.Join(c.DataDir, "reports")
	}
	if c.OwnerKeystorePath == "" {
		c.OwnerKeystorePath = defaultKeystorePath(configPath)
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	cfg.applyDefaults(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
