package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// GenesisAccount seeds a payment balance at startup on a fresh database.
type GenesisAccount struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// GenesisAsset assigns initial custody of an asset unit at startup.
type GenesisAsset struct {
	Asset  string `toml:"Asset"`
	Holder string `toml:"Holder"`
}

type Config struct {
	RPCAddress     string           `toml:"RPCAddress"`
	GatewayAddress string           `toml:"GatewayAddress"`
	DataDir        string           `toml:"DataDir"`
	StorageBackend string           `toml:"StorageBackend"`
	NetworkName    string           `toml:"NetworkName"`
	Environment    string           `toml:"Environment"`
	GenesisAlloc   []GenesisAccount `toml:"GenesisAlloc"`
	GenesisAssets  []GenesisAsset   `toml:"GenesisAssets"`
}

const (
	defaultRPCAddress     = "127.0.0.1:8645"
	defaultGatewayAddress = "127.0.0.1:8655"
	defaultDataDir        = "./market-data"
	defaultBackend        = "leveldb"
	defaultNetworkName    = "muse-local"
)

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.GatewayAddress) == "" {
		cfg.GatewayAddress = defaultGatewayAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.StorageBackend) == "" {
		cfg.StorageBackend = defaultBackend
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = defaultNetworkName
	}
}

// Validate checks the configuration for unsupported values.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.StorageBackend)) {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("config: unsupported storage backend %q", c.StorageBackend)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
