package main

import (
	"flag"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"musemarket/config"
	"musemarket/core"
	"musemarket/crypto"
	"musemarket/gateway"
	"musemarket/gateway/middleware"
	"musemarket/observability/logging"
	"musemarket/rpc"
	"musemarket/storage"
)

const gatewaySecretEnv = "MUSE_GATEWAY_SECRET"

// genesisMarkerKey records that the genesis allocations have been applied, so
// restarts do not credit balances twice.
var genesisMarkerKey = []byte("genesis:seeded")

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("marketd", cfg.Environment)
	logger.Info("starting marketd", "network", cfg.NetworkName, "backend", cfg.StorageBackend)

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	node := core.NewNode(db)
	if err := seedGenesis(db, node, cfg); err != nil {
		logger.Error("failed to seed genesis state", "error", err)
		os.Exit(1)
	}

	authSecret := strings.TrimSpace(os.Getenv(gatewaySecretEnv))
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    authSecret != "",
		HMACSecret: authSecret,
		Issuer:     cfg.NetworkName,
	}, logger)
	if authSecret == "" {
		logger.Warn("gateway authentication disabled", "env", gatewaySecretEnv)
	}
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"read":  {RequestsPerMinute: 600, Burst: 60},
		"write": {RequestsPerMinute: 120, Burst: 20},
	})

	router := gateway.NewRouter(gateway.Config{
		Node:          node,
		Logger:        logger,
		Authenticator: auth,
		RateLimiter:   limiter,
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- rpc.NewServer(node, logger).Start(cfg.RPCAddress)
	}()
	go func() {
		logger.Info("starting gateway", "addr", cfg.GatewayAddress)
		errCh <- gateway.Serve(cfg.GatewayAddress, router)
	}()

	err = <-errCh
	logger.Error("server exited", "error", err)
	os.Exit(1)
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "market.db"))
	case "leveldb":
		return storage.NewLevelDB(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// seedGenesis applies the configured balances and asset custody exactly once
// per database.
func seedGenesis(db storage.Database, node *core.Node, cfg *config.Config) error {
	seeded, err := db.Has(genesisMarkerKey)
	if err != nil {
		return err
	}
	if seeded {
		return nil
	}
	for _, alloc := range cfg.GenesisAlloc {
		addr, err := decodeIdentity(alloc.Address)
		if err != nil {
			return fmt.Errorf("genesis allocation %q: %w", alloc.Address, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Balance), 10)
		if !ok || balance.Sign() < 0 {
			return fmt.Errorf("genesis allocation %q: invalid balance %q", alloc.Address, alloc.Balance)
		}
		if err := node.Mint(addr, balance); err != nil {
			return err
		}
	}
	for _, unit := range cfg.GenesisAssets {
		asset, err := decodeIdentity(unit.Asset)
		if err != nil {
			return fmt.Errorf("genesis asset %q: %w", unit.Asset, err)
		}
		holder, err := decodeIdentity(unit.Holder)
		if err != nil {
			return fmt.Errorf("genesis asset holder %q: %w", unit.Holder, err)
		}
		if err := node.MintAsset(asset, holder); err != nil {
			return err
		}
	}
	return db.Put(genesisMarkerKey, []byte{1})
}

func decodeIdentity(value string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}
