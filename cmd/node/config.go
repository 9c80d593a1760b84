package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/EcProtocol/EcNode-sub003/internal/identity"
	"github.com/EcProtocol/EcNode-sub003/internal/logger"
	"github.com/EcProtocol/EcNode-sub003/internal/peers"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// ListenAddr is the QUIC P2P listen address.
	ListenAddr string

	// KeyPath is the path to the identity file.
	KeyPath string

	// Seeds are bootstrap peer addresses.
	Seeds []string

	// Production selects the production identity difficulty.
	Production bool

	// TickInterval is the wall-clock length of one logical tick.
	TickInterval time.Duration

	// Debug enables debug logging.
	Debug bool

	// Identity is the node's mined identity, loaded or mined at startup.
	Identity *identity.Identity

	// Difficulty is the identity difficulty the network enforces.
	Difficulty identity.Config

	// Peers configures the peer manager.
	Peers peers.Config
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{Peers: peers.DefaultConfig()}

	var seeds string

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.ListenAddr, "listen", ":9000", "QUIC P2P address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Identity file path (mines a new one if missing)")
	flag.StringVar(&seeds, "seeds", "", "Comma-separated bootstrap peer addresses")
	flag.BoolVar(&cfg.Production, "production", false, "Use production identity difficulty")
	flag.DurationVar(&cfg.TickInterval, "tick", time.Second, "Logical tick interval")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if seeds != "" {
		for _, s := range strings.Split(seeds, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Seeds = append(cfg.Seeds, s)
			}
		}
	}

	cfg.Difficulty = identity.TestConfig
	if cfg.Production {
		cfg.Difficulty = identity.ProductionConfig
	}

	return cfg
}

// loadOrMineIdentity loads the identity file or mines a fresh identity.
// A mined identity is saved back when a key path is set.
func loadOrMineIdentity(cfg *Config) (*identity.Identity, error) {
	if cfg.KeyPath != "" {
		id, err := identity.Load(cfg.KeyPath, cfg.Difficulty)
		if err == nil {
			return id, nil
		}

		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	id, err := identity.New()
	if err != nil {
		return nil, err
	}

	logger.Info("mining identity", "difficulty", cfg.Difficulty.Difficulty)
	start := time.Now()

	if err := id.Mine(context.Background(), cfg.Difficulty); err != nil {
		return nil, fmt.Errorf("mine identity:\n%w", err)
	}

	logger.Info("identity mined",
		"address", id.Addr,
		"attempts", id.Attempts,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if cfg.KeyPath != "" {
		if err := id.Save(cfg.KeyPath); err != nil {
			return nil, err
		}
	}

	return id, nil
}
