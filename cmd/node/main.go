package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/EcProtocol/EcNode-sub003/internal/logger"
)

func main() {
	cfg := parseFlags()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger.Init(level)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(cfg *Config) error {
	id, err := loadOrMineIdentity(cfg)
	if err != nil {
		return fmt.Errorf("identity:\n%w", err)
	}
	cfg.Identity = id

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg)

	return node.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config) {
	logger.Info("starting node",
		"address", cfg.Identity.Addr,
		"listen", cfg.ListenAddr,
		"data", cfg.DataPath,
		"seeds", len(cfg.Seeds),
		"difficulty", cfg.Difficulty.Difficulty,
	)
}
