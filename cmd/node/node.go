package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/EcProtocol/EcNode-sub003/internal/logger"
	"github.com/EcProtocol/EcNode-sub003/internal/network"
	"github.com/EcProtocol/EcNode-sub003/internal/peers"
	"github.com/EcProtocol/EcNode-sub003/internal/tokens"
)

const (
	// seedRetries is how often a seed connection is retried at startup.
	seedRetries = 5

	// seedRetryDelay is the pause between seed connection attempts.
	seedRetryDelay = 2 * time.Second
)

// Node wires the token store, the transport and the peer manager into a
// running process.
type Node struct {
	cfg     *Config
	backend *tokens.Pebble
	prover  *tokens.Prover
	network *network.Node
	manager *peers.Manager

	clock atomic.Uint64 // logical tick counter
	done  chan struct{}
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg, done: make(chan struct{})}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	n.manager = peers.NewManager(cfg.Identity.Addr, n.prover, cfg.Peers, time.Now().UnixNano())

	return n, nil
}

// initStorage initializes the Pebble token store.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	backend, err := tokens.OpenPebble(n.cfg.DataPath + "/db")
	if err != nil {
		return fmt.Errorf("init token store:\n%w", err)
	}

	n.backend = backend
	n.prover = tokens.NewProver(backend)

	return nil
}

// initNetwork initializes the P2P transport.
func (n *Node) initNetwork() error {
	node, err := network.NewNode(network.Config{
		Identity:   n.cfg.Identity,
		Difficulty: n.cfg.Difficulty,
		ListenAddr: n.cfg.ListenAddr,
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	n.network = node

	return nil
}

// Run starts the node and blocks until shutdown signal.
func (n *Node) Run() error {
	n.setupHandlers()

	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	for _, seed := range n.cfg.Seeds {
		go n.connectSeed(seed)
	}

	go n.tickLoop()

	return n.waitForShutdown()
}

// connectSeed dials a bootstrap address with retries; the listener on
// the other side might not be up yet. A connected seed skips the
// election handshake and immediately serves a token snapshot.
func (n *Node) connectSeed(addr string) {
	for attempt := 0; attempt < seedRetries; attempt++ {
		peer, err := n.network.Connect(addr)
		if err == nil {
			logger.Info("seed connected", "addr", addr, "peer", peer.ID())
			n.manager.AddSeedPeer(peer.ID(), n.now())
			n.bootstrapFromSeed(peer)
			return
		}

		logger.Debug("seed connection failed", "addr", addr, "attempt", attempt+1, "error", err)

		select {
		case <-n.done:
			return
		case <-time.After(seedRetryDelay):
		}
	}

	logger.Warn("seed unreachable", "addr", addr, "attempts", seedRetries)
}

// tickLoop advances the logical clock and executes the manager's
// scheduled sends.
func (n *Node) tickLoop() {
	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
		}

		now := peers.Tick(n.clock.Add(1))
		n.dispatch(n.manager.Tick(now))
	}
}

// now returns the current logical tick.
func (n *Node) now() peers.Tick {
	return peers.Tick(n.clock.Load())
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components gracefully.
func (n *Node) Close() error {
	select {
	case <-n.done:
	default:
		close(n.done)
	}

	if n.network != nil {
		n.network.Close()
	}

	if n.backend != nil {
		n.backend.Close()
	}

	return nil
}
