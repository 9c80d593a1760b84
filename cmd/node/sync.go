package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/EcProtocol/EcNode-sub003/internal/logger"
	"github.com/EcProtocol/EcNode-sub003/internal/network"
	"github.com/EcProtocol/EcNode-sub003/internal/tokens"
)

// snapshotRequest is the request payload asking a peer for its full
// token store.
var snapshotRequest = []byte("tokens/snapshot")

// snapshotTimeout bounds one snapshot transfer.
const snapshotTimeout = 60 * time.Second

// setupRequestHandlers serves token store snapshots to syncing peers.
func (n *Node) setupRequestHandlers() {
	n.network.OnRequest(func(peer *network.Peer, data []byte) ([]byte, error) {
		if bytes.Equal(data, snapshotRequest) {
			snapshot, err := tokens.Export(n.backend)
			if err != nil {
				return nil, fmt.Errorf("export snapshot:\n%w", err)
			}

			logger.Info("snapshot served", "peer", peer.ID(), "bytes", len(snapshot))

			return snapshot, nil
		}

		return nil, fmt.Errorf("unknown request type")
	})
}

// bootstrapFromSeed pulls the seed's token store into the local one.
// A fresh node cannot answer queries, so it cannot win elections or
// prove its own address for invitations until this completes.
func (n *Node) bootstrapFromSeed(peer *network.Peer) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	snapshot, err := peer.Request(ctx, snapshotRequest)
	if err != nil {
		logger.Warn("snapshot request failed", "peer", peer.ID(), "error", err)
		return
	}

	count, err := tokens.Import(n.backend, snapshot)
	if err != nil {
		logger.Warn("snapshot import failed", "peer", peer.ID(), "error", err)
		return
	}

	logger.Info("snapshot imported", "peer", peer.ID(), "tokens", count)
}
