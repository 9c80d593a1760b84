package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/EcProtocol/EcNode-sub003/internal/logger"
	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

const (
	// defaultRequestTimeout is the default timeout for Request calls.
	defaultRequestTimeout = 30 * time.Second
)

// Peer represents an authenticated connection to a remote node.
type Peer struct {
	id      ring.Peer       // id is the remote node's ring address
	public  [32]byte        // public is the remote node's X25519 public key
	address string          // address is the remote address (for reconnection)
	conn    quic.Connection // conn is the underlying QUIC connection
	node    *Node           // node is the parent node
	closed  atomic.Bool     // closed indicates if the peer is closed
	mu      sync.Mutex      // mu protects send operations
}

// ID returns the remote node's ring address.
func (p *Peer) ID() ring.Peer {
	return p.id
}

// Public returns the remote node's X25519 public key.
func (p *Peer) Public() [32]byte {
	return p.public
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// Send encodes a message and sends it on a new unidirectional stream.
func (p *Peer) Send(m Message) error {
	if p.closed.Load() {
		return fmt.Errorf("peer is closed")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stream, err := p.conn.OpenUniStreamSync(context.Background())
	if err != nil {
		return fmt.Errorf("open stream:\n%w", err)
	}

	if err := writeMessage(stream, Encode(m)); err != nil {
		stream.Close()
		return fmt.Errorf("write message:\n%w", err)
	}

	return stream.Close()
}

// Close closes the peer connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil // Already closed
	}

	return p.conn.CloseWithError(0, "closed")
}

// Request sends data and waits for the response on a bidirectional
// stream. Used for snapshot transfers, which are raw payloads rather
// than election messages.
func (p *Peer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("peer is closed")
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeMessage(stream, data); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	response, err := readMessage(stream)
	if err != nil {
		return nil, fmt.Errorf("read response:\n%w", err)
	}

	return response, nil
}

// receiveLoop accepts incoming streams and processes messages.
func (p *Peer) receiveLoop() {
	// Accept both unidirectional and bidirectional streams concurrently
	go p.acceptBidiStreams(context.Background())

	for {
		// Use timeout to detect stuck connections
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		stream, err := p.conn.AcceptUniStream(ctx)
		cancel()

		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				continue // Try again
			}
			logger.Debug("receive loop ended", "peer", p.id, "error", err)
			break
		}

		go p.handleUniStream(stream)
	}

	p.handleDisconnect()
}

// acceptBidiStreams accepts bidirectional streams for request/response.
// The first bidirectional stream of a connection carries the hello
// exchange and is consumed during setup, before this loop starts.
func (p *Peer) acceptBidiStreams(ctx context.Context) {
	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			return
		}

		go p.handleBidiStream(stream)
	}
}

// handleBidiStream handles a bidirectional request/response stream.
func (p *Peer) handleBidiStream(stream quic.Stream) {
	defer stream.Close()

	data, err := readMessage(stream)
	if err != nil {
		return
	}

	response, err := p.node.callOnRequest(p, data)
	if err != nil {
		return
	}

	writeMessage(stream, response)
}

// handleUniStream reads and decodes a message from a unidirectional
// stream.
func (p *Peer) handleUniStream(stream quic.ReceiveStream) {
	data, err := readMessage(stream)
	if err != nil {
		logger.Debug("stream read error", "peer", p.id, "error", err)
		return
	}

	m, err := Decode(data)
	if err != nil {
		logger.Debug("message decode error", "peer", p.id, "error", err)
		return
	}

	// Hello is only valid during connection setup.
	if _, isHello := m.(Hello); isHello {
		logger.Debug("hello after handshake dropped", "peer", p.id)
		return
	}

	p.node.callOnMessage(p, m)
}

// handleDisconnect handles peer disconnection.
func (p *Peer) handleDisconnect() {
	if p.closed.Swap(true) {
		return // Already closed
	}

	p.node.handlePeerDisconnect(p)
}
