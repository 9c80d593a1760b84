// Package network provides the QUIC transport between nodes: encrypted
// connections, a hello exchange that checks each side's mined identity,
// unidirectional streams for election messages and bidirectional
// streams for request/response transfers.
package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/EcProtocol/EcNode-sub003/internal/identity"
	"github.com/EcProtocol/EcNode-sub003/internal/logger"
	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

const (
	// defaultReconnectDelay is the default delay between reconnection attempts.
	defaultReconnectDelay = 5 * time.Second

	// maxReconnectDelay is the maximum delay between reconnection attempts.
	maxReconnectDelay = 60 * time.Second

	// handshakeTimeout bounds the hello exchange on a new connection.
	handshakeTimeout = 10 * time.Second

	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "ecnode/1"
)

// Config holds the configuration for a Node.
type Config struct {
	Identity       *identity.Identity // Identity is the node's mined identity
	Difficulty     identity.Config    // Difficulty is the network's identity difficulty
	ListenAddr     string             // ListenAddr is the address to listen on (e.g., ":9000")
	ReconnectDelay time.Duration      // ReconnectDelay is the initial delay between reconnection attempts
}

// Node represents a network node that can accept and initiate connections.
type Node struct {
	id         *identity.Identity // id is the node's mined identity
	difficulty identity.Config    // difficulty validates remote identities
	listenAddr string             // listenAddr is the address to listen on
	tlsConfig  *tls.Config        // tlsConfig is the TLS configuration
	quicConfig *quic.Config       // quicConfig is the QUIC configuration

	listener *quic.Listener // listener is the QUIC listener

	peers   map[ring.Peer]*Peer // peers maps ring address to peer
	peersMu sync.RWMutex        // peersMu protects peers map

	knownAddrs   map[ring.Peer]string // knownAddrs maps ring address to network address (for reconnection)
	knownAddrsMu sync.RWMutex         // knownAddrsMu protects knownAddrs map

	reconnectDelay time.Duration // reconnectDelay is the initial reconnection delay

	onConnect    func(*Peer)                         // onConnect is called when a peer connects
	onMessage    func(*Peer, Message)                // onMessage is called when a message is received
	onDisconnect func(*Peer)                         // onDisconnect is called when a peer disconnects
	onRequest    func(*Peer, []byte) ([]byte, error) // onRequest handles bidirectional request/response
	handlersMu   sync.RWMutex                        // handlersMu protects event handlers

	ctx    context.Context    // ctx is the node's context
	cancel context.CancelFunc // cancel cancels the node's context
	wg     sync.WaitGroup     // wg waits for goroutines to finish
}

// NewNode creates a new network node.
func NewNode(cfg Config) (*Node, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("identity is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay == 0 {
		reconnectDelay = defaultReconnectDelay
	}

	cert, err := ephemeralCertificate()
	if err != nil {
		return nil, fmt.Errorf("generate certificate:\n%w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // Peers authenticate with the hello exchange
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		id:             cfg.Identity,
		difficulty:     cfg.Difficulty,
		listenAddr:     cfg.ListenAddr,
		tlsConfig:      tlsConfig,
		quicConfig:     quicConfig,
		peers:          make(map[ring.Peer]*Peer),
		knownAddrs:     make(map[ring.Peer]string),
		reconnectDelay: reconnectDelay,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// ID returns the node's ring address.
func (n *Node) ID() ring.Peer {
	return n.id.Addr
}

// Addr returns the listener's address. Returns empty string if not started.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start starts the node and begins accepting connections.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen:\n%w", err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	return nil
}

// Connect connects to a remote node at the given address and performs
// the hello exchange.
func (n *Node) Connect(addr string) (*Peer, error) {
	conn, err := quic.DialAddr(n.ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial:\n%w", err)
	}

	peer, err := n.setupPeer(conn, addr, true)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	return peer, nil
}

// Peers returns a list of all connected peers.
func (n *Node) Peers() []*Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}

	return peers
}

// GetPeer returns the peer for the given ring address, or nil if not
// connected.
func (n *Node) GetPeer(id ring.Peer) *Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	return n.peers[id]
}

// Forget drops a peer's known address so it is no longer reconnected,
// and closes the connection if one is up.
func (n *Node) Forget(id ring.Peer) {
	n.knownAddrsMu.Lock()
	delete(n.knownAddrs, id)
	n.knownAddrsMu.Unlock()

	n.peersMu.Lock()
	peer := n.peers[id]
	delete(n.peers, id)
	n.peersMu.Unlock()

	if peer != nil {
		peer.Close()
	}
}

// OnConnect sets the handler called when a peer connects.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onConnect = fn
	n.handlersMu.Unlock()
}

// OnMessage sets the handler called when a message is received.
func (n *Node) OnMessage(fn func(*Peer, Message)) {
	n.handlersMu.Lock()
	n.onMessage = fn
	n.handlersMu.Unlock()
}

// OnDisconnect sets the handler called when a peer disconnects.
func (n *Node) OnDisconnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onDisconnect = fn
	n.handlersMu.Unlock()
}

// OnRequest sets the handler for incoming bidirectional requests.
// The handler receives request data and returns response data.
func (n *Node) OnRequest(fn func(*Peer, []byte) ([]byte, error)) {
	n.handlersMu.Lock()
	n.onRequest = fn
	n.handlersMu.Unlock()
}

// Close stops the node and closes all connections.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.peersMu.Lock()
	for _, p := range n.peers {
		p.Close()
	}
	n.peers = make(map[ring.Peer]*Peer)
	n.peersMu.Unlock()

	n.wg.Wait()

	return nil
}

// acceptLoop accepts incoming connections.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return // Listener closed
		}

		go n.handleIncoming(conn)
	}
}

// handleIncoming handles an incoming connection.
func (n *Node) handleIncoming(conn quic.Connection) {
	peer, err := n.setupPeer(conn, conn.RemoteAddr().String(), false)
	if err != nil {
		logger.Debug("incoming connection rejected", "addr", conn.RemoteAddr(), "error", err)
		conn.CloseWithError(1, "setup failed")
		return
	}

	n.callOnConnect(peer)
}

// setupPeer runs the hello exchange on a fresh connection and registers
// the authenticated peer.
func (n *Node) setupPeer(conn quic.Connection, addr string, dialed bool) (*Peer, error) {
	hello, err := n.exchangeHello(conn, dialed)
	if err != nil {
		return nil, fmt.Errorf("hello exchange:\n%w", err)
	}

	if !identity.Validate(hello.Peer, hello.Public, hello.Salt, n.difficulty) {
		return nil, fmt.Errorf("invalid identity for peer %d", hello.Peer)
	}

	if hello.Peer == n.id.Addr {
		return nil, fmt.Errorf("connection to self")
	}

	peer := &Peer{
		id:      hello.Peer,
		public:  hello.Public,
		address: addr,
		conn:    conn,
	}
	peer.node = n

	n.peersMu.Lock()
	old := n.peers[hello.Peer]
	n.peers[hello.Peer] = peer
	n.peersMu.Unlock()

	if old != nil {
		old.closed.Store(true)
		old.conn.CloseWithError(0, "replaced")
	}

	n.knownAddrsMu.Lock()
	n.knownAddrs[hello.Peer] = addr
	n.knownAddrsMu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop()
	}()

	return peer, nil
}

// exchangeHello sends and receives identity proofs on the first
// bidirectional stream. The dialer opens the stream and speaks first;
// the listener accepts it and replies.
func (n *Node) exchangeHello(conn quic.Connection, dialed bool) (Hello, error) {
	ctx, cancel := context.WithTimeout(n.ctx, handshakeTimeout)
	defer cancel()

	ours := Hello{
		Peer:   n.id.Addr,
		Public: n.id.Public,
		Salt:   n.id.Salt,
	}

	if dialed {
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			return Hello{}, fmt.Errorf("open stream:\n%w", err)
		}
		defer stream.Close()

		stream.SetDeadline(time.Now().Add(handshakeTimeout))

		if err := writeMessage(stream, Encode(ours)); err != nil {
			return Hello{}, fmt.Errorf("send hello:\n%w", err)
		}

		return readHello(stream)
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return Hello{}, fmt.Errorf("accept stream:\n%w", err)
	}
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(handshakeTimeout))

	theirs, err := readHello(stream)
	if err != nil {
		return Hello{}, err
	}

	if err := writeMessage(stream, Encode(ours)); err != nil {
		return Hello{}, fmt.Errorf("send hello:\n%w", err)
	}

	return theirs, nil
}

func readHello(stream quic.Stream) (Hello, error) {
	data, err := readMessage(stream)
	if err != nil {
		return Hello{}, fmt.Errorf("read hello:\n%w", err)
	}

	m, err := Decode(data)
	if err != nil {
		return Hello{}, fmt.Errorf("decode hello:\n%w", err)
	}

	hello, ok := m.(Hello)
	if !ok {
		return Hello{}, fmt.Errorf("expected hello, got %s", m.kind())
	}

	return hello, nil
}

// handlePeerDisconnect handles a peer disconnection.
func (n *Node) handlePeerDisconnect(p *Peer) {
	n.peersMu.Lock()
	if n.peers[p.id] == p {
		delete(n.peers, p.id)
	}
	n.peersMu.Unlock()

	n.callOnDisconnect(p)

	// Schedule reconnection
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.reconnectPeer(p.id)
	}()
}

// reconnectPeer attempts to reconnect to a peer with exponential backoff.
func (n *Node) reconnectPeer(id ring.Peer) {
	delay := n.reconnectDelay

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}

		n.knownAddrsMu.RLock()
		addr, ok := n.knownAddrs[id]
		n.knownAddrsMu.RUnlock()

		if !ok {
			return // Peer removed from known addresses
		}

		// Check if already reconnected
		n.peersMu.RLock()
		_, exists := n.peers[id]
		n.peersMu.RUnlock()

		if exists {
			return // Already reconnected
		}

		peer, err := n.Connect(addr)
		if err == nil {
			n.callOnConnect(peer)
			return
		}

		// Exponential backoff
		delay = delay * 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// callOnConnect calls the onConnect handler if set.
func (n *Node) callOnConnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onConnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

// callOnMessage calls the onMessage handler if set.
func (n *Node) callOnMessage(p *Peer, m Message) {
	n.handlersMu.RLock()
	fn := n.onMessage
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p, m)
	}
}

// callOnDisconnect calls the onDisconnect handler if set.
func (n *Node) callOnDisconnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onDisconnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

// callOnRequest calls the onRequest handler if set.
func (n *Node) callOnRequest(p *Peer, data []byte) ([]byte, error) {
	n.handlersMu.RLock()
	fn := n.onRequest
	n.handlersMu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("no request handler registered")
	}

	return fn(p, data)
}
