package network

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EcProtocol/EcNode-sub003/internal/identity"
	"github.com/EcProtocol/EcNode-sub003/internal/proof"
)

// minedIdentity mines a fresh identity at test difficulty.
func minedIdentity(t *testing.T) *identity.Identity {
	t.Helper()

	id, err := identity.New()
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := id.Mine(ctx, identity.TestConfig); err != nil {
		t.Fatalf("mine identity: %v", err)
	}

	return id
}

// startNode creates and starts a node on a loopback port.
func startNode(t *testing.T, id *identity.Identity) *Node {
	t.Helper()

	node, err := NewNode(Config{
		Identity:   id,
		Difficulty: identity.TestConfig,
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	if err := node.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}
	t.Cleanup(func() { node.Close() })

	return node
}

func TestNode_StartStop(t *testing.T) {
	node, err := NewNode(Config{
		Identity:   minedIdentity(t),
		Difficulty: identity.TestConfig,
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	if err := node.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}

	if err := node.Close(); err != nil {
		t.Fatalf("close node: %v", err)
	}
}

func TestNode_ConnectAuthenticates(t *testing.T) {
	serverID := minedIdentity(t)
	server := startNode(t, serverID)

	var serverSaw atomic.Uint64
	server.OnConnect(func(p *Peer) {
		serverSaw.Store(uint64(p.ID()))
	})

	clientID := minedIdentity(t)
	client := startNode(t, clientID)

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if peer.ID() != serverID.Addr {
		t.Errorf("peer address: got %d, want %d", peer.ID(), serverID.Addr)
	}
	if peer.Public() != serverID.Public {
		t.Error("peer public key mismatch")
	}

	time.Sleep(200 * time.Millisecond)

	if serverSaw.Load() != uint64(clientID.Addr) {
		t.Errorf("server saw peer %d, want %d", serverSaw.Load(), clientID.Addr)
	}

	if got := client.GetPeer(serverID.Addr); got != peer {
		t.Error("GetPeer did not return the connected peer")
	}
}

func TestNode_RejectsUnminedDifficulty(t *testing.T) {
	server := startNode(t, minedIdentity(t))

	// An identity mined at zero difficulty fails the server's check.
	weakID, err := identity.New()
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}

	zero := identity.TestConfig
	zero.Difficulty = 0

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := weakID.Mine(ctx, zero); err != nil {
		t.Fatalf("mine identity: %v", err)
	}

	client, err := NewNode(Config{
		Identity:   weakID,
		Difficulty: zero,
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("start client: %v", err)
	}
	defer client.Close()

	// The dial may succeed before the server tears the connection
	// down; the server must not register the peer either way.
	client.Connect(server.Addr())
	time.Sleep(200 * time.Millisecond)

	if len(server.Peers()) != 0 {
		t.Errorf("server registered %d peers, want 0", len(server.Peers()))
	}
}

func TestNode_SendMessage(t *testing.T) {
	server := startNode(t, minedIdentity(t))

	received := make(chan Message, 1)
	server.OnMessage(func(p *Peer, m Message) {
		received <- m
	})

	client := startNode(t, minedIdentity(t))

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	want := Query{Token: 4242, Ticket: 99}
	if err := peer.Send(want); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case m := <-received:
		got, ok := m.(Query)
		if !ok || got != want {
			t.Fatalf("received %+v, want %+v", m, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestNode_AnswerRoundTrip(t *testing.T) {
	server := startNode(t, minedIdentity(t))

	received := make(chan Message, 1)
	server.OnMessage(func(p *Peer, m Message) {
		received <- m
	})

	client := startNode(t, minedIdentity(t))

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	want := Answer{
		Ticket: 7,
		Answer: proof.Mapping{Token: 100, Block: 200},
	}
	for i := range want.Signature {
		want.Signature[i] = proof.Mapping{Token: 300, Block: 400}
	}

	if err := peer.Send(want); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case m := <-received:
		got, ok := m.(Answer)
		if !ok || got != want {
			t.Fatalf("received %+v, want %+v", m, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("answer not received")
	}
}

func TestNode_Request(t *testing.T) {
	server := startNode(t, minedIdentity(t))

	server.OnRequest(func(p *Peer, data []byte) ([]byte, error) {
		return append([]byte("echo:"), data...), nil
	})

	client := startNode(t, minedIdentity(t))

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := peer.Request(ctx, []byte("snapshot"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if string(resp) != "echo:snapshot" {
		t.Fatalf("response: %q", resp)
	}
}

func TestNode_Forget(t *testing.T) {
	server := startNode(t, minedIdentity(t))
	client := startNode(t, minedIdentity(t))

	peer, err := client.Connect(server.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	client.Forget(peer.ID())

	time.Sleep(200 * time.Millisecond)

	if got := client.GetPeer(peer.ID()); got != nil {
		t.Error("forgotten peer still registered")
	}
}
