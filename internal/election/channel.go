package election

import (
	"github.com/EcProtocol/EcNode-sub003/internal/proof"
	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

// channelState is the lifecycle state of a query route.
type channelState uint8

const (
	// statePending means the channel has not yet accepted a response.
	statePending channelState = iota

	// stateResponded means the channel holds exactly one verified response.
	stateResponded

	// stateBlocked means a duplicate response poisoned the route. Nothing
	// leaves this state, and the channel contributes zero responses.
	stateBlocked
)

func (s channelState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateResponded:
		return "responded"
	case stateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// channel tracks one independently routed query attempt. It owns exactly
// one ticket and one first hop, and counts at most one response toward
// consensus.
//
// Blocking is channel-scoped on purpose: a malicious first hop can
// forward the query and let honest peers answer it, so punishing the
// responder identities would let the attacker weaponize the mechanism.
// Punishing the route cannot exclude anyone but the route itself.
type channel struct {
	ticket   Ticket
	firstHop ring.Peer
	state    channelState

	// responses counts every answer delivered on the ticket, whether or
	// not it verified. The second one, whatever its content, blocks the
	// channel.
	responses int

	// responder, claimed and sig hold the single stored response while
	// the channel is in stateResponded.
	responder ring.Peer
	claimed   ring.Block
	sig       proof.Signature
}

// block transitions the channel to stateBlocked and discards the stored
// response, including an otherwise valid first one.
func (c *channel) block() {
	c.state = stateBlocked
	c.responder = 0
	c.claimed = 0
	c.sig = proof.Signature{}
}

// store records the first verified response.
func (c *channel) store(responder ring.Peer, claimed ring.Block, sig proof.Signature) {
	c.state = stateResponded
	c.responder = responder
	c.claimed = claimed
	c.sig = sig
}
