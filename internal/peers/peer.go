package peers

import "github.com/EcProtocol/EcNode-sub003/internal/ring"

// peerState is the lifecycle state of a known peer.
type peerState uint8

const (
	// stateIdentified means the peer was discovered via a referral or
	// answer but no connection exists.
	stateIdentified peerState = iota

	// statePending means we sent an invitation and are waiting for the
	// reciprocal one.
	statePending

	// stateConnected means both sides exchanged invitations.
	stateConnected
)

func (s peerState) String() string {
	switch s {
	case stateIdentified:
		return "identified"
	case statePending:
		return "pending"
	case stateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// peerInfo tracks one known peer through its lifecycle.
type peerInfo struct {
	id    ring.Peer
	state peerState

	// discoveredAt is set on entry to Identified.
	discoveredAt Tick

	// invitationSentAt and fromElection describe the Pending state.
	invitationSentAt Tick
	fromElection     ring.Token

	// Connected-state bookkeeping. quality is an exponential moving
	// average of election outcomes in [0, 1].
	connectedSince Tick
	lastKeepalive  Tick
	wins           int
	attempts       int
	quality        float64
}
