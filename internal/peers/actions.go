package peers

import (
	"github.com/EcProtocol/EcNode-sub003/internal/election"
	"github.com/EcProtocol/EcNode-sub003/internal/proof"
	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

// ActionKind discriminates the messages a Manager asks its host to
// send. The manager itself performs no I/O; it hands these back from
// its handlers and Tick, and the host puts them on the wire.
type ActionKind uint8

const (
	// SendQuery opens an election channel toward Receiver.
	SendQuery ActionKind = iota

	// SendAnswer responds to a query with a proof-of-storage signature.
	SendAnswer

	// SendReferral declines a query and suggests two closer peers.
	SendReferral

	// SendInvitation offers a connection to an election winner. An
	// invitation is an answer about the sender's own address with a
	// zero ticket.
	SendInvitation
)

func (k ActionKind) String() string {
	switch k {
	case SendQuery:
		return "query"
	case SendAnswer:
		return "answer"
	case SendReferral:
		return "referral"
	case SendInvitation:
		return "invitation"
	default:
		return "unknown"
	}
}

// Action is one message for the host to send. Fields beyond Kind and
// Receiver are set per kind: Token and Ticket for queries, Answer and
// Signature for answers and invitations, Suggested for referrals.
type Action struct {
	Kind     ActionKind
	Receiver ring.Peer

	Token  ring.Token
	Ticket election.Ticket

	Answer    proof.Mapping
	Signature proof.Signature

	Suggested [2]ring.Peer
}
