package main

import (
	"github.com/EcProtocol/EcNode-sub003/internal/logger"
	"github.com/EcProtocol/EcNode-sub003/internal/network"
	"github.com/EcProtocol/EcNode-sub003/internal/peers"
)

// setupHandlers wires transport events into the peer manager.
func (n *Node) setupHandlers() {
	n.network.OnConnect(func(peer *network.Peer) {
		logger.Debug("transport connected", "peer", peer.ID(), "addr", peer.Address())
		n.manager.UpdateKeepalive(peer.ID(), n.now())
	})

	n.network.OnDisconnect(func(peer *network.Peer) {
		logger.Debug("transport disconnected", "peer", peer.ID())
	})

	n.network.OnMessage(func(peer *network.Peer, m network.Message) {
		now := n.now()

		switch msg := m.(type) {
		case network.Query:
			n.dispatch(n.manager.HandleQuery(msg.Token, msg.Ticket, peer.ID(), now))

		case network.Answer:
			n.dispatch(n.manager.HandleAnswer(msg.Ticket, msg.Answer, msg.Signature, peer.ID(), now))

		case network.Referral:
			n.dispatch(n.manager.HandleReferral(msg.Ticket, msg.Token, msg.Suggested, peer.ID(), now))
		}
	})

	n.setupRequestHandlers()
}

// dispatch sends the manager's scheduled messages over the transport.
// Receivers without a live connection are skipped; the manager's
// timeouts deal with the silence.
func (n *Node) dispatch(actions []peers.Action) {
	for _, a := range actions {
		peer := n.network.GetPeer(a.Receiver)
		if peer == nil {
			logger.Debug("no transport connection", "kind", a.Kind, "peer", a.Receiver)
			continue
		}

		var m network.Message
		switch a.Kind {
		case peers.SendQuery:
			m = network.Query{Token: a.Token, Ticket: a.Ticket}

		case peers.SendAnswer:
			m = network.Answer{Ticket: a.Ticket, Answer: a.Answer, Signature: a.Signature}

		case peers.SendInvitation:
			// Ticket zero marks the answer as an invitation.
			m = network.Answer{Answer: a.Answer, Signature: a.Signature}

		case peers.SendReferral:
			m = network.Referral{Ticket: a.Ticket, Token: a.Token, Suggested: a.Suggested}

		default:
			continue
		}

		if err := peer.Send(m); err != nil {
			logger.Debug("send failed", "kind", a.Kind, "peer", a.Receiver, "error", err)
		}
	}
}
