// Package election implements the peer election core: a pure,
// caller-driven state machine that selects a trustworthy peer close to a
// challenged token address.
//
// An election opens up to MaxChannels independently routed query
// channels, each bound to an unforgeable ticket. Answers carry a
// proof-of-storage signature that is verified against the challenge, and
// each channel counts at most one response; a second response on the
// same ticket blocks the route for good. At any point the caller may ask
// for a winner, which clusters the currently valid responses and either
// names a majority winner, reports a split-brain, or declines.
//
// The core performs no I/O, reads no clock and spawns nothing. All
// transmission, scheduling and timeout policy belongs to the caller, and
// an Election is abandoned by simply dropping it. It is not safe for
// concurrent use; a host that needs that must serialize calls.
package election

import (
	"github.com/EcProtocol/EcNode-sub003/internal/proof"
	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

// Election runs one peer election for a single challenge token.
type Election struct {
	target    ring.Token
	requester ring.Peer
	secret    secret
	cfg       Config

	channels map[Ticket]*channel

	// hops records every first hop ever used, including hops whose
	// channels were destroyed by referrals. Reopening a hop would mint
	// the same deterministic ticket and resurrect a dead route.
	hops map[ring.Peer]struct{}

	created int
}

// New creates an election for a challenge token. The requester identity
// is baked into proof verification so that answers prepared for someone
// else cannot be replayed here. A fresh secret is drawn per election;
// there is no network or storage access.
func New(target ring.Token, requester ring.Peer, cfg Config) (*Election, error) {
	s, err := newSecret()
	if err != nil {
		return nil, err
	}

	return &Election{
		target:    target,
		requester: requester,
		secret:    s,
		cfg:       cfg,
		channels:  make(map[Ticket]*channel),
		hops:      make(map[ring.Peer]struct{}),
	}, nil
}

// Target returns the challenge token.
func (e *Election) Target() ring.Token {
	return e.target
}

// CreateChannel opens a query route through firstHop and returns its
// ticket. The caller is expected to send a Query{target, ticket} to the
// hop; the election itself sends nothing.
func (e *Election) CreateChannel(firstHop ring.Peer) (Ticket, error) {
	if e.created >= e.cfg.MaxChannels {
		return 0, ErrMaxChannels
	}

	if _, used := e.hops[firstHop]; used {
		return 0, ErrChannelExists
	}

	t := e.secret.ticket(e.target, firstHop)
	e.hops[firstHop] = struct{}{}
	e.channels[t] = &channel{ticket: t, firstHop: firstHop, state: statePending}
	e.created++

	return t, nil
}

// HandleAnswer feeds a received Answer into the election. The answer
// mapping is the responder's claim for the challenge token; sig is its
// proof-of-storage signature.
//
// The first answer on a ticket is verified and, if valid, stored as the
// channel's single counted response. Any further answer on the same
// ticket blocks the channel and discards everything it held, so a
// malicious route cannot stuff the election. Verification failures leave
// the channel pending but still consume its single response slot.
func (e *Election) HandleAnswer(t Ticket, answer proof.Mapping, sig proof.Signature, responder ring.Peer) error {
	ch, ok := e.channels[t]
	if !ok {
		return ErrUnknownTicket
	}

	if ch.state == stateBlocked {
		return ErrChannelBlocked
	}

	if answer.Token != e.target {
		return ErrWrongToken
	}

	ch.responses++
	if ch.responses > 1 {
		ch.block()
		return ErrDuplicateResponse
	}

	if err := proof.Verify(e.target, answer.Block, e.requester, sig); err != nil {
		return err
	}

	ch.store(responder, answer.Block, sig)

	return nil
}

// HandleReferral feeds a received Referral into the election. A valid
// referral destroys its channel (the route declined to answer) and
// returns the suggested peer nearest the challenge token, for the caller
// to open a new channel against.
func (e *Election) HandleReferral(t Ticket, token ring.Token, suggested [2]ring.Peer, responder ring.Peer) (ring.Peer, error) {
	ch, ok := e.channels[t]
	if !ok {
		return 0, ErrUnknownTicket
	}

	if ch.state == stateBlocked {
		return 0, ErrChannelBlocked
	}

	if token != e.target {
		return 0, ErrWrongToken
	}

	delete(e.channels, t)

	next := suggested[0]
	if ring.Closer(e.target, suggested[1], suggested[0]) {
		next = suggested[1]
	}

	return next, nil
}

// CheckForWinner clusters the currently valid responses and returns the
// verdict. Idempotent and side-effect free; callers poll it as responses
// arrive. "Waiting for more responses" is expressed by not calling it.
func (e *Election) CheckForWinner() WinnerResult {
	return clusterResponses(e.target, e.validResponses(), e.cfg)
}

// ValidResponseCount returns the number of responses that currently
// count toward consensus.
func (e *Election) ValidResponseCount() int {
	return len(e.validResponses())
}

// CanCreateChannel reports whether the channel budget has room left.
func (e *Election) CanCreateChannel() bool {
	return e.created < e.cfg.MaxChannels
}

// ChannelCount returns the number of live channels.
func (e *Election) ChannelCount() int {
	return len(e.channels)
}

// BlockedPeerCount returns how many first hops sit behind blocked
// channels. Diagnostic only: the election never bans peers globally.
func (e *Election) BlockedPeerCount() int {
	count := 0
	for _, ch := range e.channels {
		if ch.state == stateBlocked {
			count++
		}
	}

	return count
}

// validResponses collects the stored response of every responded,
// unblocked channel.
func (e *Election) validResponses() []response {
	var out []response
	for _, ch := range e.channels {
		if ch.state == stateResponded {
			out = append(out, response{peer: ch.responder, sig: ch.sig})
		}
	}

	return out
}
