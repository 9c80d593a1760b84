package election

import "errors"

// Caller-misuse errors: the call pattern is wrong, retrying will not help.
var (
	// ErrUnknownTicket means no channel in this election owns the ticket.
	// Tickets from other elections land here by construction.
	ErrUnknownTicket = errors.New("election: unknown ticket")

	// ErrWrongToken means the message references a different challenge
	// token than the election it was routed to.
	ErrWrongToken = errors.New("election: wrong challenge token")

	// ErrChannelExists means a channel to this first hop was already
	// opened during this election. One route per hop bounds exposure.
	ErrChannelExists = errors.New("election: channel to this peer already exists")

	// ErrMaxChannels means the election has exhausted its channel budget.
	ErrMaxChannels = errors.New("election: maximum channel count reached")
)

// Adversarial-response errors: they degrade a single channel and are
// always safe to ignore beyond logging.
var (
	// ErrDuplicateResponse means a second response arrived on a channel.
	// The channel is now blocked and all its responses are discarded.
	ErrDuplicateResponse = errors.New("election: duplicate response on channel")

	// ErrChannelBlocked means the channel was blocked by an earlier
	// duplicate and accepts nothing further.
	ErrChannelBlocked = errors.New("election: channel is blocked")
)
