package peers

import "github.com/EcProtocol/EcNode-sub003/internal/election"

// Tick is the manager's logical clock. The host advances it at its own
// cadence; nothing in this package reads a wall clock.
type Tick uint64

// Config tunes the peer lifecycle and election scheduling. All
// durations are in ticks.
type Config struct {
	// TotalBudget is the connection budget across all distance classes.
	TotalBudget int

	// ElectionInterval is the spacing between self-started elections.
	ElectionInterval Tick

	// MinCollectionTime is how long an election collects responses
	// before the first winner check.
	MinCollectionTime Tick

	// ElectionTimeout abandons an election that has not converged.
	ElectionTimeout Tick

	// PendingTimeout demotes a Pending peer whose invitation went
	// unanswered.
	PendingTimeout Tick

	// ConnectionTimeout demotes a Connected peer without keepalives.
	ConnectionTimeout Tick

	// ElectionCacheTTL keeps finished elections around so late
	// responses and repeat challenges hit the cache instead of
	// spawning duplicates.
	ElectionCacheTTL Tick

	// QualityAlpha is the smoothing factor of the quality moving
	// average.
	QualityAlpha float64

	// ElectionChannels is how many query channels a new election opens.
	ElectionChannels int

	// ChannelCandidates is how many closest peers are considered when
	// opening channels.
	ChannelCandidates int

	// MaxKnownPeers caps the discovered peer table.
	MaxKnownPeers int

	// MaxSamplesPerClass caps the token samples kept per distance
	// class.
	MaxSamplesPerClass int

	// Election configures the election core itself.
	Election election.Config
}

// DefaultConfig returns the standard tuning: one election a minute,
// fifty connections spread over the ring with a bias toward close
// peers.
func DefaultConfig() Config {
	return Config{
		TotalBudget:        50,
		ElectionInterval:   60,
		MinCollectionTime:  2,
		ElectionTimeout:    8,
		PendingTimeout:     10,
		ConnectionTimeout:  300,
		ElectionCacheTTL:   300,
		QualityAlpha:       0.3,
		ElectionChannels:   3,
		ChannelCandidates:  8,
		MaxKnownPeers:      1000,
		MaxSamplesPerClass: 20,
		Election:           election.DefaultConfig(),
	}
}
