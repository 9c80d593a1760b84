package election

// Config controls consensus formation for a single election.
type Config struct {
	// ConsensusThreshold is the minimum number of identical (token, block)
	// pairs two signatures must share for their responses to count as
	// mutually consistent.
	ConsensusThreshold int

	// MinClusterSize is the minimum clique size that can produce a verdict.
	MinClusterSize int

	// MaxChannels bounds how many channels one election may ever open,
	// including channels later destroyed by referrals.
	MaxChannels int

	// MajorityThreshold is the fraction of valid responses the top cluster
	// must hold to win outright.
	MajorityThreshold float64
}

// DefaultConfig returns the standard election parameters.
func DefaultConfig() Config {
	return Config{
		ConsensusThreshold: 8,
		MinClusterSize:     2,
		MaxChannels:        10,
		MajorityThreshold:  0.6,
	}
}
