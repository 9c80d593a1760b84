package election

import (
	"math/bits"
	"sort"

	"github.com/EcProtocol/EcNode-sub003/internal/proof"
	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

// Verdict classifies the outcome of a winner check. NoConsensus and
// SplitBrain are first-class results, not failures: an election that has
// not yet converged is an expected state.
type Verdict uint8

const (
	// NoConsensus means the valid responses are too few or too fragmented.
	NoConsensus Verdict = iota

	// Single means one cluster holds a majority of the valid responses.
	Single

	// SplitBrain means two comparably sized, mutually incompatible
	// clusters exist. This is evidence of genuine disagreement or a
	// network partition, never silently resolved in favor of one side.
	SplitBrain
)

func (v Verdict) String() string {
	switch v {
	case Single:
		return "single"
	case SplitBrain:
		return "split-brain"
	default:
		return "no-consensus"
	}
}

// Cluster is a set of responses whose signatures all pairwise share at
// least ConsensusThreshold mappings. Every pair must meet the threshold,
// not just a spanning structure.
type Cluster struct {
	Members    []ring.Peer
	Signatures []proof.Signature
}

// WinnerResult is the verdict of a winner check, recomputed from the
// currently valid responses on every call.
type WinnerResult struct {
	Verdict Verdict

	// Winner and Cluster are set for Single and SplitBrain.
	Winner  ring.Peer
	Cluster *Cluster

	// RivalWinner and Rival describe the competing cluster for SplitBrain.
	RivalWinner ring.Peer
	Rival       *Cluster
}

// response is one valid, unblocked answer feeding the clusterer.
type response struct {
	peer ring.Peer
	sig  proof.Signature
}

// clique is a candidate cluster as a vertex bitset with its ranking keys.
type clique struct {
	set        uint32
	size       int
	sumOverlap int
	members    []ring.Peer // sorted, for the deterministic tie-break
}

// clusterResponses groups the valid responses into maximal mutually
// consistent cliques and derives a verdict. Pure function: it never
// mutates election state and may be called repeatedly as responses
// arrive.
func clusterResponses(target ring.Token, responses []response, cfg Config) WinnerResult {
	n := len(responses)
	if n == 0 || n < cfg.MinClusterSize {
		return WinnerResult{Verdict: NoConsensus}
	}

	// Pairwise overlap graph. MaxChannels bounds n, so the bitset and the
	// exponential clique enumeration below stay trivially cheap.
	overlaps := make([][]int, n)
	adj := make([]uint32, n)

	for i := 0; i < n; i++ {
		overlaps[i] = make([]int, n)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			ov := proof.Overlap(responses[i].sig, responses[j].sig)
			overlaps[i][j], overlaps[j][i] = ov, ov

			if ov >= cfg.ConsensusThreshold {
				adj[i] |= 1 << j
				adj[j] |= 1 << i
			}
		}
	}

	cliques := enumerateCliques(adj, n)

	ranked := make([]clique, 0, len(cliques))
	for _, set := range cliques {
		c := clique{set: set, size: bits.OnesCount32(set)}
		if c.size < cfg.MinClusterSize {
			continue
		}

		for i := 0; i < n; i++ {
			if set&(1<<i) == 0 {
				continue
			}

			c.members = append(c.members, responses[i].peer)
			for j := i + 1; j < n; j++ {
				if set&(1<<j) != 0 {
					c.sumOverlap += overlaps[i][j]
				}
			}
		}

		sort.Slice(c.members, func(a, b int) bool { return c.members[a] < c.members[b] })
		ranked = append(ranked, c)
	}

	if len(ranked) == 0 {
		return WinnerResult{Verdict: NoConsensus}
	}

	// Rank by size, then tightness of agreement, then lexicographically
	// smallest member set so equal cliques resolve deterministically.
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].size != ranked[b].size {
			return ranked[a].size > ranked[b].size
		}
		if ranked[a].sumOverlap != ranked[b].sumOverlap {
			return ranked[a].sumOverlap > ranked[b].sumOverlap
		}
		return lessMembers(ranked[a].members, ranked[b].members)
	})

	top := ranked[0]

	if float64(top.size)/float64(n) >= cfg.MajorityThreshold {
		cluster := buildCluster(responses, top.set)
		return WinnerResult{
			Verdict: Single,
			Winner:  nearestMember(target, cluster.Members),
			Cluster: cluster,
		}
	}

	// No majority. A genuinely competing second clique, one sharing no
	// majority of members with the top and of comparable size, means the
	// network itself disagrees.
	for _, rival := range ranked[1:] {
		shared := bits.OnesCount32(top.set & rival.set)
		if shared*2 > top.size {
			continue // mostly the same responses, not a competitor
		}

		if rival.size*2 >= top.size {
			topCluster := buildCluster(responses, top.set)
			rivalCluster := buildCluster(responses, rival.set)

			return WinnerResult{
				Verdict:     SplitBrain,
				Winner:      nearestMember(target, topCluster.Members),
				Cluster:     topCluster,
				RivalWinner: nearestMember(target, rivalCluster.Members),
				Rival:       rivalCluster,
			}
		}
	}

	return WinnerResult{Verdict: NoConsensus}
}

// enumerateCliques returns every maximal clique of the overlap graph as
// a vertex bitset, via Bron-Kerbosch over bitsets.
func enumerateCliques(adj []uint32, n int) []uint32 {
	var cliques []uint32

	var expand func(r, p, x uint32)
	expand = func(r, p, x uint32) {
		if p == 0 && x == 0 {
			if r != 0 {
				cliques = append(cliques, r)
			}
			return
		}

		for p != 0 {
			i := bits.TrailingZeros32(p)
			v := uint32(1) << i

			expand(r|v, p&adj[i], x&adj[i])

			p &^= v
			x |= v
		}
	}

	expand(0, 1<<n-1, 0)

	return cliques
}

// buildCluster materializes a vertex bitset into member peers and their
// signatures.
func buildCluster(responses []response, set uint32) *Cluster {
	c := &Cluster{}

	for i, r := range responses {
		if set&(1<<i) != 0 {
			c.Members = append(c.Members, r.peer)
			c.Signatures = append(c.Signatures, r.sig)
		}
	}

	return c
}

// nearestMember picks the member closest to the target by ring distance.
func nearestMember(target ring.Token, members []ring.Peer) ring.Peer {
	best := members[0]
	for _, m := range members[1:] {
		if ring.Closer(target, m, best) {
			best = m
		}
	}

	return best
}

// lessMembers compares two sorted member sets lexicographically.
func lessMembers(a, b []ring.Peer) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}

	return len(a) < len(b)
}
