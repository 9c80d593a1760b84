package peers

import (
	"math/rand"

	"github.com/EcProtocol/EcNode-sub003/internal/proof"
	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

// sampleSet keeps a bounded sample of tokens per distance class around
// the local address. Every answer and referral feeds it, and challenge
// token selection draws from it, so the node can aim elections at any
// region of the ring it has ever heard about.
type sampleSet struct {
	self        ring.Peer
	maxPerClass int
	classes     [ring.NumClasses]map[ring.Token]struct{}
}

func newSampleSet(self ring.Peer, maxPerClass int) *sampleSet {
	s := &sampleSet{self: self, maxPerClass: maxPerClass}
	for i := range s.classes {
		s.classes[i] = make(map[ring.Token]struct{})
	}

	return s
}

// add records a token, evicting an arbitrary member of its class when
// the class is full. The local address is never stored.
func (s *sampleSet) add(token ring.Token) bool {
	if token == s.self {
		return false
	}

	class := ring.DistanceClass(s.self, token)
	set := s.classes[class]

	if _, present := set[token]; present {
		return false
	}

	if len(set) >= s.maxPerClass {
		for old := range set {
			delete(set, old)
			break
		}
	}

	set[token] = struct{}{}

	return true
}

// addFromAnswer samples every token an answer carries: the answered
// token plus the ten signature tokens.
func (s *sampleSet) addFromAnswer(answer proof.Mapping, sig proof.Signature) {
	s.add(answer.Token)

	for _, m := range sig {
		if m.Token != 0 {
			s.add(m.Token)
		}
	}
}

// pickFromClass returns a token from the given class, if any.
func (s *sampleSet) pickFromClass(rng *rand.Rand, class int) (ring.Token, bool) {
	if class < 0 || class >= ring.NumClasses {
		return 0, false
	}

	set := s.classes[class]
	if len(set) == 0 {
		return 0, false
	}

	skip := rng.Intn(len(set))
	for token := range set {
		if skip == 0 {
			return token, true
		}
		skip--
	}

	return 0, false
}

// pickRandom returns a token from any class, if any are stored.
func (s *sampleSet) pickRandom(rng *rand.Rand) (ring.Token, bool) {
	total := s.len()
	if total == 0 {
		return 0, false
	}

	skip := rng.Intn(total)
	for _, set := range s.classes {
		if skip >= len(set) {
			skip -= len(set)
			continue
		}

		for token := range set {
			if skip == 0 {
				return token, true
			}
			skip--
		}
	}

	return 0, false
}

// classLen returns the number of samples in one class.
func (s *sampleSet) classLen(class int) int {
	return len(s.classes[class])
}

// len returns the total number of sampled tokens.
func (s *sampleSet) len() int {
	total := 0
	for _, set := range s.classes {
		total += len(set)
	}

	return total
}
