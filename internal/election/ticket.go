package election

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

// Ticket is an opaque value binding one query route to one election. It
// is derived from the election secret, so it cannot be forged, replayed
// against a different first hop, or carried into another election.
type Ticket uint64

// secret is the per-election ticket key. It is generated once at
// election construction and never reused.
type secret [32]byte

// newSecret draws a fresh secret from the system CSPRNG.
func newSecret() (secret, error) {
	var s secret
	if _, err := rand.Read(s[:]); err != nil {
		return secret{}, fmt.Errorf("generate election secret:\n%w", err)
	}

	return s, nil
}

// ticket derives the route ticket for (target, firstHop) under this
// secret. The derivation is deterministic, so an election can recognize
// its own tickets without storing them.
func (s *secret) ticket(target ring.Token, firstHop ring.Peer) Ticket {
	h, _ := blake3.NewKeyed(s[:]) // key is always 32 bytes

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(target))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(firstHop))
	h.Write(buf[:])

	t := Ticket(binary.LittleEndian.Uint64(h.Sum(nil)[:8]))
	if t == 0 {
		// Zero marks invitations on the wire and cannot be issued.
		t = 1
	}

	return t
}
