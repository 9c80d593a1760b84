// Package proof implements the signature-based proof-of-storage scheme.
//
// A responder proves it stores tokens near a challenged address by
// returning ten (token, block) mappings sampled from its own store. The
// sample positions are dictated by a digest bound to the challenge, the
// responder's claimed block and the requester's identity, so an answer
// cannot be precomputed for one requester and replayed to another. Five
// mappings are scanned upward in address order from the challenged token
// and five downward; each slot must land on the first stored token whose
// low ten bits equal the slot's digest chunk. Fabricating a passing
// signature without the data requires guessing 100 constrained bits.
package proof

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

const (
	// SignatureSize is the number of mappings in a signature: five above
	// the challenged token and five below.
	SignatureSize = 10

	// chunkBits is the width of one digest chunk.
	chunkBits = 10

	// chunkMask extracts the low chunkBits of an address.
	chunkMask = 1<<chunkBits - 1
)

// Mapping asserts that a token currently resolves to a block.
type Mapping struct {
	Token ring.Token
	Block ring.Block
}

// Signature is an ordered proof-of-storage sample. Slots 0-4 hold tokens
// strictly above the challenged address, slots 5-9 strictly below.
type Signature [SignatureSize]Mapping

// ErrVerify is the sentinel wrapped by all signature verification
// failures. A failed verification discards the response; it is never a
// fatal condition.
var ErrVerify = errors.New("proof: signature verification failed")

// Chunks derives the ten 10-bit sample targets for a challenge. The
// digest binds the challenged token, the responder's claimed block and
// the requester's address.
func Chunks(target ring.Token, claimed ring.Block, requester ring.Peer) [SignatureSize]uint16 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(target))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(claimed))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(requester))

	return splitChunks(blake3.Sum256(buf[:]))
}

// splitChunks extracts ten 10-bit chunks from the first 100 bits of a
// 256-bit digest. Chunks may straddle byte boundaries, so each is read
// through a two-byte little-endian window.
func splitChunks(digest [32]byte) [SignatureSize]uint16 {
	var chunks [SignatureSize]uint16

	for i := range chunks {
		bit := i * chunkBits
		window := uint16(digest[bit/8]) | uint16(digest[bit/8+1])<<8
		chunks[i] = window >> (bit % 8) & chunkMask
	}

	return chunks
}

// Suffix returns the low ten bits of an address, the part matched
// against a digest chunk.
func Suffix(t ring.ID) uint16 {
	return uint16(t & chunkMask)
}

// Verify checks a signature against the challenge that produced it. It
// recomputes the digest from the claimed block, then checks that every
// slot matches its chunk's suffix and that the two scan halves are
// strictly ordered away from the challenged token. Any violation returns
// an error wrapping ErrVerify.
func Verify(target ring.Token, claimed ring.Block, requester ring.Peer, sig Signature) error {
	chunks := Chunks(target, claimed, requester)

	prev := target
	for i := 0; i < SignatureSize/2; i++ {
		if Suffix(sig[i].Token) != chunks[i] {
			return fmt.Errorf("%w: slot %d suffix %#03x, want %#03x", ErrVerify, i, Suffix(sig[i].Token), chunks[i])
		}

		if sig[i].Token <= prev {
			return fmt.Errorf("%w: slot %d breaks ascending order above target", ErrVerify, i)
		}

		prev = sig[i].Token
	}

	prev = target
	for i := SignatureSize / 2; i < SignatureSize; i++ {
		if Suffix(sig[i].Token) != chunks[i] {
			return fmt.Errorf("%w: slot %d suffix %#03x, want %#03x", ErrVerify, i, Suffix(sig[i].Token), chunks[i])
		}

		if sig[i].Token >= prev {
			return fmt.Errorf("%w: slot %d breaks descending order below target", ErrVerify, i)
		}

		prev = sig[i].Token
	}

	return nil
}

// Overlap counts the (token, block) pairs present in both signatures.
// It is symmetric, and Overlap(s, s) == SignatureSize.
func Overlap(a, b Signature) int {
	count := 0

	for _, ma := range a {
		for _, mb := range b {
			if ma == mb {
				count++
				break
			}
		}
	}

	return count
}
