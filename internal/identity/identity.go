// Package identity implements sybil-resistant peer identities.
//
// An identity is an X25519 keypair plus a mined proof-of-work address:
// the node tries random salts until Argon2id(publicKey, salt) ends in
// enough zero bits, and the leading 64 bits of that hash become its
// ring address. The keypair is usable for key exchange immediately;
// mining is a separate, potentially long step. Peers that receive a
// (public key, salt, address) triple can validate it with a single
// hash, so addresses are expensive to mint but cheap to check.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"

	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

// Config sets the address mining difficulty and hash cost. Validation
// happens on every incoming message while mining happens once, so the
// presets keep the Argon2 cost low and put the work into difficulty.
type Config struct {
	Difficulty  uint32 // Difficulty is the required number of trailing zero bits
	MemoryKiB   uint32 // MemoryKiB is the Argon2 memory cost
	Iterations  uint32 // Iterations is the Argon2 time cost
	Parallelism uint8  // Parallelism is the Argon2 thread count
}

// TestConfig mines in seconds. Development only.
var TestConfig = Config{Difficulty: 4, MemoryKiB: 256, Iterations: 1, Parallelism: 1}

// ProductionConfig mines in roughly a day on a modern CPU and
// validates in a few milliseconds.
var ProductionConfig = Config{Difficulty: 24, MemoryKiB: 4096, Iterations: 1, Parallelism: 1}

// ErrNotMined is returned when an operation needs a mined address the
// identity does not have yet.
var ErrNotMined = errors.New("identity: address not mined")

// Identity is one node's keypair and, once mined, its ring address.
type Identity struct {
	secret [32]byte // X25519 private key, never leaves the struct

	// Public is the X25519 public key, usable before mining completes.
	Public [32]byte

	// Salt is the mined proof-of-work nonce. It travels with messages
	// so recipients can validate the address.
	Salt [16]byte

	// Hash is the full Argon2 output the address is cut from.
	Hash [32]byte

	// Addr is the ring address, the leading 64 bits of Hash.
	Addr ring.Peer

	// Attempts counts the salts tried during mining.
	Attempts uint64

	mined bool
}

// New generates a fresh identity with an unmined address.
func New() (*Identity, error) {
	id := &Identity{}
	if _, err := rand.Read(id.secret[:]); err != nil {
		return nil, fmt.Errorf("generate identity key:\n%w", err)
	}

	pub, err := curve25519.X25519(id.secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key:\n%w", err)
	}
	copy(id.Public[:], pub)

	return id, nil
}

// Mined reports whether the identity has an address.
func (id *Identity) Mined() bool {
	return id.mined
}

// Mine searches for a salt whose hash meets the difficulty and binds
// the resulting address to this identity. It runs until it succeeds or
// the context is canceled, and must not be called on a mined identity.
func (id *Identity) Mine(ctx context.Context, cfg Config) error {
	if id.mined {
		return errors.New("identity: already mined")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		id.Attempts++

		var salt [16]byte
		if _, err := rand.Read(salt[:]); err != nil {
			return fmt.Errorf("generate salt:\n%w", err)
		}

		hash := hashAddress(id.Public, salt, cfg)
		if trailingZeroBits(hash) >= cfg.Difficulty {
			id.Salt = salt
			id.Hash = hash
			id.Addr = Address(hash)
			id.mined = true

			return nil
		}
	}
}

// SharedSecret computes the X25519 shared secret with another peer.
// Both sides derive the same value independently. Callers should run
// it through a KDF before using it as a key.
func (id *Identity) SharedSecret(theirPublic [32]byte) ([32]byte, error) {
	raw, err := curve25519.X25519(id.secret[:], theirPublic[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("compute shared secret:\n%w", err)
	}

	var out [32]byte
	copy(out[:], raw)

	return out, nil
}

// Validate checks that addr was honestly mined from the given public
// key and salt under cfg: the hash must meet the difficulty and the
// address must be the hash's leading 64 bits.
func Validate(addr ring.Peer, public [32]byte, salt [16]byte, cfg Config) bool {
	hash := hashAddress(public, salt, cfg)

	if trailingZeroBits(hash) < cfg.Difficulty {
		return false
	}

	return Address(hash) == addr
}

// Address cuts the ring address out of an identity hash. The trailing
// end of the hash holds the mined zero bits, so the address comes from
// the leading bytes to stay uniform over the ring.
func Address(hash [32]byte) ring.Peer {
	return ring.Peer(binary.BigEndian.Uint64(hash[:8]))
}

// hashAddress computes the identity hash for one (public key, salt)
// pair.
func hashAddress(public [32]byte, salt [16]byte, cfg Config) [32]byte {
	var hash [32]byte
	out := argon2.IDKey(public[:], salt[:], cfg.Iterations, cfg.MemoryKiB, cfg.Parallelism, 32)
	copy(hash[:], out)

	return hash
}

// trailingZeroBits counts zero bits from the end of the hash.
func trailingZeroBits(hash [32]byte) uint32 {
	var count uint32

	for i := len(hash) - 1; i >= 0; i-- {
		if hash[i] == 0 {
			count += 8
			continue
		}

		b := hash[i]
		for b&1 == 0 {
			count++
			b >>= 1
		}

		break
	}

	return count
}
