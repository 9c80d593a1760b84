package identity

import (
	"fmt"
	"os"

	"golang.org/x/crypto/curve25519"
)

// fileSize is the on-disk identity size: private key plus mined salt.
// The public key, hash and address are recomputed on load.
const fileSize = 32 + 16

// Save writes the identity to path, readable by the owner only. Only
// mined identities are saved; an unmined one has nothing durable yet.
func (id *Identity) Save(path string) error {
	if !id.mined {
		return ErrNotMined
	}

	buf := make([]byte, 0, fileSize)
	buf = append(buf, id.secret[:]...)
	buf = append(buf, id.Salt[:]...)

	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return fmt.Errorf("save identity:\n%w", err)
	}

	return nil
}

// Load reads an identity from path and recomputes its address, which
// costs one hash. The stored salt must still meet cfg's difficulty;
// this catches both corrupt files and identities mined for a weaker
// network.
func Load(path string, cfg Config) (*Identity, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load identity:\n%w", err)
	}

	if len(buf) != fileSize {
		return nil, fmt.Errorf("identity file is %d bytes, want %d", len(buf), fileSize)
	}

	id := &Identity{}
	copy(id.secret[:], buf[:32])
	copy(id.Salt[:], buf[32:])

	pub, err := curve25519.X25519(id.secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key:\n%w", err)
	}
	copy(id.Public[:], pub)

	id.Hash = hashAddress(id.Public, id.Salt, cfg)
	if trailingZeroBits(id.Hash) < cfg.Difficulty {
		return nil, fmt.Errorf("identity file does not meet difficulty %d", cfg.Difficulty)
	}

	id.Addr = Address(id.Hash)
	id.mined = true

	return id, nil
}
