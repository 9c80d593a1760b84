package tokens

import (
	"github.com/EcProtocol/EcNode-sub003/internal/proof"
	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

// Prover produces proof-of-storage signatures from the local token
// store. It holds no state of its own; every signature is derived from
// the backend's current contents.
type Prover struct {
	backend Backend
}

// NewProver creates a prover over the given store.
func NewProver(b Backend) *Prover {
	return &Prover{backend: b}
}

// Sign answers a proof-of-storage challenge. It looks up the challenged
// token's block, derives the digest chunks for this requester and fills
// the ten signature slots by scanning the store away from the
// challenge: each slot takes the first stored token in scan direction
// whose address suffix matches the slot's chunk.
//
// ok is false when the node cannot prove: the challenged token is not
// stored, or the store is too sparse to fill every slot. That is the
// signal to refer the requester elsewhere instead of answering.
func (p *Prover) Sign(target ring.Token, requester ring.Peer) (answer proof.Mapping, sig proof.Signature, ok bool, err error) {
	entry, found, err := p.backend.Lookup(target)
	if err != nil || !found {
		return proof.Mapping{}, proof.Signature{}, false, err
	}

	chunks := proof.Chunks(target, entry.Block, requester)

	slot := 0
	err = p.backend.AscendAfter(target, func(token ring.Token, e Entry) bool {
		if proof.Suffix(token) == chunks[slot] {
			sig[slot] = proof.Mapping{Token: token, Block: e.Block}
			slot++
		}

		return slot < proof.SignatureSize/2
	})
	if err != nil {
		return proof.Mapping{}, proof.Signature{}, false, err
	}
	if slot < proof.SignatureSize/2 {
		return proof.Mapping{}, proof.Signature{}, false, nil
	}

	err = p.backend.DescendBefore(target, func(token ring.Token, e Entry) bool {
		if proof.Suffix(token) == chunks[slot] {
			sig[slot] = proof.Mapping{Token: token, Block: e.Block}
			slot++
		}

		return slot < proof.SignatureSize
	})
	if err != nil {
		return proof.Mapping{}, proof.Signature{}, false, err
	}
	if slot < proof.SignatureSize {
		return proof.Mapping{}, proof.Signature{}, false, nil
	}

	return proof.Mapping{Token: target, Block: entry.Block}, sig, true, nil
}
