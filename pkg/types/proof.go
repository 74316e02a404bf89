package types

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Proof is a merkle branch proving that a leaf occupies a given index in the
// home accumulator. A proof verifies only against the accumulator root at
// the moment it was frozen.
type Proof struct {
	Leaf  common.Hash
	Index uint64
	Path  [TreeDepth]common.Hash
}

const proofLen = 32 + 8 + TreeDepth*32

// Root folds the leaf up the branch using bit-indexed left/right selection
// and returns the implied accumulator root.
func (p *Proof) Root() common.Hash {
	node := p.Leaf
	for i := 0; i < TreeDepth; i++ {
		if p.Index>>i&1 == 1 {
			node = HashConcat(p.Path[i], node)
		} else {
			node = HashConcat(node, p.Path[i])
		}
	}
	return node
}

// MarshalNomad encodes leaf (32) || index (8, big-endian) || path (32 * 32).
func (p *Proof) MarshalNomad() ([]byte, error) {
	buf := make([]byte, proofLen)
	copy(buf[0:32], p.Leaf[:])
	binary.BigEndian.PutUint64(buf[32:40], p.Index)
	for i, node := range p.Path {
		copy(buf[40+i*32:72+i*32], node[:])
	}
	return buf, nil
}

// UnmarshalNomad parses an encoded proof.
func (p *Proof) UnmarshalNomad(data []byte) error {
	if len(data) != proofLen {
		return fmt.Errorf("proof must be %d bytes, got %d", proofLen, len(data))
	}
	p.Leaf = common.BytesToHash(data[0:32])
	p.Index = binary.BigEndian.Uint64(data[32:40])
	for i := range p.Path {
		p.Path[i] = common.BytesToHash(data[40+i*32 : 72+i*32])
	}
	return nil
}

// MessageWithProof pairs a committed message with its frozen accumulator
// proof, ready for delivery to the destination replica.
type MessageWithProof struct {
	Message RawCommittedMessage
	Proof   Proof
}
