package accumulator

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// Prover is the history-retaining form of the accumulator: it keeps every
// ingested leaf so it can reconstruct the sibling branch of any index, both
// against the current root and against any earlier root. The compact
// IncrementalMerkle tracks the running root so Root stays O(depth).
type Prover struct {
	light  IncrementalMerkle
	leaves []common.Hash
}

// NewProver returns an empty prover.
func NewProver() *Prover {
	return &Prover{}
}

// Count returns the number of leaves ingested so far.
func (p *Prover) Count() uint64 {
	return p.light.Count()
}

// Root returns the current accumulator root.
func (p *Prover) Root() common.Hash {
	return p.light.Root()
}

// Ingest appends a leaf at index Count.
func (p *Prover) Ingest(leaf common.Hash) error {
	if err := p.light.Ingest(leaf); err != nil {
		return err
	}
	p.leaves = append(p.leaves, leaf)
	return nil
}

// Prove constructs the merkle branch for the leaf at index against the
// current root. Fails with ErrIndexTooHigh beyond tree capacity and
// ErrZeroProof for indices with no leaf.
func (p *Prover) Prove(index uint64) (*types.Proof, error) {
	return p.ProveUnder(index, p.Count())
}

// ProveUnder constructs the branch for index against the historical tree
// that held exactly count leaves. This is how proofs are frozen at the
// update that first covered the leaf: the proof verifies against the root
// the tree had at that count, not the current one.
func (p *Prover) ProveUnder(index, count uint64) (*types.Proof, error) {
	if index >= MaxLeaves {
		return nil, ErrIndexTooHigh
	}
	if count > p.Count() {
		count = p.Count()
	}
	if index >= count {
		return nil, ErrZeroProof
	}
	proof := &types.Proof{
		Leaf:  p.leaves[index],
		Index: index,
	}
	for level := 0; level < TreeDepth; level++ {
		proof.Path[level] = p.subtreeRoot(level, index>>level^1, count)
	}
	return proof, nil
}

// RootAt returns the root the tree had when it held exactly count leaves.
func (p *Prover) RootAt(count uint64) common.Hash {
	if count > p.Count() {
		count = p.Count()
	}
	return p.subtreeRoot(TreeDepth, 0, count)
}

// subtreeRoot computes the hash of the subtree of the given height whose
// leftmost leaf is offset*2^height, considering only the first limit
// leaves and short-circuiting to the precomputed zero hash when the subtree
// holds none of them.
func (p *Prover) subtreeRoot(height int, offset, limit uint64) common.Hash {
	first := offset << height
	if first >= limit {
		return zeroHashes[height]
	}
	if height == 0 {
		return p.leaves[first]
	}
	return types.HashConcat(
		p.subtreeRoot(height-1, offset<<1, limit),
		p.subtreeRoot(height-1, offset<<1|1, limit),
	)
}
