package accumulator

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// TreeDepth mirrors the fixed depth of the on-chain accumulator.
const TreeDepth = types.TreeDepth

// MaxLeaves is the number of leaves a full tree holds: 2^32 - 1.
const MaxLeaves = types.MaxLeaves

var (
	// ErrMerkleTreeFull is returned when ingesting into a tree that already
	// holds 2^32 - 1 leaves.
	ErrMerkleTreeFull = errors.New("merkle tree full")

	// ErrIndexTooHigh is returned when proving an index at or above 2^32 - 1.
	ErrIndexTooHigh = errors.New("requested proof for index above tree capacity")

	// ErrZeroProof is returned when proving an index that has no leaf yet.
	ErrZeroProof = errors.New("requested proof for a zero element")
)

// zeroHashes[i] is the hash of an empty subtree of height i.
// zeroHashes[0] is the zero leaf; zeroHashes[TreeDepth] the empty-tree root.
var zeroHashes [TreeDepth + 1]common.Hash

func init() {
	for i := 0; i < TreeDepth; i++ {
		zeroHashes[i+1] = types.HashConcat(zeroHashes[i], zeroHashes[i])
	}
}

// ZeroHash returns the hash of an empty subtree of the given height.
func ZeroHash(height int) common.Hash {
	return zeroHashes[height]
}

// IncrementalMerkle is the sparse depth-32 accumulator in its compact form:
// the 32 left-subtree hashes touched by the next insertion plus the leaf
// count. Insertion at index count is the only legal mutation.
type IncrementalMerkle struct {
	branch [TreeDepth]common.Hash
	count  uint64
}

// Count returns the number of leaves ingested so far.
func (m *IncrementalMerkle) Count() uint64 {
	return m.count
}

// Branch returns a copy of the current branch.
func (m *IncrementalMerkle) Branch() [TreeDepth]common.Hash {
	return m.branch
}

// Ingest inserts a leaf at index count using the bitwise-append algorithm:
// walk up the tree carrying the running node; at the first level where the
// count bit is 0 the node becomes the stored branch entry.
func (m *IncrementalMerkle) Ingest(leaf common.Hash) error {
	if m.count >= MaxLeaves {
		return ErrMerkleTreeFull
	}
	m.count++
	node := leaf
	size := m.count
	for i := 0; i < TreeDepth; i++ {
		if size&1 == 1 {
			m.branch[i] = node
			return nil
		}
		node = types.HashConcat(m.branch[i], node)
		size >>= 1
	}
	// Unreachable while count < 2^32 - 1.
	return fmt.Errorf("branch walk overran depth %d at count %d", TreeDepth, m.count)
}

// Root folds the branch with the zero hashes and returns the current root.
// It never mutates the tree.
func (m *IncrementalMerkle) Root() common.Hash {
	var node common.Hash
	size := m.count
	for i := 0; i < TreeDepth; i++ {
		if size&1 == 1 {
			node = types.HashConcat(m.branch[i], node)
		} else {
			node = types.HashConcat(node, zeroHashes[i])
		}
		size >>= 1
	}
	return node
}

// Verify checks a proof against an expected root, returning
// VerificationFailedError on mismatch.
func Verify(proof *types.Proof, expected common.Hash) error {
	actual := proof.Root()
	if actual != expected {
		return &VerificationFailedError{Expected: expected, Actual: actual}
	}
	return nil
}

// VerificationFailedError reports a proof that folds to the wrong root.
type VerificationFailedError struct {
	Expected common.Hash
	Actual   common.Hash
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("proof verification failed: root is %s, produced %s",
		e.Expected.Hex(), e.Actual.Hex())
}
