package types

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain is the 32-bit identifier of a chain inside the messaging network.
type Domain uint32

// TreeDepth is the depth of the message accumulator on every home contract.
const TreeDepth = 32

// MaxLeaves is the maximum number of leaves a depth-32 accumulator can hold.
const MaxLeaves = uint64(1)<<TreeDepth - 1

// NomadIdentifier is a 32-byte left-padded address. Addresses shorter than
// 32 bytes (e.g. 20-byte Ethereum addresses) occupy the low-order bytes.
type NomadIdentifier = common.Hash

// AddressToIdentifier left-pads an Ethereum address into a NomadIdentifier.
func AddressToIdentifier(addr common.Address) NomadIdentifier {
	return common.BytesToHash(addr.Bytes())
}

// IdentifierToAddress truncates a NomadIdentifier to its low 20 bytes.
func IdentifierToAddress(id NomadIdentifier) common.Address {
	return common.BytesToAddress(id.Bytes())
}

// HomeDomainHash computes keccak256(domain.be_bytes || "NOMAD"), the
// domain-separation constant mixed into every update digest. It must match
// the on-chain computation byte for byte.
func HomeDomainHash(homeDomain Domain) common.Hash {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(homeDomain))
	return crypto.Keccak256Hash(buf[:], []byte("NOMAD"))
}

// DestinationAndNonce packs destination and nonce into the single uint64
// field emitted by the home contract: (destination << 32) | nonce.
func DestinationAndNonce(destination Domain, nonce uint32) uint64 {
	return uint64(destination)<<32 | uint64(nonce)
}

// HashConcat returns keccak256(left || right).
func HashConcat(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left[:], right[:])
}
