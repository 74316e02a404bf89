package types

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// messageHeaderLen is the fixed portion of an encoded Message:
// origin (4) || sender (32) || nonce (4) || destination (4) || recipient (32).
const messageHeaderLen = 4 + 32 + 4 + 4 + 32

// Message is the canonical leaf of the home accumulator. Nonces are strictly
// increasing per (origin, destination) pair at the home contract.
type Message struct {
	Origin      Domain
	Sender      NomadIdentifier
	Nonce       uint32
	Destination Domain
	Recipient   NomadIdentifier
	Body        []byte
}

// MarshalNomad produces the canonical byte encoding hashed into the tree.
func (m *Message) MarshalNomad() ([]byte, error) {
	buf := make([]byte, messageHeaderLen, messageHeaderLen+len(m.Body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Origin))
	copy(buf[4:36], m.Sender[:])
	binary.BigEndian.PutUint32(buf[36:40], m.Nonce)
	binary.BigEndian.PutUint32(buf[40:44], uint32(m.Destination))
	copy(buf[44:76], m.Recipient[:])
	return append(buf, m.Body...), nil
}

// UnmarshalNomad parses a canonical message encoding.
func (m *Message) UnmarshalNomad(data []byte) error {
	if len(data) < messageHeaderLen {
		return fmt.Errorf("message too short: %d bytes", len(data))
	}
	m.Origin = Domain(binary.BigEndian.Uint32(data[0:4]))
	m.Sender = common.BytesToHash(data[4:36])
	m.Nonce = binary.BigEndian.Uint32(data[36:40])
	m.Destination = Domain(binary.BigEndian.Uint32(data[40:44]))
	m.Recipient = common.BytesToHash(data[44:76])
	m.Body = append([]byte{}, data[messageHeaderLen:]...)
	return nil
}

// ToLeaf computes the keccak256 leaf hash of the canonical encoding.
func (m *Message) ToLeaf() common.Hash {
	encoded, _ := m.MarshalNomad()
	return crypto.Keccak256Hash(encoded)
}

// DestinationAndNonce packs the message's destination and nonce the way the
// home contract indexes dispatch events.
func (m *Message) DestinationAndNonce() uint64 {
	return DestinationAndNonce(m.Destination, m.Nonce)
}

// RawCommittedMessage is a message as the home chain committed it: the leaf
// index it occupies and the accumulator root immediately after its insertion.
type RawCommittedMessage struct {
	LeafIndex     uint32
	CommittedRoot common.Hash
	Message       []byte
}

// Leaf computes the accumulator leaf hash for the raw message bytes.
func (m *RawCommittedMessage) Leaf() common.Hash {
	return crypto.Keccak256Hash(m.Message)
}

// MarshalNomad encodes leaf_index (4) || committed_root (32) || message.
func (m *RawCommittedMessage) MarshalNomad() ([]byte, error) {
	buf := make([]byte, 36, 36+len(m.Message))
	binary.BigEndian.PutUint32(buf[0:4], m.LeafIndex)
	copy(buf[4:36], m.CommittedRoot[:])
	return append(buf, m.Message...), nil
}

// UnmarshalNomad parses a raw committed message encoding.
func (m *RawCommittedMessage) UnmarshalNomad(data []byte) error {
	if len(data) < 36 {
		return fmt.Errorf("raw committed message too short: %d bytes", len(data))
	}
	m.LeafIndex = binary.BigEndian.Uint32(data[0:4])
	m.CommittedRoot = common.BytesToHash(data[4:36])
	m.Message = append([]byte{}, data[36:]...)
	return nil
}

// CommittedMessage pairs a decoded message with its commitment metadata.
type CommittedMessage struct {
	LeafIndex     uint32
	CommittedRoot common.Hash
	Message       Message
}

// Decode parses the raw message bytes into a CommittedMessage.
func (m *RawCommittedMessage) Decode() (*CommittedMessage, error) {
	var msg Message
	if err := msg.UnmarshalNomad(m.Message); err != nil {
		return nil, err
	}
	return &CommittedMessage{
		LeafIndex:     m.LeafIndex,
		CommittedRoot: m.CommittedRoot,
		Message:       msg,
	}, nil
}
