package types

import (
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHomeDomainHash(t *testing.T) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], 1000)
	expected := crypto.Keccak256Hash(append(buf[:], []byte("NOMAD")...))
	assert.Equal(t, expected, HomeDomainHash(1000))
	assert.NotEqual(t, HomeDomainHash(1000), HomeDomainHash(2000))
}

func TestDestinationAndNonce(t *testing.T) {
	cases := []struct {
		destination Domain
		nonce       uint32
		expected    uint64
	}{
		{0, 0, 0},
		{1, 0, 1 << 32},
		{0, 1, 1},
		{1000, 14, 1000<<32 | 14},
		{1<<32 - 2, 1<<32 - 2, (1<<32-2)<<32 | (1<<32 - 2)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, DestinationAndNonce(tc.destination, tc.nonce))
	}
}

func TestMessageRoundTrip(t *testing.T) {
	message := Message{
		Origin:      1000,
		Sender:      common.HexToHash("0x01"),
		Nonce:       7,
		Destination: 2000,
		Recipient:   common.HexToHash("0x02"),
		Body:        []byte("hello world"),
	}
	encoded, err := message.MarshalNomad()
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, decoded.UnmarshalNomad(encoded))
	assert.Equal(t, message, decoded)

	// The leaf is the keccak of the canonical encoding.
	assert.Equal(t, crypto.Keccak256Hash(encoded), message.ToLeaf())
	assert.Equal(t, DestinationAndNonce(2000, 7), message.DestinationAndNonce())
}

func TestMessageTooShort(t *testing.T) {
	var decoded Message
	require.Error(t, decoded.UnmarshalNomad(make([]byte, 10)))
}

func TestRawCommittedMessageRoundTrip(t *testing.T) {
	raw := RawCommittedMessage{
		LeafIndex:     42,
		CommittedRoot: common.HexToHash("0xbeef"),
		Message:       []byte{1, 2, 3},
	}
	encoded, err := raw.MarshalNomad()
	require.NoError(t, err)

	var decoded RawCommittedMessage
	require.NoError(t, decoded.UnmarshalNomad(encoded))
	assert.Equal(t, raw, decoded)
	assert.Equal(t, crypto.Keccak256Hash(raw.Message), raw.Leaf())
}

func TestUpdateSigningHash(t *testing.T) {
	update := Update{
		HomeDomain:   1000,
		PreviousRoot: common.HexToHash("0x01"),
		NewRoot:      common.HexToHash("0x02"),
	}
	domainHash := HomeDomainHash(1000)
	expected := crypto.Keccak256Hash(domainHash[:], update.PreviousRoot[:], update.NewRoot[:])
	assert.Equal(t, expected, update.SigningHash())
}

func TestSignedUpdateRoundTrip(t *testing.T) {
	signed := SignedUpdate{
		Update: Update{
			HomeDomain:   1000,
			PreviousRoot: common.HexToHash("0x01"),
			NewRoot:      common.HexToHash("0x02"),
		},
		Signature: Signature{
			R: common.HexToHash("0x0a"),
			S: common.HexToHash("0x0b"),
			V: 28,
		},
	}
	encoded, err := signed.MarshalNomad()
	require.NoError(t, err)

	var decoded SignedUpdate
	require.NoError(t, decoded.UnmarshalNomad(encoded))
	assert.Equal(t, signed, decoded)
	assert.True(t, signed.Equal(&decoded))
}

func TestIsDoubleUpdate(t *testing.T) {
	base := SignedUpdate{Update: Update{
		HomeDomain:   1000,
		PreviousRoot: common.HexToHash("0x01"),
		NewRoot:      common.HexToHash("0x02"),
	}}
	conflicting := SignedUpdate{Update: Update{
		HomeDomain:   1000,
		PreviousRoot: common.HexToHash("0x01"),
		NewRoot:      common.HexToHash("0x03"),
	}}
	duplicate := base
	otherPrev := SignedUpdate{Update: Update{
		HomeDomain:   1000,
		PreviousRoot: common.HexToHash("0x09"),
		NewRoot:      common.HexToHash("0x03"),
	}}

	assert.True(t, base.IsDoubleUpdate(&conflicting))
	assert.False(t, base.IsDoubleUpdate(&duplicate))
	assert.False(t, base.IsDoubleUpdate(&otherPrev))
}

func TestSignatureRecoveryID(t *testing.T) {
	cases := []struct {
		v        uint64
		expected byte
	}{
		{27, 0}, {28, 1},
		{35, 0}, {36, 1}, // chain id 0 folding
		{37, 1}, {38, 0}, // chain id 1 folding
		{0, 0}, {1, 1},
	}
	for _, tc := range cases {
		sig := Signature{V: tc.v}
		assert.Equal(t, tc.expected, sig.RecoveryID(), "v=%d", tc.v)
	}
}

func TestFailureNotificationRoundTrip(t *testing.T) {
	signed := SignedFailureNotification{
		Notification: FailureNotification{
			HomeDomain: 1000,
			Updater:    common.HexToHash("0x05"),
		},
		Signature: Signature{R: common.HexToHash("0x0a"), S: common.HexToHash("0x0b"), V: 27},
	}
	encoded, err := signed.MarshalNomad()
	require.NoError(t, err)

	var decoded SignedFailureNotification
	require.NoError(t, decoded.UnmarshalNomad(encoded))
	assert.Equal(t, signed, decoded)
}

func TestProofRoundTrip(t *testing.T) {
	proof := Proof{
		Leaf:  common.HexToHash("0x01"),
		Index: 9,
	}
	for i := range proof.Path {
		proof.Path[i] = common.BytesToHash([]byte{byte(i)})
	}
	encoded, err := proof.MarshalNomad()
	require.NoError(t, err)

	var decoded Proof
	require.NoError(t, decoded.UnmarshalNomad(encoded))
	assert.Equal(t, proof, decoded)
}

func TestPersistedTransactionRoundTrip(t *testing.T) {
	tx := PersistedTransaction{
		ID:           12,
		Destination:  2000,
		Opcode:       OpReplicaProveAndProcess,
		Body:         []byte{9, 9, 9},
		ConfirmEvent: TxSeen,
		Attempts:     3,
		DispatchRef:  "0xabc123",
	}
	encoded, err := tx.MarshalNomad()
	require.NoError(t, err)

	var decoded PersistedTransaction
	require.NoError(t, decoded.UnmarshalNomad(encoded))
	assert.Equal(t, tx, decoded)
}

func TestIdentifierConversion(t *testing.T) {
	addr := common.HexToAddress("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	id := AddressToIdentifier(addr)
	assert.Equal(t, addr, IdentifierToAddress(id))
	// Left-padded: the high 12 bytes are zero.
	for i := 0; i < 12; i++ {
		assert.Zero(t, id[i])
	}
}
