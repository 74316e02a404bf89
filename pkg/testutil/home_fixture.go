package testutil

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/nomad-xyz/nomad-go/pkg/accumulator"
	"github.com/nomad-xyz/nomad-go/pkg/signer"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// UpdaterKey is a well-known test key for the updater role.
const UpdaterKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// WatcherKey is a well-known test key for the watcher role.
const WatcherKey = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"

// HomeFixture simulates an honest home contract: it maintains the
// accumulator, assigns nonces and leaf indices, and lets the test updater
// attest to roots.
type HomeFixture struct {
	Domain   types.Domain
	Updater  *signer.PrivateKeySigner
	Tree     *accumulator.Prover
	Messages []*types.RawCommittedMessage

	lastSigned common.Hash
	nonce      uint32
}

// NewHomeFixture builds a fixture with the well-known updater key.
func NewHomeFixture(t *testing.T, domain types.Domain) *HomeFixture {
	t.Helper()
	updater, err := signer.NewPrivateKeySigner(UpdaterKey, 0)
	require.NoError(t, err)
	return &HomeFixture{
		Domain:  domain,
		Updater: updater,
		Tree:    accumulator.NewProver(),
	}
}

// Dispatch enqueues one message and returns it with its committed root.
func (f *HomeFixture) Dispatch(t *testing.T, destination types.Domain, recipient types.NomadIdentifier, body []byte) *types.RawCommittedMessage {
	t.Helper()
	message := types.Message{
		Origin:      f.Domain,
		Sender:      types.AddressToIdentifier(f.Updater.Address()),
		Nonce:       f.nonce,
		Destination: destination,
		Recipient:   recipient,
		Body:        body,
	}
	encoded, err := message.MarshalNomad()
	require.NoError(t, err)

	index := uint32(f.Tree.Count())
	require.NoError(t, f.Tree.Ingest(message.ToLeaf()))
	f.nonce++

	raw := &types.RawCommittedMessage{
		LeafIndex:     index,
		CommittedRoot: f.Tree.Root(),
		Message:       encoded,
	}
	f.Messages = append(f.Messages, raw)
	return raw
}

// SignUpdate attests to the current root, chaining from the last signed
// root.
func (f *HomeFixture) SignUpdate(t *testing.T) *types.SignedUpdate {
	t.Helper()
	update, err := signer.SignUpdate(f.Updater, types.Update{
		HomeDomain:   f.Domain,
		PreviousRoot: f.lastSigned,
		NewRoot:      f.Tree.Root(),
	})
	require.NoError(t, err)
	f.lastSigned = f.Tree.Root()
	return update
}
