package prover_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nomad-xyz/nomad-go/pkg/accumulator"
	"github.com/nomad-xyz/nomad-go/pkg/db"
	"github.com/nomad-xyz/nomad-go/pkg/db/memorystore"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/pipe"
	"github.com/nomad-xyz/nomad-go/pkg/prover"
	"github.com/nomad-xyz/nomad-go/pkg/signer"
	"github.com/nomad-xyz/nomad-go/pkg/testutil"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

type rig struct {
	db       *db.NomadDB
	fixture  *testutil.HomeFixture
	messages chan *types.RawCommittedMessage
	updates  chan *types.SignedUpdateWithMeta
	sync     *prover.ProverSync
	handle   pipe.Handle
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger := zaptest.NewLogger(t)
	nomadDB := db.NewNomadDB("testhome", memorystore.NewMemoryStore(), logger)
	fixture := testutil.NewHomeFixture(t, 1000)

	messages := make(chan *types.RawCommittedMessage, 64)
	updates := make(chan *types.SignedUpdateWithMeta, 64)

	sync, err := prover.NewProverSync(
		"testhome", nomadDB, fixture.Updater.Address(),
		messages, updates,
		logger, metrics.NewMetrics("test", logger),
	)
	require.NoError(t, err)

	return &rig{
		db:       nomadDB,
		fixture:  fixture,
		messages: messages,
		updates:  updates,
		sync:     sync,
	}
}

func (r *rig) spawn(ctx context.Context) {
	r.handle = r.sync.Spawn(ctx)
}

func (r *rig) sendUpdate(update *types.SignedUpdate) {
	r.updates <- &types.SignedUpdateWithMeta{SignedUpdate: *update}
}

func collectProven(t *testing.T, out <-chan *types.MessageWithProof, want int) []*types.MessageWithProof {
	t.Helper()
	var got []*types.MessageWithProof
	timeout := time.After(10 * time.Second)
	for len(got) < want {
		select {
		case pair, ok := <-out:
			if !ok {
				t.Fatalf("stream closed after %d of %d", len(got), want)
			}
			got = append(got, pair)
		case <-timeout:
			t.Fatalf("timed out after %d of %d proven messages", len(got), want)
		}
	}
	return got
}

// TestProofsFrozenAtCoveringUpdate drives messages and updates through the
// state machine and checks every emitted proof verifies against the new
// root of the update that first covered its leaf.
func TestProofsFrozenAtCoveringUpdate(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.spawn(ctx)

	// Three messages, then an update covering them; two more, second update.
	for i := 0; i < 3; i++ {
		r.messages <- r.fixture.Dispatch(t, 2000, common.HexToHash("0x22"), []byte{byte(i)})
	}
	firstUpdate := r.fixture.SignUpdate(t)
	r.sendUpdate(firstUpdate)

	first := collectProven(t, r.sync.Out(), 3)
	for i, pair := range first {
		assert.Equal(t, uint32(i), pair.Message.LeafIndex)
		require.NoError(t, accumulator.Verify(&pair.Proof, firstUpdate.Update.NewRoot))
	}

	for i := 3; i < 5; i++ {
		r.messages <- r.fixture.Dispatch(t, 2000, common.HexToHash("0x22"), []byte{byte(i)})
	}
	secondUpdate := r.fixture.SignUpdate(t)
	r.sendUpdate(secondUpdate)

	second := collectProven(t, r.sync.Out(), 2)
	for i, pair := range second {
		assert.Equal(t, uint32(i+3), pair.Message.LeafIndex)
		require.NoError(t, accumulator.Verify(&pair.Proof, secondUpdate.Update.NewRoot))
	}

	assert.Equal(t, secondUpdate.Update.NewRoot, r.sync.CommittedRoot())

	// Proofs are durably persisted.
	for i := uint32(0); i < 5; i++ {
		proof, err := r.db.ProofByIndex(i)
		require.NoError(t, err)
		require.NotNil(t, proof)
	}
}

// TestUpdateAheadIsBuffered delivers the update before its messages: it
// must wait, then apply once the accumulator catches up.
func TestUpdateAheadIsBuffered(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.spawn(ctx)

	raw := r.fixture.Dispatch(t, 2000, common.HexToHash("0x22"), []byte("early update"))
	update := r.fixture.SignUpdate(t)

	r.sendUpdate(update)
	select {
	case <-r.sync.Out():
		t.Fatal("proof emitted before message arrived")
	case <-time.After(200 * time.Millisecond):
	}

	r.messages <- raw
	proven := collectProven(t, r.sync.Out(), 1)
	require.NoError(t, accumulator.Verify(&proven[0].Proof, update.Update.NewRoot))
}

// TestMessageGapWaitsAndReplayIsIdempotent checks both edge cases of
// message ingestion: an index ahead of count waits for the gap, an index
// behind is skipped.
func TestMessageGapWaitsAndReplayIsIdempotent(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.spawn(ctx)

	first := r.fixture.Dispatch(t, 2000, common.HexToHash("0x22"), []byte("a"))
	second := r.fixture.Dispatch(t, 2000, common.HexToHash("0x22"), []byte("b"))
	update := r.fixture.SignUpdate(t)

	// Deliver out of order, with a duplicate replay.
	r.messages <- second
	r.messages <- first
	r.messages <- first
	r.sendUpdate(update)

	proven := collectProven(t, r.sync.Out(), 2)
	assert.Equal(t, uint32(0), proven[0].Message.LeafIndex)
	assert.Equal(t, uint32(1), proven[1].Message.LeafIndex)
}

// TestRootMismatchIsFatal feeds a message with a forged committed root: the
// step must fail unrecoverably and end Failed.
func TestRootMismatchIsFatal(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.spawn(ctx)

	raw := r.fixture.Dispatch(t, 2000, common.HexToHash("0x22"), []byte("ok"))
	forged := *raw
	forged.CommittedRoot = common.HexToHash("0xbad")
	r.messages <- &forged

	result := <-r.handle
	assert.Equal(t, pipe.OutcomeUnrecoverable, result.Outcome)
	require.ErrorIs(t, result.Err, prover.ErrInvalidRoot)
	assert.Equal(t, prover.Failed, r.sync.State())
}

// TestForeignSignerIsFatal feeds an update signed by the wrong key.
func TestForeignSignerIsFatal(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.spawn(ctx)

	imposter, err := signer.NewPrivateKeySigner(testutil.WatcherKey, 0)
	require.NoError(t, err)
	forged, err := signer.SignUpdate(imposter, types.Update{
		HomeDomain: 1000,
		NewRoot:    common.HexToHash("0x02"),
	})
	require.NoError(t, err)
	r.sendUpdate(forged)

	result := <-r.handle
	assert.Equal(t, pipe.OutcomeUnrecoverable, result.Outcome)
	require.ErrorIs(t, result.Err, prover.ErrUpdaterFraud)
}

// TestDoubleUpdateBehindCommittedIsFatal processes a legitimate chain, then
// replays a conflicting update from an already-committed previous root.
func TestDoubleUpdateBehindCommittedIsFatal(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.spawn(ctx)

	r.messages <- r.fixture.Dispatch(t, 2000, common.HexToHash("0x22"), []byte("a"))
	good := r.fixture.SignUpdate(t)
	// The indexer would have persisted the honest update.
	require.NoError(t, r.db.StoreUpdate(good))
	r.sendUpdate(good)
	collectProven(t, r.sync.Out(), 1)

	r.messages <- r.fixture.Dispatch(t, 2000, common.HexToHash("0x22"), []byte("b"))
	r.fixture.SignUpdate(t)

	conflicting, err := signer.SignUpdate(r.fixture.Updater, types.Update{
		HomeDomain:   1000,
		PreviousRoot: good.Update.PreviousRoot,
		NewRoot:      common.HexToHash("0xeeee"),
	})
	require.NoError(t, err)
	r.sendUpdate(conflicting)

	result := <-r.handle
	assert.Equal(t, pipe.OutcomeUnrecoverable, result.Outcome)
	require.ErrorIs(t, result.Err, prover.ErrUpdaterFraud)
	assert.Equal(t, prover.Failed, r.sync.State())
}

// TestReplayRebuildsFromStore restarts prover-sync over a populated store
// and checks the committed root and proofs are recovered without the
// streams replaying anything.
func TestReplayRebuildsFromStore(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := memorystore.NewMemoryStore()
	nomadDB := db.NewNomadDB("testhome", store, logger)
	fixture := testutil.NewHomeFixture(t, 1000)

	// Simulate the indexer's durable writes from a previous run.
	for i := 0; i < 4; i++ {
		raw := fixture.Dispatch(t, 2000, common.HexToHash("0x22"), []byte{byte(i)})
		require.NoError(t, nomadDB.StoreCommittedMessage(raw))
	}
	update := fixture.SignUpdate(t)
	require.NoError(t, nomadDB.StoreUpdate(update))

	messages := make(chan *types.RawCommittedMessage)
	updates := make(chan *types.SignedUpdateWithMeta)
	sync, err := prover.NewProverSync(
		"testhome", nomadDB, fixture.Updater.Address(),
		messages, updates,
		logger, metrics.NewMetrics("test", logger),
	)
	require.NoError(t, err)

	assert.Equal(t, update.Update.NewRoot, sync.CommittedRoot())
	for i := uint32(0); i < 4; i++ {
		proof, err := nomadDB.ProofByIndex(i)
		require.NoError(t, err)
		require.NotNil(t, proof)
		require.NoError(t, accumulator.Verify(proof, update.Update.NewRoot))
	}
}
