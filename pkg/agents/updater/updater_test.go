package updater_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nomad-xyz/nomad-go/pkg/agents/updater"
	"github.com/nomad-xyz/nomad-go/pkg/db"
	"github.com/nomad-xyz/nomad-go/pkg/db/memorystore"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/signer"
	"github.com/nomad-xyz/nomad-go/pkg/submitter"
	"github.com/nomad-xyz/nomad-go/pkg/testutil"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// confirmEverything simulates the submitter pipeline: it deletes every row
// as soon as it appears, recording the bodies in order.
func confirmEverything(ctx context.Context, nomadDB *db.NomadDB, bodies chan<- []byte) {
	seen := make(map[uint64]bool)
	for ctx.Err() == nil {
		var pending []*types.PersistedTransaction
		_ = nomadDB.PersistedTransactionIterator(func(tx *types.PersistedTransaction) bool {
			pending = append(pending, tx)
			return true
		})
		for _, tx := range pending {
			if seen[tx.ID] {
				continue
			}
			seen[tx.ID] = true
			bodies <- tx.Body
			_ = nomadDB.DeletePersistedTransaction(tx.ID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestSignsEveryRootTransition feeds three committed roots and checks one
// correctly chained signed update is produced per transition, in order.
func TestSignsEveryRootTransition(t *testing.T) {
	logger := zaptest.NewLogger(t)
	nomadDB := db.NewNomadDB("testhome", memorystore.NewMemoryStore(), logger)
	attestor, err := signer.NewPrivateKeySigner(testutil.UpdaterKey, 0)
	require.NoError(t, err)

	messages := make(chan *types.RawCommittedMessage, 8)
	agent := updater.NewUpdater(
		"testhome", 1000, nomadDB, attestor,
		submitter.NewTxManager(nomadDB, logger),
		messages,
		common.Hash{},
		logger, metrics.NewMetrics("test", logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bodies := make(chan []byte, 8)
	go confirmEverything(ctx, nomadDB, bodies)

	fixture := testutil.NewHomeFixture(t, 1000)
	roots := make([]common.Hash, 0, 3)
	for i := 0; i < 3; i++ {
		raw := fixture.Dispatch(t, 2000, common.HexToHash("0x22"), []byte{byte(i)})
		roots = append(roots, raw.CommittedRoot)
		messages <- raw
	}
	close(messages)

	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("updater did not drain")
	}

	previous := common.Hash{}
	for i := 0; i < 3; i++ {
		select {
		case body := <-bodies:
			var signed types.SignedUpdate
			require.NoError(t, signed.UnmarshalNomad(body))
			require.NoError(t, signed.Verify(attestor.Address()))
			assert.Equal(t, previous, signed.Update.PreviousRoot)
			assert.Equal(t, roots[i], signed.Update.NewRoot)
			previous = signed.Update.NewRoot
		case <-time.After(time.Second):
			t.Fatalf("missing update %d", i)
		}
	}
}

// TestUnchangedRootProducesNoUpdate replays the same committed root; the
// updater stays silent.
func TestUnchangedRootProducesNoUpdate(t *testing.T) {
	logger := zaptest.NewLogger(t)
	nomadDB := db.NewNomadDB("testhome", memorystore.NewMemoryStore(), logger)
	attestor, err := signer.NewPrivateKeySigner(testutil.UpdaterKey, 0)
	require.NoError(t, err)

	fixture := testutil.NewHomeFixture(t, 1000)
	raw := fixture.Dispatch(t, 2000, common.HexToHash("0x22"), []byte("once"))

	messages := make(chan *types.RawCommittedMessage, 2)
	agent := updater.NewUpdater(
		"testhome", 1000, nomadDB, attestor,
		submitter.NewTxManager(nomadDB, logger),
		messages,
		raw.CommittedRoot, // already attested
		logger, metrics.NewMetrics("test", logger),
	)

	messages <- raw
	close(messages)
	require.NoError(t, agent.Run(context.Background()))

	count := 0
	require.NoError(t, nomadDB.PersistedTransactionIterator(func(tx *types.PersistedTransaction) bool {
		count++
		return true
	}))
	assert.Zero(t, count)
}
