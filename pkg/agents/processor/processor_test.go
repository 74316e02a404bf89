package processor_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nomad-xyz/nomad-go/pkg/agents/processor"
	"github.com/nomad-xyz/nomad-go/pkg/chains/ethereum"
	"github.com/nomad-xyz/nomad-go/pkg/db"
	"github.com/nomad-xyz/nomad-go/pkg/db/memorystore"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/submitter"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

func provenMessage(t *testing.T, sender types.NomadIdentifier, destination types.Domain, index uint32) *types.MessageWithProof {
	t.Helper()
	message := types.Message{
		Origin:      1000,
		Sender:      sender,
		Nonce:       index,
		Destination: destination,
		Recipient:   common.HexToHash("0x22"),
		Body:        []byte("payload"),
	}
	encoded, err := message.MarshalNomad()
	require.NoError(t, err)
	return &types.MessageWithProof{
		Message: types.RawCommittedMessage{
			LeafIndex:     index,
			CommittedRoot: common.HexToHash("0x0c"),
			Message:       encoded,
		},
		Proof: types.Proof{Leaf: message.ToLeaf(), Index: uint64(index)},
	}
}

func runProcessor(t *testing.T, p *processor.Processor, proven chan *types.MessageWithProof) {
	t.Helper()
	close(proven)
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("processor did not drain")
	}
}

func collectRows(t *testing.T, nomadDB *db.NomadDB) []*types.PersistedTransaction {
	t.Helper()
	var rows []*types.PersistedTransaction
	require.NoError(t, nomadDB.PersistedTransactionIterator(func(tx *types.PersistedTransaction) bool {
		rows = append(rows, tx)
		return true
	}))
	return rows
}

func TestDeliversToDestinationReplica(t *testing.T) {
	logger := zaptest.NewLogger(t)
	nomadDB := db.NewNomadDB("testhome", memorystore.NewMemoryStore(), logger)
	proven := make(chan *types.MessageWithProof, 4)

	p := processor.NewProcessor(
		"testhome",
		map[types.Domain]string{2000: "replica1", 3000: "replica2"},
		nil, nil, "",
		submitter.NewTxManager(nomadDB, logger),
		nil,
		proven,
		logger, metrics.NewMetrics("test", logger),
	)

	pair := provenMessage(t, common.HexToHash("0x01"), 2000, 0)
	proven <- pair
	proven <- provenMessage(t, common.HexToHash("0x01"), 3000, 1)
	runProcessor(t, p, proven)

	rows := collectRows(t, nomadDB)
	require.Len(t, rows, 2)
	assert.Equal(t, types.Domain(2000), rows[0].Destination)
	assert.Equal(t, types.OpReplicaProveAndProcess, rows[0].Opcode)
	assert.Equal(t, types.Domain(3000), rows[1].Destination)

	// The body round-trips into the message and proof that were emitted.
	message, proof, err := decodeBody(rows[0].Body)
	require.NoError(t, err)
	assert.Equal(t, pair.Message, *message)
	assert.Equal(t, pair.Proof, *proof)
}

func decodeBody(body []byte) (*types.RawCommittedMessage, *types.Proof, error) {
	// Round-trip through the translator to prove the body is well-formed.
	translator := ethereum.NewTxTranslator(ethereum.ContractAddresses{})
	if _, _, err := translator.Convert(&types.PersistedTransaction{
		Opcode: types.OpReplicaProveAndProcess,
		Body:   body,
	}); err != nil {
		return nil, nil, err
	}
	return ethereum.DecodeProveAndProcessBody(body)
}

func TestSenderFiltering(t *testing.T) {
	logger := zaptest.NewLogger(t)
	nomadDB := db.NewNomadDB("testhome", memorystore.NewMemoryStore(), logger)
	proven := make(chan *types.MessageWithProof, 8)

	good := common.HexToHash("0x0a")
	bad := common.HexToHash("0x0b")
	unknown := common.HexToHash("0x0c")

	p := processor.NewProcessor(
		"testhome",
		map[types.Domain]string{2000: "replica1"},
		[]types.NomadIdentifier{good, bad}, // allow list
		[]types.NomadIdentifier{bad},       // deny wins
		"",
		submitter.NewTxManager(nomadDB, logger),
		nil,
		proven,
		logger, metrics.NewMetrics("test", logger),
	)

	proven <- provenMessage(t, good, 2000, 0)
	proven <- provenMessage(t, bad, 2000, 1)
	proven <- provenMessage(t, unknown, 2000, 2)
	runProcessor(t, p, proven)

	rows := collectRows(t, nomadDB)
	require.Len(t, rows, 1)
	message, _, err := ethereum.DecodeProveAndProcessBody(rows[0].Body)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), message.LeafIndex)
}

func TestIndexOnlyRestriction(t *testing.T) {
	logger := zaptest.NewLogger(t)
	nomadDB := db.NewNomadDB("testhome", memorystore.NewMemoryStore(), logger)
	proven := make(chan *types.MessageWithProof, 4)

	p := processor.NewProcessor(
		"testhome",
		map[types.Domain]string{2000: "replica1", 3000: "replica2"},
		nil, nil,
		"replica2",
		submitter.NewTxManager(nomadDB, logger),
		nil,
		proven,
		logger, metrics.NewMetrics("test", logger),
	)

	proven <- provenMessage(t, common.HexToHash("0x01"), 2000, 0)
	proven <- provenMessage(t, common.HexToHash("0x01"), 3000, 1)
	runProcessor(t, p, proven)

	rows := collectRows(t, nomadDB)
	require.Len(t, rows, 1)
	assert.Equal(t, types.Domain(3000), rows[0].Destination)
}

func TestUnknownDestinationSkipped(t *testing.T) {
	logger := zaptest.NewLogger(t)
	nomadDB := db.NewNomadDB("testhome", memorystore.NewMemoryStore(), logger)
	proven := make(chan *types.MessageWithProof, 2)

	p := processor.NewProcessor(
		"testhome",
		map[types.Domain]string{2000: "replica1"},
		nil, nil, "",
		submitter.NewTxManager(nomadDB, logger),
		nil,
		proven,
		logger, metrics.NewMetrics("test", logger),
	)

	proven <- provenMessage(t, common.HexToHash("0x01"), 9999, 0)
	runProcessor(t, p, proven)
	assert.Empty(t, collectRows(t, nomadDB))
}
