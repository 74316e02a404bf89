package submitter_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nomad-xyz/nomad-go/pkg/db"
	"github.com/nomad-xyz/nomad-go/pkg/db/memorystore"
	"github.com/nomad-xyz/nomad-go/pkg/gelato"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/submitter"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// fakeSender scripts dispatch and status outcomes per transaction id.
type fakeSender struct {
	mu         sync.Mutex
	dispatched []uint64
	statuses   map[string][]types.TxConfirmEvent
	failNext   int
}

func newFakeSender() *fakeSender {
	return &fakeSender{statuses: make(map[string][]types.TxConfirmEvent)}
}

func (f *fakeSender) Backend() string { return "fake" }

func (f *fakeSender) Dispatch(ctx context.Context, tx *types.PersistedTransaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return "", fmt.Errorf("rpc unreachable")
	}
	f.dispatched = append(f.dispatched, tx.ID)
	return fmt.Sprintf("ref-%d", tx.ID), nil
}

func (f *fakeSender) Status(ctx context.Context, ref string) (types.TxConfirmEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.statuses[ref]
	if len(queue) == 0 {
		return types.TxSeen, nil
	}
	event := queue[0]
	f.statuses[ref] = queue[1:]
	return event, nil
}

func (f *fakeSender) script(ref string, events ...types.TxConfirmEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[ref] = events
}

func (f *fakeSender) dispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

func newQueue(t *testing.T) (*db.NomadDB, *submitter.TxManager, *fakeSender, *submitter.TxPoller, *submitter.TxStatusPoller) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	nomadDB := db.NewNomadDB("testhome", memorystore.NewMemoryStore(), logger)
	m := metrics.NewMetrics("test", logger)
	sender := newFakeSender()
	senders := map[types.Domain]submitter.ITxSender{2000: sender}
	manager := submitter.NewTxManager(nomadDB, logger)
	poller := submitter.NewTxPoller("testhome", nomadDB, senders, logger, m)
	status := submitter.NewTxStatusPoller("testhome", nomadDB, senders, logger, m)
	return nomadDB, manager, sender, poller, status
}

func awaitDeleted(t *testing.T, nomadDB *db.NomadDB, id uint64) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		row, err := nomadDB.PersistedTransactionByID(id)
		require.NoError(t, err)
		if row == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("tx %d never resolved: %+v", id, row)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// TestDispatchAndConfirm walks a row Pending -> Seen -> Confirmed -> gone.
func TestDispatchAndConfirm(t *testing.T) {
	nomadDB, manager, sender, poller, status := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = poller.Run(ctx) }()
	go func() { _ = status.Run(ctx) }()

	tx, err := manager.SubmitTransaction(2000, types.OpReplicaUpdate, []byte{1})
	require.NoError(t, err)
	sender.script(fmt.Sprintf("ref-%d", tx.ID), types.TxSeen, types.TxConfirmed)

	awaitDeleted(t, nomadDB, tx.ID)
	assert.Equal(t, 1, sender.dispatchCount())
}

// TestDroppedTxIsRedispatched scripts a drop followed by a confirmation:
// the row is requeued once and resolves with one retry recorded.
func TestDroppedTxIsRedispatched(t *testing.T) {
	nomadDB, manager, sender, poller, status := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = poller.Run(ctx) }()
	go func() { _ = status.Run(ctx) }()

	tx, err := manager.SubmitTransaction(2000, types.OpReplicaUpdate, []byte{1})
	require.NoError(t, err)
	ref := fmt.Sprintf("ref-%d", tx.ID)
	sender.script(ref, types.TxDropped, types.TxConfirmed)

	awaitDeleted(t, nomadDB, tx.ID)
	assert.Equal(t, 2, sender.dispatchCount())
}

// TestDispatchFailureRetriesThenSurfaces exhausts the attempt cap.
func TestDispatchFailureRetriesThenSurfaces(t *testing.T) {
	nomadDB, manager, sender, poller, _ := newQueue(t)
	sender.failNext = 1000 // never succeeds
	poller.MaxAttempts = 3
	poller.RetryBase = time.Millisecond
	poller.RetryMax = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = poller.Run(ctx) }()

	tx, err := manager.SubmitTransaction(2000, types.OpReplicaUpdate, []byte{1})
	require.NoError(t, err)

	// The row is eventually garbage-collected as permanently failed.
	awaitDeleted(t, nomadDB, tx.ID)
	assert.Zero(t, sender.dispatchCount())
}

// TestSponsoredPath is the end-to-end sponsored scenario: a mock relay
// accepts the transaction and reports ExecSuccess after three polls. The
// row walks Pending -> Seen -> Confirmed with no retries.
func TestSponsoredPath(t *testing.T) {
	logger := zaptest.NewLogger(t)

	var statusPolls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/relays/5":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "0xdeadbeef", body["data"][:10])
			_ = json.NewEncoder(w).Encode(map[string]string{"taskId": "task-T"})
		case r.Method == http.MethodGet && r.URL.Path == "/oracles/5/estimate":
			_ = json.NewEncoder(w).Encode(map[string]string{"estimatedFee": "42"})
		case r.Method == http.MethodGet && r.URL.Path == "/tasks/task-T/status":
			mu.Lock()
			statusPolls++
			state := "ExecPending"
			if statusPolls >= 3 {
				state = "ExecSuccess"
			}
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]map[string]string{"task": {"taskState": state}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	relay := gelato.NewClient(server.URL, logger)
	single := gelato.NewSingleChainClient(relay, 5, "0xfee")
	gelatoSender := submitter.NewGelatoSender(single, staticTranslator{}, logger)

	nomadDB := db.NewNomadDB("testhome", memorystore.NewMemoryStore(), logger)
	m := metrics.NewMetrics("test", logger)
	senders := map[types.Domain]submitter.ITxSender{2000: gelatoSender}
	manager := submitter.NewTxManager(nomadDB, logger)
	poller := submitter.NewTxPoller("testhome", nomadDB, senders, logger, m)
	status := submitter.NewTxStatusPoller("testhome", nomadDB, senders, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = poller.Run(ctx) }()
	go func() { _ = status.Run(ctx) }()

	tx, err := manager.SubmitTransaction(2000, types.OpReplicaUpdate, []byte{1})
	require.NoError(t, err)
	awaitDeleted(t, nomadDB, tx.ID)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, statusPolls, 3)
}

// staticTranslator produces fixed calldata for relay tests.
type staticTranslator struct{}

func (staticTranslator) Convert(tx *types.PersistedTransaction) (common.Address, []byte, error) {
	return common.HexToAddress("0x9999999999999999999999999999999999999999"),
		common.FromHex("0xdeadbeef"), nil
}
