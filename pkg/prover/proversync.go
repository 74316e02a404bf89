package prover

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/accumulator"
	"github.com/nomad-xyz/nomad-go/pkg/db"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/pipe"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// State tracks the prover-sync lifecycle. Failed is terminal.
type State int

const (
	// Syncing means the local accumulator is behind the chain.
	Syncing State = iota
	// Live means every indexed message and update has been reconciled.
	Live
	// Failed means a safety invariant broke: home fraud suspicion or
	// updater fraud. Terminal.
	Failed
)

var (
	// ErrInvalidRoot is returned when an ingested message's committed root
	// disagrees with the local accumulator: the home is Byzantine or the
	// indexer is lossy. Fatal.
	ErrInvalidRoot = errors.New("accumulator root mismatch after ingest")

	// ErrUpdaterFraud is returned when a correctly signed update attests to
	// a root chain the home never produced. Fatal; halts processing.
	ErrUpdaterFraud = errors.New("signed update conflicts with known root chain")
)

// ProverSync mirrors the home accumulator off-chain. It ingests ordered
// message and update streams, advances the committed root through the
// signed-update chain, and freezes a proof for every leaf at the update
// that first covered it, emitting (message, proof) tuples downstream.
type ProverSync struct {
	network string
	db      *db.NomadDB
	updater common.Address

	tree *accumulator.Prover

	// committedRoot is the most recent signed root processed; zero before
	// the first update.
	committedRoot common.Hash
	// committedCount is the leaf count covered by committedRoot.
	committedCount uint64

	// rootCount maps every root the accumulator has passed through to the
	// leaf count that produced it. The zero root maps to zero.
	rootCount map[common.Hash]uint64

	// pendingUpdates buffers updates that arrived ahead of their previous
	// root, keyed by that root.
	pendingUpdates map[common.Hash]*types.SignedUpdate

	// queued holds messages that arrived ahead of the accumulator count,
	// keyed by leaf index. Gaps are never ingested.
	queued map[uint32]*types.RawCommittedMessage

	messages <-chan *types.RawCommittedMessage
	updates  <-chan *types.SignedUpdateWithMeta
	out      chan *types.MessageWithProof

	state   State
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewProverSync builds a prover-sync over the given streams and replays the
// durable store to rebuild the accumulator and committed-root cursor.
func NewProverSync(
	network string,
	nomadDB *db.NomadDB,
	updater common.Address,
	messages <-chan *types.RawCommittedMessage,
	updates <-chan *types.SignedUpdateWithMeta,
	logger *zap.Logger,
	m *metrics.Metrics,
) (*ProverSync, error) {
	ps := &ProverSync{
		network:        network,
		db:             nomadDB,
		updater:        updater,
		tree:           accumulator.NewProver(),
		rootCount:      map[common.Hash]uint64{{}: 0},
		pendingUpdates: make(map[common.Hash]*types.SignedUpdate),
		queued:         make(map[uint32]*types.RawCommittedMessage),
		messages:       messages,
		updates:        updates,
		out:            make(chan *types.MessageWithProof),
		logger:         logger,
		metrics:        m,
	}
	if err := ps.replay(); err != nil {
		return nil, err
	}
	return ps, nil
}

// replay rebuilds the accumulator from persisted messages and advances the
// committed root along the persisted update chain, skipping proof work for
// leaves already proven.
func (ps *ProverSync) replay() error {
	for index := uint32(0); ; index++ {
		message, err := ps.db.MessageByLeafIndex(index)
		if err != nil {
			return err
		}
		if message == nil {
			break
		}
		if err := ps.ingest(message); err != nil {
			return err
		}
	}

	// Walk the stored update chain as far as the rebuilt tree covers it.
	for {
		update, err := ps.db.UpdateByPreviousRoot(ps.committedRoot)
		if err != nil {
			return err
		}
		if update == nil {
			break
		}
		count, known := ps.rootCount[update.Update.NewRoot]
		if !known {
			// The update outruns the replayed messages; the live stream
			// will cover it.
			ps.pendingUpdates[update.Update.PreviousRoot] = update
			break
		}
		// Backfill proofs a crash may have interrupted. Nothing is emitted
		// here; downstream consumers read unprocessed rows from the store.
		for index := ps.committedCount; index < count; index++ {
			proof, err := ps.db.ProofByIndex(uint32(index))
			if err != nil {
				return err
			}
			if proof != nil {
				continue
			}
			proof, err = ps.tree.ProveUnder(index, count)
			if err != nil {
				return err
			}
			if err := ps.db.StoreProof(uint32(index), proof); err != nil {
				return err
			}
		}
		ps.committedRoot = update.Update.NewRoot
		ps.committedCount = count
	}

	ps.logger.Sugar().Infow("Prover-sync replayed durable state",
		"network", ps.network,
		"leaves", ps.tree.Count(),
		"committedRoot", ps.committedRoot.Hex(),
		"committedCount", ps.committedCount)
	return nil
}

// Out is the stream of proven messages ready for delivery.
func (ps *ProverSync) Out() <-chan *types.MessageWithProof {
	return ps.out
}

// State returns the current lifecycle state.
func (ps *ProverSync) State() State {
	return ps.state
}

// CommittedRoot returns the most recent signed root processed.
func (ps *ProverSync) CommittedRoot() common.Hash {
	return ps.committedRoot
}

// Name identifies the step in logs.
func (ps *ProverSync) Name() string {
	return fmt.Sprintf("prover-sync[%s]", ps.network)
}

// Spawn starts the reconcile loop as a restartable step. Stream closure is
// a clean termination; invariant violations are unrecoverable.
func (ps *ProverSync) Spawn(ctx context.Context) pipe.Handle {
	handle := make(chan pipe.TaskResult, 1)
	go func() {
		defer close(ps.out)
		err := ps.run(ctx)
		switch {
		case err == nil:
			handle <- pipe.TaskResult{Step: ps, Outcome: pipe.OutcomeClosed}
		case errors.Is(err, ErrInvalidRoot), errors.Is(err, ErrUpdaterFraud):
			ps.state = Failed
			handle <- pipe.TaskResult{Step: ps, Outcome: pipe.OutcomeUnrecoverable, Err: err, WorthLogging: true}
		default:
			handle <- pipe.TaskResult{Step: ps, Outcome: pipe.OutcomeUnrecoverable, Err: err, WorthLogging: true}
		}
	}()
	return handle
}

// run reconciles both streams until they close or the context ends.
func (ps *ProverSync) run(ctx context.Context) error {
	messages, updates := ps.messages, ps.updates
	for {
		if messages == nil && updates == nil {
			return nil
		}
		select {
		case message, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			if err := ps.HandleMessage(ctx, message); err != nil {
				return err
			}
		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if err := ps.HandleUpdate(ctx, &update.SignedUpdate); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// HandleMessage ingests a committed message. Messages below the current
// count are idempotent replays and skipped; messages ahead of it wait in
// the queue until the gap fills.
func (ps *ProverSync) HandleMessage(ctx context.Context, message *types.RawCommittedMessage) error {
	count := ps.tree.Count()
	switch {
	case uint64(message.LeafIndex) < count:
		return nil
	case uint64(message.LeafIndex) > count:
		ps.queued[message.LeafIndex] = message
		ps.state = Syncing
		return nil
	}

	if err := ps.ingest(message); err != nil {
		return err
	}
	// Drain any queued successors the gap was hiding.
	for {
		next, ok := ps.queued[uint32(ps.tree.Count())]
		if !ok {
			break
		}
		delete(ps.queued, next.LeafIndex)
		if err := ps.ingest(next); err != nil {
			return err
		}
	}
	return ps.tryAdvance(ctx)
}

// ingest inserts the message's leaf and checks the home's committed root
// against the local accumulator.
func (ps *ProverSync) ingest(message *types.RawCommittedMessage) error {
	leaf := message.Leaf()
	if err := ps.tree.Ingest(leaf); err != nil {
		return err
	}
	root := ps.tree.Root()
	if root != message.CommittedRoot {
		ps.state = Failed
		return fmt.Errorf("leaf %d: local root %s, home committed %s: %w",
			message.LeafIndex, root.Hex(), message.CommittedRoot.Hex(), ErrInvalidRoot)
	}
	ps.rootCount[root] = ps.tree.Count()
	if err := ps.db.StoreCommittedMessage(message); err != nil {
		return err
	}
	if len(ps.queued) == 0 {
		ps.state = Live
	}
	return nil
}

// HandleUpdate verifies a signed update and either applies it, buffers it,
// or rejects it as fraud.
func (ps *ProverSync) HandleUpdate(ctx context.Context, update *types.SignedUpdate) error {
	if err := update.Verify(ps.updater); err != nil {
		ps.state = Failed
		return fmt.Errorf("update %s -> %s: %w: %w",
			update.Update.PreviousRoot.Hex(), update.Update.NewRoot.Hex(), ErrUpdaterFraud, err)
	}

	previous := update.Update.PreviousRoot
	if count, known := ps.rootCount[previous]; known && count < ps.committedCount {
		// Behind the committed root. A second distinct update from the same
		// previous root is double-update fraud.
		stored, err := ps.db.UpdateByPreviousRoot(previous)
		if err != nil {
			return err
		}
		if stored != nil && stored.Update.NewRoot != update.Update.NewRoot {
			ps.state = Failed
			return fmt.Errorf("double update from root %s: %w", previous.Hex(), ErrUpdaterFraud)
		}
		return nil
	}

	ps.pendingUpdates[previous] = update
	return ps.tryAdvance(ctx)
}

// tryAdvance applies buffered updates whose previous root now matches the
// committed root and whose new root the accumulator has reached, freezing
// and emitting proofs for every newly covered leaf.
func (ps *ProverSync) tryAdvance(ctx context.Context) error {
	for {
		update, ok := ps.pendingUpdates[ps.committedRoot]
		if !ok {
			return nil
		}
		count, known := ps.rootCount[update.Update.NewRoot]
		if !known {
			// The accumulator has not reached the attested root yet; wait
			// for messages. An update to a root the home never produces
			// stays buffered here forever and the watcher, which sees both
			// sides, raises the alarm.
			return nil
		}
		delete(ps.pendingUpdates, ps.committedRoot)

		if err := ps.freezeProofs(ctx, update, count); err != nil {
			return err
		}
		ps.committedRoot = update.Update.NewRoot
		ps.committedCount = count
	}
}

// freezeProofs computes and persists proofs for every leaf the update newly
// covers, then emits each (message, proof) tuple downstream. Proofs verify
// against the update's new root, the root the tree had at that count.
func (ps *ProverSync) freezeProofs(ctx context.Context, update *types.SignedUpdate, count uint64) error {
	for index := ps.committedCount; index < count; index++ {
		proof, err := ps.tree.ProveUnder(index, count)
		if err != nil {
			return fmt.Errorf("failed to prove leaf %d under count %d: %w", index, count, err)
		}
		if err := ps.db.StoreProof(uint32(index), proof); err != nil {
			return err
		}
		ps.metrics.ProofsComputed.WithLabelValues(ps.network).Inc()

		message, err := ps.db.MessageByLeafIndex(uint32(index))
		if err != nil {
			return err
		}
		if message == nil {
			return fmt.Errorf("leaf %d proven but message bytes missing", index)
		}
		select {
		case ps.out <- &types.MessageWithProof{Message: *message, Proof: *proof}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ps.logger.Sugar().Debugw("Committed root advanced",
		"network", ps.network,
		"newRoot", update.Update.NewRoot.Hex(),
		"coveredLeaves", count)
	return nil
}
