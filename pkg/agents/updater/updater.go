package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/db"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/signer"
	"github.com/nomad-xyz/nomad-go/pkg/submitter"
	"github.com/nomad-xyz/nomad-go/pkg/types"
	"github.com/nomad-xyz/nomad-go/pkg/utils"
)

// confirmPollInterval is how often the single-flight wait re-checks the
// persisted transaction row.
const confirmPollInterval = 250 * time.Millisecond

// Updater signs an update for every committed-root transition the home
// publishes and submits it back to the home chain. At most one update is in
// flight per home at a time.
type Updater struct {
	network    string
	homeDomain types.Domain
	db         *db.NomadDB
	signer     signer.ISigner
	txManager  *submitter.TxManager
	messages   <-chan *types.RawCommittedMessage

	// lastSigned is the newest root this updater has attested to; seeded
	// from the home contract's committed root at bootstrap.
	lastSigned common.Hash

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewUpdater wires an updater over the home message stream.
func NewUpdater(
	network string,
	homeDomain types.Domain,
	nomadDB *db.NomadDB,
	s signer.ISigner,
	txManager *submitter.TxManager,
	messages <-chan *types.RawCommittedMessage,
	initialRoot common.Hash,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Updater {
	return &Updater{
		network:    network,
		homeDomain: homeDomain,
		db:         nomadDB,
		signer:     s,
		txManager:  txManager,
		messages:   messages,
		lastSigned: initialRoot,
		logger:     logger,
		metrics:    m,
	}
}

// Run consumes the message stream until it closes or the context ends.
func (u *Updater) Run(ctx context.Context) error {
	for {
		select {
		case message, ok := <-u.messages:
			if !ok {
				return nil
			}
			if err := u.produce(ctx, message.CommittedRoot); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// produce signs and submits one update for a root transition, then blocks
// until the transaction row resolves. The wait is what enforces
// at-most-one pending update.
func (u *Updater) produce(ctx context.Context, newRoot common.Hash) error {
	if newRoot == u.lastSigned {
		return nil
	}
	update := types.Update{
		HomeDomain:   u.homeDomain,
		PreviousRoot: u.lastSigned,
		NewRoot:      newRoot,
	}
	signed, err := signer.SignUpdate(u.signer, update)
	if err != nil {
		return err
	}
	body, err := signed.MarshalNomad()
	if err != nil {
		return err
	}
	tx, err := u.txManager.SubmitTransaction(u.homeDomain, types.OpHomeUpdate, body)
	if err != nil {
		return err
	}
	u.logger.Sugar().Infow("Update signed and enqueued",
		"network", u.network,
		"previousRoot", update.PreviousRoot.Hex(),
		"newRoot", update.NewRoot.Hex(),
		"txId", tx.ID)

	if err := u.awaitResolution(ctx, tx.ID); err != nil {
		return err
	}
	u.lastSigned = newRoot
	return nil
}

// awaitResolution polls until the transaction row is garbage-collected:
// confirmed or permanently failed.
func (u *Updater) awaitResolution(ctx context.Context, id uint64) error {
	for {
		if err := utils.Sleep(ctx, confirmPollInterval); err != nil {
			return nil
		}
		row, err := u.db.PersistedTransactionByID(id)
		if err != nil {
			return fmt.Errorf("failed to poll tx %d: %w", id, err)
		}
		if row == nil {
			return nil
		}
	}
}
