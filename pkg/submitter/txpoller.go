package submitter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/db"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/types"
	"github.com/nomad-xyz/nomad-go/pkg/utils"
)

// txPollInterval is the tick of both the dispatch and status pollers.
const txPollInterval = 100 * time.Millisecond

// defaultMaxTxAttempts caps redispatches of a dropped transaction before it
// is marked permanently failed and surfaced.
const defaultMaxTxAttempts = 8

// defaultRetryBase is the first retry delay; doubles per attempt.
const defaultRetryBase = time.Second

// defaultRetryMax caps the retry delay.
const defaultRetryMax = 2 * time.Minute

// TxPoller walks the durable queue and dispatches pending rows through the
// chain's sender. Dispatch is at-least-once: a crash after dispatch but
// before the row update leads to a redispatch, which the on-chain contracts
// tolerate (updates and process calls are idempotent).
type TxPoller struct {
	network string
	db      *db.NomadDB
	senders map[types.Domain]ITxSender
	logger  *zap.Logger
	metrics *metrics.Metrics

	// MaxAttempts, RetryBase and RetryMax tune the retry policy; the
	// defaults suit production cadence.
	MaxAttempts uint32
	RetryBase   time.Duration
	RetryMax    time.Duration
}

// NewTxPoller builds a dispatch poller over the per-destination senders.
func NewTxPoller(
	network string,
	nomadDB *db.NomadDB,
	senders map[types.Domain]ITxSender,
	logger *zap.Logger,
	m *metrics.Metrics,
) *TxPoller {
	return &TxPoller{
		network:     network,
		db:          nomadDB,
		senders:     senders,
		logger:      logger,
		metrics:     m,
		MaxAttempts: defaultMaxTxAttempts,
		RetryBase:   defaultRetryBase,
		RetryMax:    defaultRetryMax,
	}
}

// Run polls until the context ends.
func (p *TxPoller) Run(ctx context.Context) error {
	for {
		if err := utils.Sleep(ctx, txPollInterval); err != nil {
			return nil
		}
		tx := p.nextTransaction()
		if tx == nil {
			continue
		}
		if err := p.dispatch(ctx, tx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Sugar().Warnw("Dispatch failed",
				"id", tx.ID, "attempts", tx.Attempts, "error", err)
		}
	}
}

// nextTransaction returns the lowest-id pending row, nil when the queue is
// drained.
func (p *TxPoller) nextTransaction() *types.PersistedTransaction {
	var next *types.PersistedTransaction
	_ = p.db.PersistedTransactionIterator(func(tx *types.PersistedTransaction) bool {
		if tx.ConfirmEvent == types.TxPending {
			next = tx
			return false
		}
		return true
	})
	return next
}

// dispatch sends one transaction and records the dispatch reference.
// Attempts beyond the first back off exponentially; past the cap the row is
// marked permanently failed and surfaced.
func (p *TxPoller) dispatch(ctx context.Context, tx *types.PersistedTransaction) error {
	sender, ok := p.senders[tx.Destination]
	if !ok {
		p.logger.Sugar().Errorw("No sender for destination, dropping transaction",
			"id", tx.ID, "destination", tx.Destination)
		return p.db.DeletePersistedTransaction(tx.ID)
	}

	if tx.Attempts > 0 {
		if err := utils.Sleep(ctx, utils.ExponentialBackoff(tx.Attempts-1, p.RetryBase, p.RetryMax)); err != nil {
			return err
		}
	}

	ref, err := sender.Dispatch(ctx, tx)
	if err != nil {
		tx.Attempts++
		if tx.Attempts >= p.MaxAttempts {
			p.logger.Sugar().Errorw("Transaction permanently failed",
				"id", tx.ID, "destination", tx.Destination, "attempts", tx.Attempts, "error", err)
			p.metrics.TxDropped.WithLabelValues(p.network).Inc()
			return p.db.DeletePersistedTransaction(tx.ID)
		}
		return p.db.StorePersistedTransaction(tx)
	}

	tx.ConfirmEvent = types.TxSeen
	tx.DispatchRef = ref
	p.metrics.TxSubmitted.WithLabelValues(p.network, sender.Backend()).Inc()
	p.logger.Sugar().Infow("Transaction dispatched",
		"id", tx.ID, "backend", sender.Backend(), "ref", ref)
	return p.db.StorePersistedTransaction(tx)
}
