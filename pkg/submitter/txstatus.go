package submitter

import (
	"context"

	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/db"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/types"
	"github.com/nomad-xyz/nomad-go/pkg/utils"
)

// TxStatusPoller advances dispatched rows: Seen -> Confirmed deletes the
// row, Seen -> Dropped requeues it for redispatch until the attempt cap.
type TxStatusPoller struct {
	network string
	db      *db.NomadDB
	senders map[types.Domain]ITxSender
	logger  *zap.Logger
	metrics *metrics.Metrics

	// MaxAttempts caps requeues of dropped transactions.
	MaxAttempts uint32
}

// NewTxStatusPoller builds a confirmation poller over the same senders as
// the dispatch poller.
func NewTxStatusPoller(
	network string,
	nomadDB *db.NomadDB,
	senders map[types.Domain]ITxSender,
	logger *zap.Logger,
	m *metrics.Metrics,
) *TxStatusPoller {
	return &TxStatusPoller{
		network:     network,
		db:          nomadDB,
		senders:     senders,
		logger:      logger,
		metrics:     m,
		MaxAttempts: defaultMaxTxAttempts,
	}
}

// Run polls until the context ends.
func (p *TxStatusPoller) Run(ctx context.Context) error {
	for {
		if err := utils.Sleep(ctx, txPollInterval); err != nil {
			return nil
		}
		var seen []*types.PersistedTransaction
		_ = p.db.PersistedTransactionIterator(func(tx *types.PersistedTransaction) bool {
			if tx.ConfirmEvent == types.TxSeen {
				seen = append(seen, tx)
			}
			return true
		})
		for _, tx := range seen {
			p.advance(ctx, tx)
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// advance resolves one dispatched transaction's status and updates its row.
func (p *TxStatusPoller) advance(ctx context.Context, tx *types.PersistedTransaction) {
	sender, ok := p.senders[tx.Destination]
	if !ok {
		return
	}
	event, err := sender.Status(ctx, tx.DispatchRef)
	if err != nil {
		p.logger.Sugar().Debugw("Status poll failed",
			"id", tx.ID, "ref", tx.DispatchRef, "error", err)
		return
	}

	switch event {
	case types.TxConfirmed:
		p.metrics.TxConfirmed.WithLabelValues(p.network).Inc()
		p.logger.Sugar().Infow("Transaction confirmed", "id", tx.ID, "ref", tx.DispatchRef)
		if err := p.db.DeletePersistedTransaction(tx.ID); err != nil {
			p.logger.Sugar().Errorw("Failed to delete confirmed tx", "id", tx.ID, "error", err)
		}
	case types.TxDropped:
		tx.Attempts++
		if tx.Attempts >= p.MaxAttempts {
			p.logger.Sugar().Errorw("Transaction permanently failed after drop",
				"id", tx.ID, "attempts", tx.Attempts)
			p.metrics.TxDropped.WithLabelValues(p.network).Inc()
			_ = p.db.DeletePersistedTransaction(tx.ID)
			return
		}
		tx.ConfirmEvent = types.TxPending
		tx.DispatchRef = ""
		p.metrics.TxDropped.WithLabelValues(p.network).Inc()
		p.logger.Sugar().Warnw("Transaction dropped, requeued",
			"id", tx.ID, "attempts", tx.Attempts)
		if err := p.db.StorePersistedTransaction(tx); err != nil {
			p.logger.Sugar().Errorw("Failed to requeue dropped tx", "id", tx.ID, "error", err)
		}
	default:
		// Still in flight.
	}
}
