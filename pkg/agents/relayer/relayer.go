package relayer

import (
	"context"

	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/submitter"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// Relayer forwards every signed update the home publishes to each replica,
// where the on-chain timelock takes over.
type Relayer struct {
	network   string
	replicas  map[string]types.Domain
	txManager *submitter.TxManager
	updates   <-chan *types.SignedUpdateWithMeta
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewRelayer wires a relayer over the home update stream.
func NewRelayer(
	network string,
	replicas map[string]types.Domain,
	txManager *submitter.TxManager,
	updates <-chan *types.SignedUpdateWithMeta,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Relayer {
	return &Relayer{
		network:   network,
		replicas:  replicas,
		txManager: txManager,
		updates:   updates,
		logger:    logger,
		metrics:   m,
	}
}

// Run consumes the update stream until it closes or the context ends.
func (r *Relayer) Run(ctx context.Context) error {
	for {
		select {
		case update, ok := <-r.updates:
			if !ok {
				return nil
			}
			if err := r.relay(&update.SignedUpdate); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// relay enqueues the update for every replica.
func (r *Relayer) relay(update *types.SignedUpdate) error {
	body, err := update.MarshalNomad()
	if err != nil {
		return err
	}
	for name, domain := range r.replicas {
		tx, err := r.txManager.SubmitTransaction(domain, types.OpReplicaUpdate, body)
		if err != nil {
			return err
		}
		r.logger.Sugar().Infow("Update relayed",
			"home", r.network,
			"replica", name,
			"newRoot", update.Update.NewRoot.Hex(),
			"txId", tx.ID)
	}
	return nil
}
