package watcher

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/chains/ethereum"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/pipe"
	"github.com/nomad-xyz/nomad-go/pkg/signer"
	"github.com/nomad-xyz/nomad-go/pkg/submitter"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// ErrFraudDetected is returned after the watcher has broadcast its failure
// notification; the agent halts deliberately.
var ErrFraudDetected = fmt.Errorf("double update detected, failure notification broadcast")

// Watcher compares signed updates across the home and every replica. Two
// distinct updates from the same previous root are fraud: the watcher signs
// a failure notification, broadcasts it to every configured connection
// manager, and submits the double-update proof to the home.
type Watcher struct {
	homeNetwork string
	homeDomain  types.Domain
	updaterAddr common.Address
	signer      signer.ISigner
	txManager   *submitter.TxManager

	// connectionManagers lists the domains whose managers receive the
	// failure notification.
	connectionManagers []types.Domain

	// streams carries the home and replica update streams, keyed by network.
	streams map[string]<-chan *types.SignedUpdateWithMeta

	// seen maps previous root -> first signed update observed, across all
	// chains. The home domain is one trust zone, so one map suffices.
	seen map[common.Hash]*types.SignedUpdate

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewWatcher wires a watcher over the given update streams.
func NewWatcher(
	homeNetwork string,
	homeDomain types.Domain,
	updaterAddr common.Address,
	s signer.ISigner,
	txManager *submitter.TxManager,
	connectionManagers []types.Domain,
	streams map[string]<-chan *types.SignedUpdateWithMeta,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Watcher {
	return &Watcher{
		homeNetwork:        homeNetwork,
		homeDomain:         homeDomain,
		updaterAddr:        updaterAddr,
		signer:             s,
		txManager:          txManager,
		connectionManagers: connectionManagers,
		streams:            streams,
		seen:               make(map[common.Hash]*types.SignedUpdate),
		logger:             logger,
		metrics:            m,
	}
}

// Run fans in every stream and checks each update until all streams close,
// the context ends, or fraud halts the agent.
func (w *Watcher) Run(ctx context.Context) error {
	streams := make(map[string]<-chan *types.SignedUpdateWithMeta, len(w.streams))
	for name, stream := range w.streams {
		streams[name] = stream
	}
	for len(streams) > 0 {
		network, update, ok := Nexts(ctx, streams)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			if network == "" {
				return nil
			}
			delete(streams, network)
			continue
		}
		if err := w.Check(network, &update.SignedUpdate); err != nil {
			return err
		}
	}
	return nil
}

// Nexts awaits the next update on any stream; thin wrapper so tests can
// exercise the watcher without the fabric.
func Nexts(
	ctx context.Context,
	streams map[string]<-chan *types.SignedUpdateWithMeta,
) (string, *types.SignedUpdateWithMeta, bool) {
	return pipe.Nexts(ctx, streams)
}

// Check records one update and fires the killswitch on conflict.
func (w *Watcher) Check(network string, update *types.SignedUpdate) error {
	// Ignore objects that do not recover to the updater; they cannot be
	// attributed and the replica will reject them on its own.
	if err := update.Verify(w.updaterAddr); err != nil {
		w.logger.Sugar().Warnw("Update with foreign signature ignored",
			"network", network, "error", err)
		return nil
	}

	previous := update.Update.PreviousRoot
	first, ok := w.seen[previous]
	if !ok {
		w.seen[previous] = update
		return nil
	}
	if !first.IsDoubleUpdate(update) {
		return nil
	}

	w.logger.Sugar().Errorw("Double update detected",
		"network", network,
		"previousRoot", previous.Hex(),
		"firstNewRoot", first.Update.NewRoot.Hex(),
		"secondNewRoot", update.Update.NewRoot.Hex())
	if err := w.broadcastFailure(first, update); err != nil {
		return err
	}
	w.metrics.FraudNotifications.WithLabelValues(w.homeNetwork).Inc()
	return ErrFraudDetected
}

// broadcastFailure signs the failure notification, sends it to every
// connection manager, and submits the double-update proof to the home.
func (w *Watcher) broadcastFailure(first, second *types.SignedUpdate) error {
	notification, err := signer.SignFailureNotification(w.signer, types.FailureNotification{
		HomeDomain: w.homeDomain,
		Updater:    types.AddressToIdentifier(w.updaterAddr),
	})
	if err != nil {
		return err
	}
	body, err := notification.MarshalNomad()
	if err != nil {
		return err
	}
	for _, domain := range w.connectionManagers {
		tx, err := w.txManager.SubmitTransaction(domain, types.OpUnenrollReplica, body)
		if err != nil {
			return err
		}
		w.logger.Sugar().Infow("Failure notification enqueued",
			"domain", domain, "txId", tx.ID)
	}

	proof, err := ethereum.EncodeDoubleUpdateBody(first, second)
	if err != nil {
		return err
	}
	tx, err := w.txManager.SubmitTransaction(w.homeDomain, types.OpDoubleUpdateFraud, proof)
	if err != nil {
		return err
	}
	w.logger.Sugar().Infow("Double-update proof enqueued", "txId", tx.ID)
	return nil
}
