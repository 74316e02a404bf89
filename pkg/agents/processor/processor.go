package processor

import (
	"context"

	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/chains/ethereum"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/s3proofs"
	"github.com/nomad-xyz/nomad-go/pkg/submitter"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// Processor consumes the prover-sync (message, proof) stream and delivers
// each message to its destination replica, subject to sender allow/deny
// filtering and an optional single-destination restriction.
type Processor struct {
	network string
	// replicasByDomain maps destination domains to network names.
	replicasByDomain map[types.Domain]string
	allowed          map[types.NomadIdentifier]bool
	denied           map[types.NomadIdentifier]bool
	// indexOnly restricts delivery to one destination network when set.
	indexOnly string
	txManager *submitter.TxManager
	mirror    *s3proofs.ProofMirror
	proven    <-chan *types.MessageWithProof
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewProcessor wires a processor over the proven-message stream. mirror may
// be nil when no S3 bucket is configured.
func NewProcessor(
	network string,
	replicasByDomain map[types.Domain]string,
	allowed, denied []types.NomadIdentifier,
	indexOnly string,
	txManager *submitter.TxManager,
	mirror *s3proofs.ProofMirror,
	proven <-chan *types.MessageWithProof,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Processor {
	p := &Processor{
		network:          network,
		replicasByDomain: replicasByDomain,
		indexOnly:        indexOnly,
		txManager:        txManager,
		mirror:           mirror,
		proven:           proven,
		logger:           logger,
		metrics:          m,
	}
	if len(allowed) > 0 {
		p.allowed = make(map[types.NomadIdentifier]bool, len(allowed))
		for _, id := range allowed {
			p.allowed[id] = true
		}
	}
	if len(denied) > 0 {
		p.denied = make(map[types.NomadIdentifier]bool, len(denied))
		for _, id := range denied {
			p.denied[id] = true
		}
	}
	return p
}

// Run consumes the proven stream until it closes or the context ends.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case pair, ok := <-p.proven:
			if !ok {
				return nil
			}
			if err := p.handle(ctx, pair); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// handle mirrors, filters and delivers one proven message.
func (p *Processor) handle(ctx context.Context, pair *types.MessageWithProof) error {
	if p.mirror != nil {
		if err := p.mirror.Upload(ctx, &pair.Proof); err != nil {
			// The mirror is best-effort; delivery must not stall on S3.
			p.logger.Sugar().Warnw("Proof mirror upload failed",
				"leafIndex", pair.Message.LeafIndex, "error", err)
		}
	}

	message, err := pair.Message.Decode()
	if err != nil {
		return err
	}

	destination, known := p.replicasByDomain[message.Message.Destination]
	if !known {
		p.logger.Sugar().Warnw("Message for unconfigured destination, skipping",
			"leafIndex", message.LeafIndex, "destination", message.Message.Destination)
		return nil
	}
	if p.indexOnly != "" && destination != p.indexOnly {
		return nil
	}
	if !p.senderAllowed(message.Message.Sender) {
		p.logger.Sugar().Infow("Sender rejected by allow/deny list, skipping",
			"leafIndex", message.LeafIndex, "sender", message.Message.Sender.Hex())
		return nil
	}

	body, err := ethereum.EncodeProveAndProcessBody(pair)
	if err != nil {
		return err
	}
	tx, err := p.txManager.SubmitTransaction(message.Message.Destination, types.OpReplicaProveAndProcess, body)
	if err != nil {
		return err
	}
	p.logger.Sugar().Infow("Message enqueued for processing",
		"home", p.network,
		"replica", destination,
		"leafIndex", message.LeafIndex,
		"txId", tx.ID)
	return nil
}

// senderAllowed applies the deny list, then the allow list.
func (p *Processor) senderAllowed(sender types.NomadIdentifier) bool {
	if p.denied != nil && p.denied[sender] {
		return false
	}
	if p.allowed != nil && !p.allowed[sender] {
		return false
	}
	return true
}
