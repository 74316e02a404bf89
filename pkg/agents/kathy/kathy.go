package kathy

import (
	"context"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/config"
	"github.com/nomad-xyz/nomad-go/pkg/submitter"
	"github.com/nomad-xyz/nomad-go/pkg/types"
	"github.com/nomad-xyz/nomad-go/pkg/utils"
)

// Kathy is chatty. She dispatches generated messages to random replicas at
// an interval, exercising the full pipeline end to end.
type Kathy struct {
	network      string
	homeDomain   types.Domain
	sender       types.NomadIdentifier
	destinations []types.Domain
	chat         ChatGenerator
	interval     uint64
	txManager    *submitter.TxManager
	nonce        uint32
	logger       *zap.Logger
}

// NewKathy wires a traffic generator against the home.
func NewKathy(
	network string,
	homeDomain types.Domain,
	sender types.NomadIdentifier,
	destinations []types.Domain,
	cfg config.KathyConfig,
	txManager *submitter.TxManager,
	logger *zap.Logger,
) *Kathy {
	return &Kathy{
		network:      network,
		homeDomain:   homeDomain,
		sender:       sender,
		destinations: destinations,
		chat:         NewChatGenerator(cfg.Chat),
		interval:     cfg.IntervalMillis,
		txManager:    txManager,
		logger:       logger.With(zap.String("run", uuid.NewString())),
	}
}

// Run dispatches until the generator runs dry or the context ends.
func (k *Kathy) Run(ctx context.Context) error {
	for {
		recipient, body, ok := k.chat.Next()
		if !ok {
			k.logger.Sugar().Info("Chat generator exhausted, shutting down")
			return nil
		}
		destination := k.destinations[rand.Intn(len(k.destinations))]
		message := types.Message{
			Origin:      k.homeDomain,
			Sender:      k.sender,
			Nonce:       k.nonce,
			Destination: destination,
			Recipient:   recipient,
			Body:        body,
		}
		encoded, err := message.MarshalNomad()
		if err != nil {
			return err
		}
		tx, err := k.txManager.SubmitTransaction(k.homeDomain, types.OpHomeDispatch, encoded)
		if err != nil {
			return err
		}
		k.nonce++
		k.logger.Sugar().Infow("Chat message dispatched",
			"destination", destination, "recipient", recipient.Hex(), "txId", tx.ID)

		if utils.NoisySleep(ctx, k.interval) != nil {
			return nil
		}
	}
}

// ChatGenerator produces the next message to dispatch. ok=false ends the
// run.
type ChatGenerator interface {
	Next() (recipient types.NomadIdentifier, body []byte, ok bool)
}

// NewChatGenerator selects a generator from the tagged config variant.
func NewChatGenerator(cfg config.ChatGenConfig) ChatGenerator {
	switch cfg.Type {
	case "static":
		return &staticChat{
			recipient: common.HexToHash(cfg.Recipient),
			message:   []byte(cfg.Message),
		}
	case "orderedList":
		return &orderedChat{messages: cfg.Messages}
	case "random":
		return &randomChat{length: cfg.Length}
	default:
		return &randomChat{length: 32}
	}
}

// staticChat repeats one message to one recipient forever.
type staticChat struct {
	recipient types.NomadIdentifier
	message   []byte
}

func (s *staticChat) Next() (types.NomadIdentifier, []byte, bool) {
	return s.recipient, s.message, true
}

// orderedChat walks a fixed list once, then stops.
type orderedChat struct {
	messages []string
	position int
}

func (o *orderedChat) Next() (types.NomadIdentifier, []byte, bool) {
	if o.position >= len(o.messages) {
		return types.NomadIdentifier{}, nil, false
	}
	message := o.messages[o.position]
	o.position++
	return types.NomadIdentifier{}, []byte(message), true
}

// randomChat sends random bytes to random recipients forever.
type randomChat struct {
	length int
}

func (r *randomChat) Next() (types.NomadIdentifier, []byte, bool) {
	var recipient types.NomadIdentifier
	rand.Read(recipient[:])
	body := make([]byte, r.length)
	rand.Read(body)
	return recipient, body, true
}
