package submitter

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/gelato"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// GelatoSender dispatches through the sponsored relay. The dispatch
// reference is the relay task id.
type GelatoSender struct {
	client     *gelato.SingleChainGelatoClient
	translator ITxTranslator
	logger     *zap.Logger
}

var _ ITxSender = (*GelatoSender)(nil)

// NewGelatoSender builds a sponsored sender for one chain.
func NewGelatoSender(client *gelato.SingleChainGelatoClient, translator ITxTranslator, logger *zap.Logger) *GelatoSender {
	return &GelatoSender{client: client, translator: translator, logger: logger}
}

// Backend names the dispatch path.
func (g *GelatoSender) Backend() string {
	return "gelato"
}

// Dispatch translates the transaction and submits it for sponsored
// execution.
func (g *GelatoSender) Dispatch(ctx context.Context, tx *types.PersistedTransaction) (string, error) {
	dest, data, err := g.translator.Convert(tx)
	if err != nil {
		return "", fmt.Errorf("failed to translate tx %d: %w", tx.ID, err)
	}
	response, err := g.client.SendRelayTransaction(ctx, dest.Hex(), hexutil.Encode(data))
	if err != nil {
		return "", err
	}
	return response.TaskID, nil
}

// Status maps relay task states onto confirm events.
func (g *GelatoSender) Status(ctx context.Context, ref string) (types.TxConfirmEvent, error) {
	state, err := g.client.Client.GetTaskStatus(ctx, ref)
	if err != nil {
		return types.TxSeen, err
	}
	switch {
	case state == gelato.ExecSuccess:
		return types.TxConfirmed, nil
	case state.IsTerminal():
		return types.TxDropped, nil
	default:
		return types.TxSeen, nil
	}
}
