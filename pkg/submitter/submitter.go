package submitter

import (
	"context"

	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// ITxSender dispatches translated transactions to one chain and reports on
// their fate. Two backends exist: local direct-RPC submission and the
// sponsored relay.
type ITxSender interface {
	// Backend names the dispatch path for logs and metrics.
	Backend() string

	// Dispatch translates and sends the transaction, returning the
	// chain-native reference used to poll its status: a tx hash locally, a
	// task id on the relay.
	Dispatch(ctx context.Context, tx *types.PersistedTransaction) (string, error)

	// Status resolves a dispatch reference to the transaction's current
	// confirm event: Seen while in flight, Confirmed or Dropped once
	// terminal.
	Status(ctx context.Context, ref string) (types.TxConfirmEvent, error)
}
