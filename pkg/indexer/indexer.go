package indexer

import (
	"context"

	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// CommonIndexer fetches the events every chain exposes: signed updates and
// the chain head. Implementations return events sorted by block number, then
// log index.
type CommonIndexer interface {
	// GetBlockNumber returns the current chain head.
	GetBlockNumber(ctx context.Context) (uint32, error)

	// FetchSortedUpdates returns every update event in [from, to],
	// inclusive, sorted by block then log index.
	FetchSortedUpdates(ctx context.Context, from, to uint32) ([]*types.SignedUpdateWithMeta, error)
}

// HomeIndexer additionally fetches dispatch events, which only the home
// contract emits.
type HomeIndexer interface {
	CommonIndexer

	// FetchSortedMessages returns every dispatch event in [from, to],
	// inclusive, sorted by block then log index.
	FetchSortedMessages(ctx context.Context, from, to uint32) ([]*types.RawCommittedMessage, error)
}
