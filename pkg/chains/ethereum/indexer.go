package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/nomad-xyz/nomad-go/pkg/indexer"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// rpcRateLimit caps log queries per second so a catching-up indexer cannot
// starve the provider.
const rpcRateLimit = rate.Limit(10)

// Indexer fetches home/replica events over JSON-RPC log filters. It
// implements indexer.HomeIndexer; for replicas only the CommonIndexer
// surface is used.
type Indexer struct {
	client   *ethclient.Client
	contract common.Address
	limiter  *rate.Limiter
}

var _ indexer.HomeIndexer = (*Indexer)(nil)

// NewIndexer builds an indexer over the contract at address.
func NewIndexer(client *ethclient.Client, contract common.Address) *Indexer {
	return &Indexer{
		client:   client,
		contract: contract,
		limiter:  rate.NewLimiter(rpcRateLimit, 1),
	}
}

// GetBlockNumber returns the current chain head.
func (i *Indexer) GetBlockNumber(ctx context.Context) (uint32, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	head, err := i.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch chain head: %w", err)
	}
	return uint32(head), nil
}

// FetchSortedUpdates returns update events in [from, to] sorted by block,
// then log index.
func (i *Indexer) FetchSortedUpdates(ctx context.Context, from, to uint32) ([]*types.SignedUpdateWithMeta, error) {
	logs, err := i.filter(ctx, from, to, updateTopic)
	if err != nil {
		return nil, err
	}
	updates := make([]*types.SignedUpdateWithMeta, 0, len(logs))
	for _, entry := range logs {
		update, err := parseUpdateLog(entry)
		if err != nil {
			return nil, err
		}
		updates = append(updates, update)
	}
	sort.SliceStable(updates, func(a, b int) bool {
		if updates[a].BlockNumber != updates[b].BlockNumber {
			return updates[a].BlockNumber < updates[b].BlockNumber
		}
		return updates[a].LogIndex < updates[b].LogIndex
	})
	return updates, nil
}

// FetchSortedMessages returns dispatch events in [from, to] sorted by
// block, then log index.
func (i *Indexer) FetchSortedMessages(ctx context.Context, from, to uint32) ([]*types.RawCommittedMessage, error) {
	logs, err := i.filter(ctx, from, to, dispatchTopic)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(logs, func(a, b int) bool {
		if logs[a].BlockNumber != logs[b].BlockNumber {
			return logs[a].BlockNumber < logs[b].BlockNumber
		}
		return logs[a].Index < logs[b].Index
	})
	messages := make([]*types.RawCommittedMessage, 0, len(logs))
	for _, entry := range logs {
		message, err := parseDispatchLog(entry)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// filter runs one rate-limited log query for a single topic.
func (i *Indexer) filter(ctx context.Context, from, to uint32, topic common.Hash) ([]ethtypes.Log, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return i.client.FilterLogs(ctx, goethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(uint64(from)),
		ToBlock:   new(big.Int).SetUint64(uint64(to)),
		Addresses: []common.Address{i.contract},
		Topics:    [][]common.Hash{{topic}},
	})
}

// parseUpdateLog decodes an Update event: homeDomain, oldRoot and newRoot
// are indexed; the signature rides in the data.
func parseUpdateLog(entry ethtypes.Log) (*types.SignedUpdateWithMeta, error) {
	if len(entry.Topics) != 4 {
		return nil, fmt.Errorf("update log has %d topics, want 4", len(entry.Topics))
	}
	unpacked, err := homeABI.Events["Update"].Inputs.NonIndexed().Unpack(entry.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack update log: %w", err)
	}
	raw := unpacked[0].([]byte)
	if len(raw) != 65 {
		return nil, fmt.Errorf("update signature is %d bytes, want 65", len(raw))
	}
	return &types.SignedUpdateWithMeta{
		SignedUpdate: types.SignedUpdate{
			Update: types.Update{
				HomeDomain:   types.Domain(new(big.Int).SetBytes(entry.Topics[1][:]).Uint64()),
				PreviousRoot: entry.Topics[2],
				NewRoot:      entry.Topics[3],
			},
			Signature: types.Signature{
				R: common.BytesToHash(raw[0:32]),
				S: common.BytesToHash(raw[32:64]),
				V: uint64(raw[64]),
			},
		},
		BlockNumber: uint32(entry.BlockNumber),
		LogIndex:    uint32(entry.Index),
	}, nil
}

// parseDispatchLog decodes a Dispatch event: the leaf index is indexed; the
// committed root and raw message ride in the data.
func parseDispatchLog(entry ethtypes.Log) (*types.RawCommittedMessage, error) {
	if len(entry.Topics) != 4 {
		return nil, fmt.Errorf("dispatch log has %d topics, want 4", len(entry.Topics))
	}
	unpacked, err := homeABI.Events["Dispatch"].Inputs.NonIndexed().Unpack(entry.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack dispatch log: %w", err)
	}
	return &types.RawCommittedMessage{
		LeafIndex:     uint32(new(big.Int).SetBytes(entry.Topics[2][:]).Uint64()),
		CommittedRoot: common.Hash(unpacked[0].([32]byte)),
		Message:       unpacked[1].([]byte),
	}, nil
}
