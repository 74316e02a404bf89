package indexer

import (
	"context"

	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/db"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/types"
	"github.com/nomad-xyz/nomad-go/pkg/utils"
)

// SyncConfig bounds the poll loop.
type SyncConfig struct {
	// FromBlock is the contract deployment block, used when no cursor has
	// been persisted yet.
	FromBlock uint32
	// ChunkSize is the widest block window queried per batch.
	ChunkSize uint32
	// FinalityLag is how many confirmations to wait before indexing a block.
	FinalityLag uint32
	// IntervalMillis is the approximate pause between poll batches;
	// NoisySleep adds jitter.
	IntervalMillis uint64
}

// ContractSync converts chain logs into ordered, durably persisted streams
// of updates and dispatches with crash-resume semantics. Each event batch is
// persisted, then the cursor, then the batch is emitted: on restart the
// cursor guarantees no event is skipped and none is emitted twice.
type ContractSync struct {
	network string
	db      *db.NomadDB
	indexer CommonIndexer
	config  SyncConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewContractSync wires a sync loop for one chain.
func NewContractSync(
	network string,
	nomadDB *db.NomadDB,
	idx CommonIndexer,
	config SyncConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *ContractSync {
	return &ContractSync{
		network: network,
		db:      nomadDB,
		indexer: idx,
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// SyncUpdates starts the update poll loop and returns its ordered stream.
// The channel closes when the context ends.
func (c *ContractSync) SyncUpdates(ctx context.Context) <-chan *types.SignedUpdateWithMeta {
	out := make(chan *types.SignedUpdateWithMeta)
	go func() {
		defer close(out)
		cursor, err := c.updatesCursor()
		if err != nil {
			c.logger.Sugar().Errorw("Failed to read updates cursor", "network", c.network, "error", err)
			return
		}
		for {
			from, to, ok := c.nextWindow(ctx, cursor)
			if !ok {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			updates, err := c.indexer.FetchSortedUpdates(ctx, from, to)
			if err != nil {
				c.logger.Sugar().Warnw("Failed to fetch updates, backing off",
					"network", c.network, "from", from, "to", to, "error", err)
				if utils.NoisySleep(ctx, c.config.IntervalMillis) != nil {
					return
				}
				continue
			}

			// Persist every event, then the cursor, then emit.
			for _, update := range updates {
				if err := c.db.StoreUpdate(&update.SignedUpdate); err != nil {
					c.logger.Sugar().Errorw("Failed to persist update", "network", c.network, "error", err)
					return
				}
			}
			if err := c.db.StoreUpdateLatestBlockEnd(to); err != nil {
				c.logger.Sugar().Errorw("Failed to persist updates cursor", "network", c.network, "error", err)
				return
			}
			cursor = to

			for _, update := range updates {
				c.metrics.UpdatesIndexed.WithLabelValues(c.network).Inc()
				select {
				case out <- update:
				case <-ctx.Done():
					return
				}
			}

			if utils.NoisySleep(ctx, c.config.IntervalMillis) != nil {
				return
			}
		}
	}()
	return out
}

// SyncMessages starts the dispatch poll loop and returns its ordered
// stream. Requires a HomeIndexer; the channel closes when the context ends.
func (c *ContractSync) SyncMessages(ctx context.Context) <-chan *types.RawCommittedMessage {
	out := make(chan *types.RawCommittedMessage)
	home, ok := c.indexer.(HomeIndexer)
	if !ok {
		c.logger.Sugar().Errorw("Indexer cannot fetch messages", "network", c.network)
		close(out)
		return out
	}
	go func() {
		defer close(out)
		cursor, err := c.messagesCursor()
		if err != nil {
			c.logger.Sugar().Errorw("Failed to read messages cursor", "network", c.network, "error", err)
			return
		}
		for {
			from, to, ok := c.nextWindow(ctx, cursor)
			if !ok {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			messages, err := home.FetchSortedMessages(ctx, from, to)
			if err != nil {
				c.logger.Sugar().Warnw("Failed to fetch messages, backing off",
					"network", c.network, "from", from, "to", to, "error", err)
				if utils.NoisySleep(ctx, c.config.IntervalMillis) != nil {
					return
				}
				continue
			}

			for _, message := range messages {
				if err := c.db.StoreCommittedMessage(message); err != nil {
					c.logger.Sugar().Errorw("Failed to persist message", "network", c.network, "error", err)
					return
				}
			}
			if err := c.db.StoreMessageLatestBlockEnd(to); err != nil {
				c.logger.Sugar().Errorw("Failed to persist messages cursor", "network", c.network, "error", err)
				return
			}
			cursor = to

			for _, message := range messages {
				c.metrics.MessagesIndexed.WithLabelValues(c.network).Inc()
				select {
				case out <- message:
				case <-ctx.Done():
					return
				}
			}

			if utils.NoisySleep(ctx, c.config.IntervalMillis) != nil {
				return
			}
		}
	}()
	return out
}

// nextWindow computes the next [from, to] block window behind the finality
// lag. Returns ok=false after sleeping when there is nothing to index yet or
// the head could not be read.
func (c *ContractSync) nextWindow(ctx context.Context, cursor uint32) (uint32, uint32, bool) {
	head, err := c.indexer.GetBlockNumber(ctx)
	if err != nil {
		c.logger.Sugar().Warnw("Failed to fetch chain head, backing off",
			"network", c.network, "error", err)
		_ = utils.NoisySleep(ctx, c.config.IntervalMillis)
		return 0, 0, false
	}
	if head <= c.config.FinalityLag {
		_ = utils.NoisySleep(ctx, c.config.IntervalMillis)
		return 0, 0, false
	}
	tip := head - c.config.FinalityLag
	if tip <= cursor {
		_ = utils.NoisySleep(ctx, c.config.IntervalMillis)
		return 0, 0, false
	}
	to := cursor + c.config.ChunkSize
	if to > tip {
		to = tip
	}
	return cursor + 1, to, true
}

// updatesCursor loads the persisted updates cursor, falling back to the
// deployment block.
func (c *ContractSync) updatesCursor() (uint32, error) {
	cursor, ok, err := c.db.RetrieveUpdateLatestBlockEnd()
	if err != nil {
		return 0, err
	}
	if !ok {
		return c.config.FromBlock, nil
	}
	return cursor, nil
}

// messagesCursor loads the persisted messages cursor, falling back to the
// deployment block.
func (c *ContractSync) messagesCursor() (uint32, error) {
	cursor, ok, err := c.db.RetrieveMessageLatestBlockEnd()
	if err != nil {
		return 0, err
	}
	if !ok {
		return c.config.FromBlock, nil
	}
	return cursor, nil
}
