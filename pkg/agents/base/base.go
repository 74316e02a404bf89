package base

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/chains/ethereum"
	"github.com/nomad-xyz/nomad-go/pkg/config"
	"github.com/nomad-xyz/nomad-go/pkg/db"
	"github.com/nomad-xyz/nomad-go/pkg/db/badgerstore"
	"github.com/nomad-xyz/nomad-go/pkg/db/memorystore"
	"github.com/nomad-xyz/nomad-go/pkg/db/redisstore"
	"github.com/nomad-xyz/nomad-go/pkg/gelato"
	"github.com/nomad-xyz/nomad-go/pkg/indexer"
	"github.com/nomad-xyz/nomad-go/pkg/logger"
	"github.com/nomad-xyz/nomad-go/pkg/metrics"
	"github.com/nomad-xyz/nomad-go/pkg/pipe"
	"github.com/nomad-xyz/nomad-go/pkg/submitter"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// Core is the wiring every agent shares: config, logger, metrics, the
// durable store, chain clients, per-chain indexers and the transaction
// pipeline. Agents layer their role-specific flow on top.
type Core struct {
	Config  *config.NomadConfig
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	Store db.IStore
	// DB is the home-prefixed typed store every agent component shares.
	DB *db.NomadDB

	// Clients holds one RPC client per network.
	Clients map[string]*ethclient.Client
	// Home wraps the home contract on the home network.
	Home *ethereum.Home

	// Senders dispatches transactions per destination domain.
	Senders map[types.Domain]submitter.ITxSender
	// TxManager is the write side of the durable transaction queue.
	TxManager *submitter.TxManager

	txPoller     *submitter.TxPoller
	statusPoller *submitter.TxStatusPoller
}

// NewCore loads configuration and wires the shared stack for the named
// agent.
func NewCore(agentName string, debug bool) (*Core, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	log, err := logger.NewLogger(&logger.LoggerConfig{
		Debug:  debug,
		Pretty: config.PrettyLogs(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	log = log.With(zap.String("agent", agentName), zap.String("home", cfg.HomeNetwork))

	m := metrics.NewMetrics(agentName, log)

	store, err := openStore(cfg.Db, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open durable store")
	}
	if err := store.HealthCheck(); err != nil {
		return nil, errors.Wrap(err, "store health check failed")
	}
	nomadDB := db.NewNomadDB(cfg.HomeNetwork, store, log)

	core := &Core{
		Config:  cfg,
		Logger:  log,
		Metrics: m,
		Store:   store,
		DB:      nomadDB,
		Clients: make(map[string]*ethclient.Client),
		Senders: make(map[types.Domain]submitter.ITxSender),
	}

	for name, network := range cfg.Networks {
		client, err := ethclient.Dial(network.ConnectionURL)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to dial %s", name)
		}
		core.Clients[name] = client

		sender, err := buildSender(network, client, log)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to build sender for %s", name)
		}
		core.Senders[types.Domain(network.Domain)] = sender
	}

	home := cfg.Networks[cfg.HomeNetwork]
	core.Home = ethereum.NewHome(common.HexToAddress(home.Contracts.Home), core.Clients[cfg.HomeNetwork])

	core.TxManager = submitter.NewTxManager(nomadDB, log)
	core.txPoller = submitter.NewTxPoller(cfg.HomeNetwork, nomadDB, core.Senders, log, m)
	core.statusPoller = submitter.NewTxStatusPoller(cfg.HomeNetwork, nomadDB, core.Senders, log, m)

	return core, nil
}

// openStore builds the configured store backend.
func openStore(cfg config.DbConfig, log *zap.Logger) (db.IStore, error) {
	switch cfg.Backend {
	case "badger", "":
		return badgerstore.NewBadgerStore(cfg.Path, log)
	case "redis":
		return redisstore.NewRedisStore(&redisstore.RedisConfig{
			Address: cfg.RedisAddress,
			DB:      cfg.RedisDB,
		}, log)
	case "memory":
		return memorystore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown db backend %q", cfg.Backend)
	}
}

// buildSender selects the dispatch backend for one chain.
func buildSender(network *config.NetworkConfig, client *ethclient.Client, log *zap.Logger) (submitter.ITxSender, error) {
	translator := ethereum.NewTxTranslator(ethereum.ContractAddresses{
		Home:              common.HexToAddress(network.Contracts.Home),
		Replica:           common.HexToAddress(network.Contracts.Replica),
		ConnectionManager: common.HexToAddress(network.Contracts.ConnectionManager),
	})

	switch network.Submitter.Kind {
	case "local", "":
		return ethereum.NewLocalSender(client, translator, network.Submitter.TxKey, log)
	case "gelato":
		relay := gelato.NewClient(network.Submitter.RelayURL, log)
		single := gelato.NewSingleChainClient(relay, network.Submitter.ChainID, network.Submitter.PaymentToken)
		return submitter.NewGelatoSender(single, translator, log), nil
	default:
		return nil, fmt.Errorf("unknown submitter kind %q", network.Submitter.Kind)
	}
}

// HomeIndexer builds the home chain's event indexer.
func (c *Core) HomeIndexer() indexer.HomeIndexer {
	home := c.Config.Networks[c.Config.HomeNetwork]
	return ethereum.NewIndexer(c.Clients[c.Config.HomeNetwork], common.HexToAddress(home.Contracts.Home))
}

// ReplicaIndexer builds a replica chain's event indexer.
func (c *Core) ReplicaIndexer(name string) indexer.CommonIndexer {
	network := c.Config.Networks[name]
	return ethereum.NewIndexer(c.Clients[name], common.HexToAddress(network.Contracts.Replica))
}

// HomeSync builds the home chain's contract sync loop.
func (c *Core) HomeSync() *indexer.ContractSync {
	home := c.Config.Networks[c.Config.HomeNetwork]
	return indexer.NewContractSync(
		c.Config.HomeNetwork,
		c.DB,
		c.HomeIndexer(),
		indexer.SyncConfig{
			FromBlock:      home.Index.FromBlock,
			ChunkSize:      home.Index.ChunkSize,
			FinalityLag:    home.Index.FinalityLag,
			IntervalMillis: home.Index.IntervalMillis,
		},
		c.Logger,
		c.Metrics,
	)
}

// ReplicaSync builds a replica chain's contract sync loop with its own
// entity namespace in the store.
func (c *Core) ReplicaSync(name string) *indexer.ContractSync {
	network := c.Config.Networks[name]
	return indexer.NewContractSync(
		name,
		db.NewNomadDB(name, c.Store, c.Logger),
		c.ReplicaIndexer(name),
		indexer.SyncConfig{
			FromBlock:      network.Index.FromBlock,
			ChunkSize:      network.Index.ChunkSize,
			FinalityLag:    network.Index.FinalityLag,
			IntervalMillis: network.Index.IntervalMillis,
		},
		c.Logger,
		c.Metrics,
	)
}

// StartSubmitter launches the dispatch and confirmation pollers under the
// restart supervisor and serves metrics.
func (c *Core) StartSubmitter(ctx context.Context) {
	c.Metrics.ServeHTTP(ctx, c.Config.MetricsPort)
	go func() {
		_ = pipe.SpawnWithRestart(ctx, pipe.NewFunc("tx-poller", c.txPoller.Run), c.Logger)
	}()
	go func() {
		_ = pipe.SpawnWithRestart(ctx, pipe.NewFunc("tx-status", c.statusPoller.Run), c.Logger)
	}()
}

// Close releases the store and every RPC client.
func (c *Core) Close() {
	for _, client := range c.Clients {
		client.Close()
	}
	if err := c.Store.Close(); err != nil {
		c.Logger.Sugar().Warnw("Store close failed", "error", err)
	}
}

// UpdaterAddress reads the trusted updater from config.
func (c *Core) UpdaterAddress() common.Address {
	return common.HexToAddress(c.Config.Networks[c.Config.HomeNetwork].Updater)
}
