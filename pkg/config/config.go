package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// NomadConfig is the single JSON document every agent loads at bootstrap,
// from CONFIG_PATH or a builtin named by RUN_ENV.
type NomadConfig struct {
	// Environment names this deployment ("development", "test", ...).
	Environment string `json:"environment"`

	// HomeNetwork is the network whose home contract this deployment
	// watches.
	HomeNetwork string `json:"homeNetwork"`

	// Networks configures every chain the agents touch, keyed by name.
	Networks map[string]*NetworkConfig `json:"networks"`

	// Db selects and configures the durable store.
	Db DbConfig `json:"db"`

	// MetricsPort is where the prometheus endpoint listens.
	MetricsPort uint16 `json:"metricsPort"`

	// Agent carries role-specific settings.
	Agent AgentConfig `json:"agent"`
}

// NetworkConfig is one chain's connection and contract surface.
type NetworkConfig struct {
	// Name repeats the map key for convenience after load.
	Name string `json:"name"`
	// Domain is the chain's 32-bit identifier.
	Domain uint32 `json:"domain"`
	// ConnectionURL is the RPC endpoint. Overridable via
	// {NETWORK}_CONNECTION_URL.
	ConnectionURL string `json:"connectionUrl"`
	// Updater is the attestation address the home trusts.
	Updater string `json:"updater"`
	// Contracts locates the contract surface on this chain.
	Contracts ContractsConfig `json:"contracts"`
	// Index bounds the poll loop for this chain.
	Index IndexConfig `json:"index"`
	// Submitter selects the dispatch backend for this chain.
	Submitter SubmitterConfig `json:"submitter"`
}

// ContractsConfig locates the deployed contracts on one chain.
type ContractsConfig struct {
	// Home is the home contract address; set on the home network only.
	Home string `json:"home,omitempty"`
	// Replica is this chain's replica of the home; set on remote networks.
	Replica string `json:"replica,omitempty"`
	// ConnectionManager is the xapp connection manager address.
	ConnectionManager string `json:"connectionManager,omitempty"`
}

// IndexConfig bounds one chain's poll loop.
type IndexConfig struct {
	// FromBlock is the contract deployment block.
	FromBlock uint32 `json:"fromBlock"`
	// ChunkSize is the widest block window per query.
	ChunkSize uint32 `json:"chunkSize"`
	// FinalityLag is how many confirmations to wait.
	FinalityLag uint32 `json:"finalityLag"`
	// IntervalMillis is the approximate pause between poll batches.
	IntervalMillis uint64 `json:"interval"`
}

// SubmitterConfig selects local or sponsored dispatch.
type SubmitterConfig struct {
	// Kind is "local" or "gelato".
	Kind string `json:"kind"`
	// TxKey is the hex transaction key for local dispatch. Overridable via
	// {NETWORK}_TXKEY / DEFAULT_TXKEY.
	TxKey string `json:"txKey,omitempty"`
	// ChainID is the EVM chain id, required by the relay.
	ChainID uint64 `json:"chainId,omitempty"`
	// RelayURL overrides the production relay endpoint.
	RelayURL string `json:"relayUrl,omitempty"`
	// PaymentToken is the fee token for sponsored dispatch.
	PaymentToken string `json:"paymentToken,omitempty"`
}

// DbConfig selects and configures the durable store.
type DbConfig struct {
	// Backend is "badger", "redis" or "memory".
	Backend string `json:"backend"`
	// Path is the badger data directory.
	Path string `json:"path,omitempty"`
	// RedisAddress is the redis endpoint (host:port).
	RedisAddress string `json:"redisAddress,omitempty"`
	// RedisDB is the redis database number.
	RedisDB int `json:"redisDb,omitempty"`
}

// AgentConfig carries role-specific settings; agents read their own block.
type AgentConfig struct {
	// SignerKey is the attestation key, hex. Overridable via
	// {NETWORK}_SIGNERKEY / DEFAULT_SIGNERKEY.
	SignerKey string `json:"signerKey,omitempty"`
	// Processor configures the processor agent.
	Processor ProcessorConfig `json:"processor,omitempty"`
	// Kathy configures the traffic generator.
	Kathy KathyConfig `json:"kathy,omitempty"`
}

// ProcessorConfig is the processor's filter and mirror settings.
type ProcessorConfig struct {
	// Allowed restricts processing to these senders when non-empty.
	Allowed []string `json:"allowed,omitempty"`
	// Denied skips these senders.
	Denied []string `json:"denied,omitempty"`
	// IndexOnly restricts processing to one destination network.
	IndexOnly string `json:"indexOnly,omitempty"`
	// S3 mirrors frozen proofs to a bucket when set.
	S3 *S3Config `json:"s3,omitempty"`
}

// S3Config locates the proof mirror bucket.
type S3Config struct {
	Bucket string `json:"bucket"`
	Region string `json:"region"`
}

// KathyConfig is the traffic generator's settings.
type KathyConfig struct {
	// IntervalMillis is the approximate pause between messages.
	IntervalMillis uint64 `json:"interval"`
	// Chat selects the message generator.
	Chat ChatGenConfig `json:"chat"`
}

// ChatGenConfig is a tagged variant: static, orderedList, random or
// default.
type ChatGenConfig struct {
	Type      string   `json:"type"`
	Recipient string   `json:"recipient,omitempty"`
	Message   string   `json:"message,omitempty"`
	Messages  []string `json:"messages,omitempty"`
	Length    int      `json:"length,omitempty"`
}

// LoadConfig loads the document from CONFIG_PATH, falling back to the
// builtin named by RUN_ENV, then applies environment overrides and the
// MONITOR_NETWORKS selection.
func LoadConfig() (*NomadConfig, error) {
	var cfg *NomadConfig

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read CONFIG_PATH %s: %w", path, err)
		}
		cfg = &NomadConfig{}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else {
		runEnv := os.Getenv("RUN_ENV")
		if runEnv == "" {
			runEnv = "development"
		}
		builtin, ok := builtins[runEnv]
		if !ok {
			return nil, fmt.Errorf("no builtin config for RUN_ENV %q and CONFIG_PATH unset", runEnv)
		}
		cfg = builtin()
	}

	for name, network := range cfg.Networks {
		if network.Name == "" {
			network.Name = name
		}
	}

	cfg.applyEnvOverrides()

	if selected := os.Getenv("MONITOR_NETWORKS"); selected != "" {
		keep := make(map[string]bool)
		for _, name := range strings.Split(selected, ",") {
			keep[strings.TrimSpace(name)] = true
		}
		for name := range cfg.Networks {
			if !keep[name] {
				delete(cfg.Networks, name)
			}
		}
	}

	return cfg, cfg.Validate()
}

// applyEnvOverrides applies {NETWORK}_CONNECTION_URL and the
// network-or-default pattern for keys.
func (c *NomadConfig) applyEnvOverrides() {
	for name, network := range c.Networks {
		if url := os.Getenv(strings.ToUpper(name) + "_CONNECTION_URL"); url != "" {
			network.ConnectionURL = url
		}
		if key := NetworkOrDefaultFromEnv(name, "TXKEY"); key != "" {
			network.Submitter.TxKey = key
		}
	}
	if key := NetworkOrDefaultFromEnv(c.HomeNetwork, "SIGNERKEY"); key != "" {
		c.Agent.SignerKey = key
	}
}

// NetworkOrDefaultFromEnv reads {NETWORK}_{VAR}, falling back to
// DEFAULT_{VAR}. Network-specific values win.
func NetworkOrDefaultFromEnv(network, variable string) string {
	value := os.Getenv(strings.ToUpper(network) + "_" + strings.ToUpper(variable))
	if value == "" {
		value = os.Getenv("DEFAULT_" + strings.ToUpper(variable))
	}
	return value
}

// PrettyLogs reports whether MONITOR_PRETTY asked for human-readable logs.
func PrettyLogs() bool {
	return strings.EqualFold(os.Getenv("MONITOR_PRETTY"), "true")
}

// Validate rejects configs an agent cannot run with.
func (c *NomadConfig) Validate() error {
	if c.HomeNetwork == "" {
		return fmt.Errorf("homeNetwork is required")
	}
	home, ok := c.Networks[c.HomeNetwork]
	if !ok {
		return fmt.Errorf("home network %q is not configured", c.HomeNetwork)
	}
	if home.Contracts.Home == "" {
		return fmt.Errorf("home network %q has no home contract", c.HomeNetwork)
	}
	for name, network := range c.Networks {
		if network.ConnectionURL == "" {
			return fmt.Errorf("network %q has no connection url", name)
		}
		if network.Domain == 0 {
			return fmt.Errorf("network %q has no domain", name)
		}
	}
	return nil
}

// Replicas returns every configured network other than the home.
func (c *NomadConfig) Replicas() map[string]*NetworkConfig {
	replicas := make(map[string]*NetworkConfig, len(c.Networks))
	for name, network := range c.Networks {
		if name != c.HomeNetwork {
			replicas[name] = network
		}
	}
	return replicas
}
