package config

// builtins are the configs shipped with the binary, keyed by RUN_ENV. They
// cover local development rigs; production deployments set CONFIG_PATH.
var builtins = map[string]func() *NomadConfig{
	"development": developmentConfig,
	"test":        testConfig,
}

func developmentConfig() *NomadConfig {
	return &NomadConfig{
		Environment: "development",
		HomeNetwork: "local1",
		Networks: map[string]*NetworkConfig{
			"local1": {
				Name:          "local1",
				Domain:        1000,
				ConnectionURL: "http://localhost:8545",
				Contracts: ContractsConfig{
					Home:              "0x1111111111111111111111111111111111111111",
					ConnectionManager: "0x3333333333333333333333333333333333333333",
				},
				Index: IndexConfig{
					ChunkSize:      2000,
					FinalityLag:    0,
					IntervalMillis: 5000,
				},
				Submitter: SubmitterConfig{Kind: "local"},
			},
			"local2": {
				Name:          "local2",
				Domain:        2000,
				ConnectionURL: "http://localhost:9545",
				Contracts: ContractsConfig{
					Replica:           "0x2222222222222222222222222222222222222222",
					ConnectionManager: "0x4444444444444444444444444444444444444444",
				},
				Index: IndexConfig{
					ChunkSize:      2000,
					FinalityLag:    0,
					IntervalMillis: 5000,
				},
				Submitter: SubmitterConfig{Kind: "local"},
			},
		},
		Db:          DbConfig{Backend: "badger", Path: "./nomad-db"},
		MetricsPort: 9090,
	}
}

func testConfig() *NomadConfig {
	cfg := developmentConfig()
	cfg.Environment = "test"
	cfg.Db = DbConfig{Backend: "memory"}
	return cfg
}
