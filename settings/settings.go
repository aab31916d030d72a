package settings

import (
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
)

func NewSettings() *Settings {
	params, err := chaincfg.GetChainParams(getString("network", "mainnet"))
	if err != nil {
		panic(err)
	}

	dataFolder := getString("dataFolder", "data")

	return &Settings{
		ClientName: getString("clientName", "chainstate"),
		DataFolder: dataFolder,
		LogLevel:   getString("logLevel", "INFO"),
		LoggerType: getString("logger", "zerolog"),

		ProfilerAddr:            getString("profilerAddr", ""),
		PrometheusListenAddress: getString("prometheusListenAddress", ""),
		PrometheusEndpoint:      getString("prometheusEndpoint", "/metrics"),

		ChainCfgParams: params,
		Chainstate: ChainstateSettings{
			BlockIndexStoreURL: getURL("chainstate_blockIndexStore", "sqlite:///blockindex"),
			CoinsDBPath:        getString("chainstate_coinsDB", dataFolder+"/chainstate"),
			BlocksDir:          getString("chainstate_blocksDir", dataFolder+"/blocks"),
			IndexDBPath:        getString("chainstate_indexDB", dataFolder+"/indexes"),
			ContractStatePath:  getString("chainstate_contractStateDB", dataFolder+"/stateContract"),
			FlushInterval:      getDuration("chainstate_flushInterval", time.Hour),
			CoinsCacheSizeMB:   getInt("chainstate_dbcache", 100),
			ScriptThreads:      getInt("chainstate_scriptThreads", 0),
			ScriptQueueSize:    getInt("chainstate_scriptQueueSize", 128),
			ScriptCacheSize:    getInt("chainstate_scriptCacheSize", 100_000),
			ScriptCacheTTL:     getDuration("chainstate_scriptCacheTTL", time.Hour),
			MaxBlockFileSize:   getInt64("chainstate_maxBlockFileSize", 0x8000000), // 128 MiB
			TxIndex:            getBool("chainstate_txindex", true),
			AddressIndex:       getBool("chainstate_addressindex", false),
			CheckBlockDepth:    getInt("chainstate_checkblocks", 6),
		},
		Policy: &PolicySettings{
			MinRelayTxFee:        getInt64("minrelaytxfee", 1000),
			LimitFreeRelay:       getInt("limitfreerelay", 15),
			MaxStandardTxWeight:  getInt64("maxstandardtxweight", 400_000),
			MaxStandardTxSigOps:  getInt64("maxstandardtxsigopscost", 16_000),
			MaxTxFeeMultiplier:   getInt64("maxtxfeemultiplier", 10_000),
			DustRelayFee:         getInt64("dustrelayfee", 3000),
			MaxOrphanTxs:         getInt("maxorphantx", 100),
			RecentRejectsTTL:     getDuration("recentrejects_ttl", 10*time.Minute),
			AllowFreePriority:    getFloat64("allowfreepriority", 57_600_000),
			BlockPrioritySize:    getInt("blockprioritysize", 50_000),
			DataCarrierSize:      getInt("datacarriersize", 83),
			PermitBareMultisig:   getBool("permitbaremultisig", true),
			RequireStandard:      getBool("requirestandard", !params.RelayNonStdTxs),
			MempoolMaxAncestors:  getInt("limitancestorcount", 25),
			MempoolMaxDescendant: getInt("limitdescendantcount", 25),
			BanScore:             getInt("banscore", 100),
		},
		Contract: ContractSettings{
			MinGasPrice:             uint64(getInt64("contract_minGasPrice", int64(params.MinGasPrice))),
			MinGasLimit:             uint64(getInt64("contract_minGasLimit", 10_000)),
			MempoolMinGasLimit:      uint64(getInt64("contract_mempoolMinGasLimit", 22_000)),
			BlockGasLimit:           uint64(getInt64("contract_blockGasLimit", int64(params.DefaultBlockGasLimit))),
			MaxContractVouts:        getInt("contract_maxVouts", 1000),
			DefaultGasLimitOpCreate: uint64(getInt64("contract_defaultGasLimitOpCreate", 2_500_000)),
			DefaultGasLimitOpSend:   uint64(getInt64("contract_defaultGasLimitOpSend", 250_000)),
		},
		Kafka: KafkaSettings{
			NotificationsURL: getURL("kafka_notificationsConfig", ""),
			Hosts:            getString("KAFKA_HOSTS", "localhost:9092"),
			Partitions:       getInt("KAFKA_PARTITIONS", 1),
		},
		Tracing: TracingSettings{
			Enabled:      getBool("tracing_enabled", false),
			SampleRate:   getFloat64("tracing_SampleRate", 0.01),
			CollectorURL: getURL("tracing_collector_url", "http://localhost:4318"),
		},
		Postgres: PostgresSettings{
			MaxIdleConns: getInt("postgres_maxIdleConns", 10),
			MaxOpenConns: getInt("postgres_maxOpenConns", 80),
		},
	}
}
