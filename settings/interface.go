package settings

import (
	"net/url"
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
)

type Settings struct {
	ClientName string
	DataFolder string
	LogLevel   string
	// LoggerType is zerolog or gocore.
	LoggerType string
	// ProfilerAddr serves net/http/pprof when set.
	ProfilerAddr string
	// PrometheusListenAddress serves PrometheusEndpoint when set.
	PrometheusListenAddress string
	PrometheusEndpoint      string
	ChainCfgParams          *chaincfg.Params
	Chainstate              ChainstateSettings
	Policy                  *PolicySettings
	Contract                ContractSettings
	Kafka                   KafkaSettings
	Tracing                 TracingSettings
	Postgres                PostgresSettings
}

type ChainstateSettings struct {
	// BlockIndexStoreURL selects the SQL backend of the block index (sqlite, sqlitememory or postgres).
	BlockIndexStoreURL *url.URL
	CoinsDBPath        string
	BlocksDir          string
	IndexDBPath        string
	ContractStatePath  string
	FlushInterval      time.Duration
	CoinsCacheSizeMB   int
	ScriptThreads      int
	ScriptQueueSize    int
	ScriptCacheSize    int
	ScriptCacheTTL     time.Duration
	MaxBlockFileSize   int64
	TxIndex            bool
	AddressIndex       bool
	CheckBlockDepth    int
}

type PolicySettings struct {
	MinRelayTxFee        int64 // satoshis per 1000 virtual bytes
	LimitFreeRelay       int   // thousand-bytes per minute
	MaxStandardTxWeight  int64
	MaxStandardTxSigOps  int64
	MaxTxFeeMultiplier   int64 // reject fees above this many times the min relay fee
	DustRelayFee         int64
	MaxOrphanTxs         int
	RecentRejectsTTL     time.Duration
	AllowFreePriority    float64
	BlockPrioritySize    int
	DataCarrierSize      int
	PermitBareMultisig   bool
	RequireStandard      bool
	MempoolMaxAncestors  int
	MempoolMaxDescendant int
	BanScore             int // misbehavior score at which a peer is banned
}

type ContractSettings struct {
	MinGasPrice             uint64
	MinGasLimit             uint64
	MempoolMinGasLimit      uint64
	BlockGasLimit           uint64
	MaxContractVouts        int
	DefaultGasLimitOpCreate uint64
	DefaultGasLimitOpSend   uint64
}

type KafkaSettings struct {
	// NotificationsURL enables the Kafka publisher when set, e.g. kafka://host:9092/chainstate?partitions=1
	NotificationsURL *url.URL
	Hosts            string
	Partitions       int
}

type TracingSettings struct {
	Enabled      bool
	SampleRate   float64
	CollectorURL *url.URL
}

type PostgresSettings struct {
	MaxIdleConns int
	MaxOpenConns int
}
