// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math/big"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	btcdchaincfg "github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// COIN is the number of base units in one coin.
const COIN = 100_000_000

// These variables are the chain proof-of-work and proof-of-stake limit
// parameters for each default network.
var (
	// bigOne is 1 represented as a big.Int.  It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// mainPowLimit is the highest proof of work value a block can have for
	// the main network.  It is the value 2^236 - 1.
	mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 236), bigOne)

	// mainPosLimit is the highest stake kernel target on the main network.
	mainPosLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 236), bigOne)

	// regressionPowLimit is the highest proof of work value a block can
	// have for the regression test network.  It is the value 2^255 - 1.
	regressionPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)

	// testNetPowLimit is the highest proof of work value a block can have
	// for the test network.  It is the value 2^240 - 1.
	testNetPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 240), bigOne)
)

// Network magic values.
const (
	MainNet wire.BitcoinNet = 0xdfbbccab
	TestNet wire.BitcoinNet = 0x0b11093a
	RegTest wire.BitcoinNet = 0xdab5bffb
)

// EmptyStateRoot is the contract state root of a chain with no contracts.
var EmptyStateRoot = chainhash.Hash{}

// Checkpoint identifies a known good point in the block chain.
type Checkpoint struct {
	Height int32
	Hash   *chainhash.Hash
}

// Params defines a network by its parameters.  These parameters are used to
// differentiate networks as well as addresses and keys for one network from
// those intended for use on another network.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// Net defines the magic bytes used to identify the network.
	Net wire.BitcoinNet

	// DefaultPort defines the default peer-to-peer port for the network.
	DefaultPort string

	// GenesisBlock defines the first block of the chain.
	GenesisBlock *model.Block

	// GenesisHash is the starting block hash.
	GenesisHash *chainhash.Hash

	// PowLimit defines the highest allowed proof of work value for a block
	// as a uint256.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for a
	// block in compact form.
	PowLimitBits uint32

	// PosLimit and PosLimitBits bound the stake kernel target.
	PosLimit     *big.Int
	PosLimitBits uint32

	// These fields define the block heights at which the specified softfork
	// rules became active.
	BIP0034Height int32
	BIP0065Height int32
	BIP0066Height int32
	CSVHeight     int32

	// WitnessHeight is the first height at which segregated witness data
	// and the witness commitment are accepted.
	WitnessHeight int32

	// ContractHeight is the first height at which contract outputs are executed.
	ContractHeight int32

	// LastPOWBlock is the last height at which a proof-of-work block is accepted.
	LastPOWBlock int32

	// CoinbaseMaturity is the number of blocks required before newly mined
	// or staked coins can be spent.
	CoinbaseMaturity int32

	// TargetTimePerBlock is the desired amount of time to generate each block.
	TargetTimePerBlock time.Duration

	// TargetTimespan is the averaging window of the per-block retarget.
	TargetTimespan time.Duration

	// NoDifficultyAdjustment defines whether the network should skip the
	// normal difficulty adjustment and keep the current difficulty.
	NoDifficultyAdjustment bool

	// MaxFutureBlockTime is how far ahead of adjusted time a block timestamp may be.
	MaxFutureBlockTime time.Duration

	// StakeMinAge is the minimum age of a coin before it can stake.
	StakeMinAge time.Duration

	// SubsidyReductionInterval is the interval of blocks before the
	// proof-of-work subsidy is halved.
	SubsidyReductionInterval int32

	// BaseSubsidy is the initial proof-of-work block reward.
	BaseSubsidy int64

	// StakeReward is the fixed proof-of-stake block reward.
	StakeReward int64

	// MaxMoney is the largest amount any output or sum of outputs may hold.
	MaxMoney int64

	// DefaultBlockGasLimit is the gas available to all contract calls of a block.
	DefaultBlockGasLimit uint64

	// MinGasPrice is the lowest gas price accepted for a contract call.
	MinGasPrice uint64

	// Checkpoints ordered from oldest to newest.
	Checkpoints []Checkpoint

	// Mempool parameters
	RelayNonStdTxs bool

	// Address encoding magics
	PubKeyHashAddrID byte // First byte of a P2PKH address
	ScriptHashAddrID byte // First byte of a P2SH address
	PrivateKeyID     byte // First byte of a WIF private key
	Bech32HRPSegwit  string

	// BIP32 hierarchical deterministic extended key magics
	HDPrivateKeyID [4]byte
	HDPublicKeyID  [4]byte

	// BIP44 coin type used in the hierarchical deterministic path for
	// address generation.
	HDCoinType uint32
}

// MainNetParams defines the network parameters for the main network.
var MainNetParams = Params{
	Name:        "mainnet",
	Net:         MainNet,
	DefaultPort: "26868",

	PowLimit:     mainPowLimit,
	PowLimitBits: 0x1e0fffff,
	PosLimit:     mainPosLimit,
	PosLimitBits: 0x1e0fffff,

	BIP0034Height:  1,
	BIP0065Height:  1,
	BIP0066Height:  1,
	CSVHeight:      1,
	WitnessHeight:  350000,
	ContractHeight: 350000,
	LastPOWBlock:   6000,

	CoinbaseMaturity:         79,
	TargetTimePerBlock:       240 * time.Second,
	TargetTimespan:           30 * time.Minute,
	MaxFutureBlockTime:       2 * time.Hour,
	StakeMinAge:              time.Hour,
	SubsidyReductionInterval: 1_050_000,
	BaseSubsidy:              10 * COIN,
	StakeReward:              1 * COIN,
	MaxMoney:                 60_000_000 * COIN,

	DefaultBlockGasLimit: 40_000_000,
	MinGasPrice:          40,

	PubKeyHashAddrID: 0x1b,
	ScriptHashAddrID: 0x3f,
	PrivateKeyID:     0x9b,
	Bech32HRPSegwit:  "lx",
	HDPrivateKeyID:   [4]byte{0x04, 0x88, 0xad, 0xe4},
	HDPublicKeyID:    [4]byte{0x04, 0x88, 0xb2, 0x1e},
	HDCoinType:       3003,
}

// TestNetParams defines the network parameters for the test network.
var TestNetParams = Params{
	Name:        "testnet",
	Net:         TestNet,
	DefaultPort: "28333",

	PowLimit:     testNetPowLimit,
	PowLimitBits: 0x1f00ffff,
	PosLimit:     testNetPowLimit,
	PosLimitBits: 0x1f00ffff,

	BIP0034Height:  1,
	BIP0065Height:  1,
	BIP0066Height:  1,
	CSVHeight:      1,
	WitnessHeight:  1000,
	ContractHeight: 1000,
	LastPOWBlock:   500,

	CoinbaseMaturity:         79,
	TargetTimePerBlock:       240 * time.Second,
	TargetTimespan:           30 * time.Minute,
	MaxFutureBlockTime:       2 * time.Hour,
	StakeMinAge:              10 * time.Minute,
	SubsidyReductionInterval: 1_050_000,
	BaseSubsidy:              10 * COIN,
	StakeReward:              1 * COIN,
	MaxMoney:                 60_000_000 * COIN,

	DefaultBlockGasLimit: 40_000_000,
	MinGasPrice:          40,
	RelayNonStdTxs:       true,

	PubKeyHashAddrID: 0x30,
	ScriptHashAddrID: 0x58,
	PrivateKeyID:     0xed,
	Bech32HRPSegwit:  "tlx",
	HDPrivateKeyID:   [4]byte{0x04, 0x35, 0x83, 0x94},
	HDPublicKeyID:    [4]byte{0x04, 0x35, 0x87, 0xcf},
	HDCoinType:       1,
}

// RegressionNetParams defines the network parameters for the regression test
// network. Every rule is active from height one and difficulty never changes.
var RegressionNetParams = Params{
	Name:        "regtest",
	Net:         RegTest,
	DefaultPort: "28444",

	PowLimit:     regressionPowLimit,
	PowLimitBits: 0x207fffff,
	PosLimit:     regressionPowLimit,
	PosLimitBits: 0x207fffff,

	BIP0034Height:  1,
	BIP0065Height:  1,
	BIP0066Height:  1,
	CSVHeight:      1,
	WitnessHeight:  1,
	ContractHeight: 1,
	LastPOWBlock:   1_000_000,

	CoinbaseMaturity:         79,
	TargetTimePerBlock:       240 * time.Second,
	TargetTimespan:           30 * time.Minute,
	NoDifficultyAdjustment:   true,
	MaxFutureBlockTime:       2 * time.Hour,
	StakeMinAge:              time.Minute,
	SubsidyReductionInterval: 150,
	BaseSubsidy:              50 * COIN,
	StakeReward:              1 * COIN,
	MaxMoney:                 60_000_000 * COIN,

	DefaultBlockGasLimit: 40_000_000,
	MinGasPrice:          40,
	RelayNonStdTxs:       true,

	PubKeyHashAddrID: 0x6f,
	ScriptHashAddrID: 0xc4,
	PrivateKeyID:     0xef,
	Bech32HRPSegwit:  "lxrt",
	HDPrivateKeyID:   [4]byte{0x04, 0x35, 0x83, 0x94},
	HDPublicKeyID:    [4]byte{0x04, 0x35, 0x87, 0xcf},
	HDCoinType:       1,
}

// BlockSubsidy returns the newly created value a block at height may claim,
// excluding fees.
func (p *Params) BlockSubsidy(height int32, proofOfStake bool) int64 {
	if height == 0 {
		return 0
	}

	if proofOfStake {
		return p.StakeReward
	}

	halvings := uint(height / p.SubsidyReductionInterval)
	if halvings >= 64 {
		return 0
	}

	return p.BaseSubsidy >> halvings
}

// MoneyRange reports whether value is a valid amount on this network.
func (p *Params) MoneyRange(value int64) bool {
	return value >= 0 && value <= p.MaxMoney
}

// AdjustmentInterval is the number of blocks averaged by the retarget.
func (p *Params) AdjustmentInterval() int64 {
	return int64(p.TargetTimespan / p.TargetTimePerBlock)
}

// BtcdParams returns the subset of the parameters needed by btcd's address
// encoding helpers.
func (p *Params) BtcdParams() *btcdchaincfg.Params {
	return &btcdchaincfg.Params{
		Name:             p.Name,
		Net:              p.Net,
		DefaultPort:      p.DefaultPort,
		PowLimit:         p.PowLimit,
		PowLimitBits:     p.PowLimitBits,
		CoinbaseMaturity: uint16(p.CoinbaseMaturity),
		Bech32HRPSegwit:  p.Bech32HRPSegwit,
		PubKeyHashAddrID: p.PubKeyHashAddrID,
		ScriptHashAddrID: p.ScriptHashAddrID,
		PrivateKeyID:     p.PrivateKeyID,
		HDPrivateKeyID:   p.HDPrivateKeyID,
		HDPublicKeyID:    p.HDPublicKeyID,
		HDCoinType:       p.HDCoinType,
	}
}

func GetChainParams(network string) (*Params, error) {
	switch network {
	case "mainnet":
		return &MainNetParams, nil
	case "testnet":
		return &TestNetParams, nil
	case "regtest":
		return &RegressionNetParams, nil
	default:
		return nil, errors.NewConfigurationError("unknown network %s", network)
	}
}

func init() {
	MainNetParams.GenesisBlock = newGenesisBlock(1_511_000_000, 0x1e0fffff, 986_946)
	TestNetParams.GenesisBlock = newGenesisBlock(1_511_000_001, 0x1f00ffff, 2_432)
	RegressionNetParams.GenesisBlock = newGenesisBlock(1_511_000_002, 0x207fffff, 1)

	for _, p := range []*Params{&MainNetParams, &TestNetParams, &RegressionNetParams} {
		p.GenesisHash = p.GenesisBlock.Hash()

		// btcd's address decoding looks networks up by their registered magics
		_ = btcdchaincfg.Register(p.BtcdParams())
	}
}
