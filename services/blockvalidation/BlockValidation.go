// Package blockvalidation implements the checks a block must pass before the chain state
// connects it.
//
// The checks are split by the context they need:
//
//   - CheckBlockHeader and CheckBlock look at nothing but the block itself
//   - ContextualCheckBlockHeader and ContextualCheckBlock also look at the parent in the block index
//   - CheckProofOfStake needs the coin staked by the coinstake and runs when the block is connected
//
// Every rejection is an errors.ErrBlockInvalid (or a wrapped transaction rejection) carrying a
// reject code, a reason and a misbehavior weight.
package blockvalidation

import (
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/ulogger"
	btcdchain "github.com/btcsuite/btcd/blockchain"
	"github.com/ordishs/gocore"
)

// DoS weights attached to block rejections.
const (
	dosMax    = 100
	dosMedium = 50
	dosLow    = 10
)

// BlockValidator runs the block checks against one network.
type BlockValidator struct {
	logger     ulogger.Logger
	settings   *settings.Settings
	params     *chaincfg.Params
	index      *blockchain.Index
	stake      StakeChecker
	timeSource btcdchain.MedianTimeSource
	stats      *gocore.Stat
}

// Option configures a BlockValidator.
type Option func(*BlockValidator)

// WithStakeChecker replaces the default stake kernel and block signature checks.
func WithStakeChecker(stake StakeChecker) Option {
	return func(bv *BlockValidator) {
		bv.stake = stake
	}
}

// WithTimeSource replaces the network-adjusted clock used for the future timestamp check.
func WithTimeSource(timeSource btcdchain.MedianTimeSource) Option {
	return func(bv *BlockValidator) {
		bv.timeSource = timeSource
	}
}

// NewBlockValidator creates a block validator.
// Parameters:
//   - logger: Logger instance for validation operations
//   - tSettings: Settings providing the network parameters
//   - index: Block index used by the contextual checks
//   - opts: Optional stake checker and time source
//
// Returns a BlockValidator using the default stake kernel and the local clock adjusted by peer
// time samples.
func NewBlockValidator(logger ulogger.Logger, tSettings *settings.Settings, index *blockchain.Index, opts ...Option) *BlockValidator {
	initPrometheusMetrics()

	bv := &BlockValidator{
		logger:     logger,
		settings:   tSettings,
		params:     tSettings.ChainCfgParams,
		index:      index,
		timeSource: btcdchain.NewMedianTime(),
		stats:      gocore.NewStat("blockvalidation"),
	}

	bv.stake = NewKernelChecker(bv.params)

	for _, opt := range opts {
		opt(bv)
	}

	return bv
}

// Params returns the network the validator checks against.
func (bv *BlockValidator) Params() *chaincfg.Params {
	return bv.params
}

// TimeSource returns the adjusted clock. Peer time samples are added to it by the caller.
func (bv *BlockValidator) TimeSource() btcdchain.MedianTimeSource {
	return bv.timeSource
}

// adjustedNow is the network-adjusted current time in seconds.
func (bv *BlockValidator) adjustedNow() int64 {
	return bv.timeSource.AdjustedTime().Unix()
}

// maxFutureTime is the latest block timestamp accepted now.
func (bv *BlockValidator) maxFutureTime() int64 {
	return bv.adjustedNow() + int64(bv.params.MaxFutureBlockTime/time.Second)
}
