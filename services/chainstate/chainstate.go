/*
Package chainstate keeps the active chain and the unspent coins at its tip.

ChainState accepts blocks into the block index and the block files, selects the best chain among
the blocks it has data for and moves the tip to it, disconnecting blocks down to the fork point
and connecting the new branch block by block. Connecting a block runs the contextual checks, the
input and script checks, the contract bridge and the reward check against a child coins cache
that is only merged into the tip once the whole block is valid.

Every mutation of the index, the active chain, the coins tip and the mempool happens under a
single mutex. Script checks are spread over the validator's worker pool while the lock is held.

Usage:

	stores, err := chainstate.OpenStores(logger, tSettings)
	cs := chainstate.New(logger, tSettings, stores, simple.NewExecutor(logger), notifier.New(logger))
	if err := cs.Start(ctx); err != nil {
		return err
	}
	defer cs.Stop(ctx)

	err = cs.ProcessNewBlock(ctx, block, peer)
*/
package chainstate

import (
	"context"
	"sync"
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/services/blockvalidation"
	"github.com/bsv-blockchain/chainstate/services/contract"
	"github.com/bsv-blockchain/chainstate/services/mempool"
	"github.com/bsv-blockchain/chainstate/services/notifier"
	"github.com/bsv-blockchain/chainstate/services/validator"
	"github.com/bsv-blockchain/chainstate/settings"
	blockindex "github.com/bsv-blockchain/chainstate/stores/blockchain"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/tracing"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/vm"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/looplab/fsm"
	"github.com/ordishs/gocore"
	"go.uber.org/atomic"
)

// MisbehaviorHandler is told when a peer sent a block or transaction that carries a DoS score.
type MisbehaviorHandler func(peer string, dos int, reason string)

// Option configures a ChainState.
type Option func(*ChainState)

// WithMisbehaviorHandler sets the hook called for blocks and transactions rejected with a DoS score.
func WithMisbehaviorHandler(handler MisbehaviorHandler) Option {
	return func(cs *ChainState) {
		cs.misbehaving = handler
	}
}

// WithBlockValidatorOptions passes options to the block validator, e.g. a time source.
func WithBlockValidatorOptions(opts ...blockvalidation.Option) Option {
	return func(cs *ChainState) {
		cs.blockValidatorOpts = append(cs.blockValidatorOpts, opts...)
	}
}

// WithTxValidatorOptions passes options to the script verifier.
func WithTxValidatorOptions(opts ...validator.TxValidatorOption) Option {
	return func(cs *ChainState) {
		cs.txValidatorOpts = append(cs.txValidatorOpts, opts...)
	}
}

// ChainState is the validation engine: the block index, the active chain, the coins at its tip,
// the contract state and the mempool built on top of them.
type ChainState struct {
	logger   ulogger.Logger
	settings *settings.Settings
	params   *chaincfg.Params
	stores   *Stores

	index          *blockchain.Index
	chain          *blockchain.Chain
	coinsTip       *coins.Cache
	bridge         *contract.Bridge
	blockValidator *blockvalidation.BlockValidator
	txValidator    *validator.TxValidator
	mempool        *mempool.Mempool
	notifier       *notifier.Notifier

	blockValidatorOpts []blockvalidation.Option
	txValidatorOpts    []validator.TxValidatorOption
	misbehaving        MisbehaviorHandler

	finiteStateMachine *fsm.FSM
	tracer             *tracing.Tracer
	stats              *gocore.Stat

	// mu guards the index mutations, the chain, the coins tip, the contract state and the mempool.
	mu         sync.Mutex
	tipChanged chan struct{}
	lastFlush  time.Time
	ibdDone    atomic.Bool

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a stopped chain state over stores.
// Parameters:
//   - logger: Logger for chain updates
//   - tSettings: Settings providing the network, the chainstate, policy and contract settings
//   - stores: Persistent block index, coins, block files, indexes and contract state
//   - executor: Contract VM
//   - n: Notifier receiving block and transaction events, may be nil
//   - opts: Optional hooks and collaborator options
//
// Returns a ChainState that processes nothing until Start is called.
func New(logger ulogger.Logger, tSettings *settings.Settings, stores *Stores, executor vm.Executor, n *notifier.Notifier, opts ...Option) *ChainState {
	initPrometheusMetrics()

	cs := &ChainState{
		logger:     logger,
		settings:   tSettings,
		params:     tSettings.ChainCfgParams,
		stores:     stores,
		notifier:   n,
		tracer:     tracing.NewTracer("chainstate"),
		stats:      gocore.NewStat("chainstate"),
		tipChanged: make(chan struct{}),
		quit:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(cs)
	}

	cs.index = blockchain.NewIndex(logger, cs.params)
	cs.chain = blockchain.NewChain(cs.index)
	cs.coinsTip = coins.NewCache(stores.Coins)
	cs.bridge = contract.NewBridge(logger, tSettings, executor, stores.State)
	cs.blockValidator = blockvalidation.NewBlockValidator(logger, tSettings, cs.index, cs.blockValidatorOpts...)
	cs.txValidator = validator.NewTxValidator(logger, tSettings, cs.txValidatorOpts...)
	cs.mempool = mempool.New(logger, tSettings, activeChain{cs}, cs.txValidator, cs.bridge, n)
	cs.finiteStateMachine = cs.NewFiniteStateMachine()

	return cs
}

// Start loads the block index, or writes the genesis block into empty stores, and activates the
// best chain.
func (cs *ChainState) Start(ctx context.Context) error {
	if cs.State() != FSMStateStopped {
		return errors.NewServiceError("chain state already started")
	}

	cs.mu.Lock()

	if err := cs.loadChainState(ctx); err != nil {
		cs.mu.Unlock()
		return err
	}

	previous, err := cs.stores.BlockIndex.GetState(ctx, blockindex.StateFSM)
	if err == nil && FSMStateType(previous) == FSMStateAborted {
		cs.logger.Warnf("[ChainState] previous run aborted, checking the last %d blocks", cs.settings.Chainstate.CheckBlockDepth)

		if err := cs.verifyChain(ctx, cs.settings.Chainstate.CheckBlockDepth, VerifyDisconnect); err != nil {
			cs.mu.Unlock()
			return err
		}
	}

	if err := cs.finiteStateMachine.Event(ctx, FSMEventRun.String()); err != nil {
		cs.mu.Unlock()
		return errors.NewServiceError("failed to start chain state", err)
	}

	cs.mu.Unlock()

	cs.wg.Add(1)

	go cs.flushLoop()

	return cs.ActivateBestChain(ctx)
}

// loadChainState rebuilds the index and the active chain from the stores.
func (cs *ChainState) loadChainState(ctx context.Context) error {
	if err := cs.index.Load(ctx, cs.stores.BlockIndex); err != nil {
		return err
	}

	if cs.index.Len() == 0 {
		return cs.initGenesis(ctx)
	}

	best, err := cs.coinsTip.BestBlock()
	if err != nil {
		return err
	}

	if best == (chainhash.Hash{}) {
		best = *cs.params.GenesisHash
	}

	tip := cs.index.Lookup(best)
	if tip == nil {
		return errors.NewStorageCorruptionError("coins best block %s is not in the block index", best)
	}

	cs.chain.SetTip(tip)

	if err := cs.bridge.RevertTo(ctx, tip.StateRoot); err != nil {
		return err
	}

	cs.index.RebuildCandidates(tip)
	cs.lastFlush = time.Now()

	cs.logger.Infof("[ChainState] loaded %d block index entries, tip %s at height %d", cs.index.Len(), tip.Hash, tip.Height)

	prometheusChainStateHeight.Set(float64(tip.Height))

	return nil
}

// initGenesis stores the genesis block and makes it the tip. Its outputs are never added to the
// coins.
func (cs *ChainState) initGenesis(ctx context.Context) error {
	genesis := cs.params.GenesisBlock

	node, err := cs.index.AddHeader(genesis.Header, false)
	if err != nil {
		return err
	}

	pos, err := cs.stores.BlockFiles.WriteBlock(genesis, 0)
	if err != nil {
		return err
	}

	cs.index.SetHaveData(node, uint32(len(genesis.Transactions)), pos)
	cs.index.RaiseValidity(node, blockchain.StatusValidScripts)
	cs.coinsTip.SetBestBlock(node.Hash)
	cs.chain.SetTip(node)

	cs.logger.Infof("[ChainState] initialized %s with genesis block %s", cs.params.Name, node.Hash)

	return cs.flushStateToDisk(ctx, FlushAlways)
}

// Stop flushes the state and stops the background work. The chain state cannot be restarted.
func (cs *ChainState) Stop(ctx context.Context) (err error) {
	cs.stopOnce.Do(func() {
		close(cs.quit)
		cs.wg.Wait()

		cs.mu.Lock()
		defer cs.mu.Unlock()

		switch cs.State() {
		case FSMStateStopped:
			return
		case FSMStateRunning:
			err = cs.flushStateToDisk(ctx, FlushAlways)
		default:
			cs.logger.Warnf("[ChainState] stopping an aborted chain state without flushing")
		}

		if fsmErr := cs.finiteStateMachine.Event(ctx, FSMEventStop.String()); fsmErr != nil {
			cs.logger.Errorf("[ChainState] failed to stop: %v", fsmErr)
		}

		cs.mempool.Stop()

		if stopErr := cs.txValidator.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	})

	return err
}

func (cs *ChainState) flushLoop() {
	defer cs.wg.Done()

	interval := cs.settings.Chainstate.FlushInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.quit:
			return
		case <-ticker.C:
			if cs.State() != FSMStateRunning {
				continue
			}

			if err := cs.FlushStateToDisk(context.Background(), FlushPeriodic); err != nil {
				cs.logger.Errorf("[ChainState] periodic flush failed: %v", err)
			}
		}
	}
}

// AcceptToMemoryPool admits tx to the mempool against the current tip.
func (cs *ChainState) AcceptToMemoryPool(ctx context.Context, tx *wire.MsgTx, peer string, opts ...mempool.AcceptOption) (*mempool.Entry, error) {
	if err := cs.requireRunning(); err != nil {
		return nil, err
	}

	cs.mu.Lock()
	entry, err := cs.mempool.AcceptToMemoryPool(ctx, tx, opts...)
	cs.mu.Unlock()

	if err != nil {
		cs.reportMisbehavior(peer, err)
	}

	return entry, err
}

func (cs *ChainState) reportMisbehavior(peer string, err error) {
	if cs.misbehaving == nil || peer == "" {
		return
	}

	reject, ok := errors.GetReject(err)
	if !ok || reject.DoS <= 0 {
		return
	}

	cs.misbehaving(peer, reject.DoS, reject.Reason)
}

// Mempool returns the mempool. Its readers are safe to call concurrently with chain updates.
func (cs *ChainState) Mempool() *mempool.Mempool {
	return cs.mempool
}

func (cs *ChainState) Notifier() *notifier.Notifier {
	return cs.notifier
}

// Index returns the block index. Nodes must be treated as read-only.
func (cs *ChainState) Index() *blockchain.Index {
	return cs.index
}

// activeChain is the view of the chain state the mempool validates against. The mempool calls
// it with cs.mu held.
type activeChain struct {
	cs *ChainState
}

func (a activeChain) CoinsTip() coins.View {
	return a.cs.coinsTip
}

func (a activeChain) TipHeight() int32 {
	return a.cs.chain.Height()
}

func (a activeChain) MedianTimePast(height int32) int64 {
	node := a.cs.chain.AtHeight(height)
	if node == nil {
		return 0
	}

	return a.cs.index.CalcPastMedianTime(node)
}
