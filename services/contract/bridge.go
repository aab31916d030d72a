package contract

import (
	"context"
	"math/bits"
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/vm"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Bridge drives the VM for the chainstate. It owns the VM state, whose root always matches the
// state root of the active tip outside of block connection.
type Bridge struct {
	logger   ulogger.Logger
	settings *settings.Settings
	params   *chaincfg.Params
	executor vm.Executor
	state    vm.StateDB
}

// NewBridge creates a bridge executing with executor against state.
func NewBridge(logger ulogger.Logger, tSettings *settings.Settings, executor vm.Executor, state vm.StateDB) *Bridge {
	initPrometheusMetrics()

	return &Bridge{
		logger:   logger,
		settings: tSettings,
		params:   tSettings.ChainCfgParams,
		executor: executor,
		state:    state,
	}
}

// StateRoot returns the root of the current VM state.
func (b *Bridge) StateRoot() chainhash.Hash {
	return b.state.Root()
}

// RevertTo loads the VM state committed under root. It is used when a block is disconnected.
func (b *Bridge) RevertTo(ctx context.Context, root chainhash.Hash) error {
	if b.state.Root() == root {
		return nil
	}

	if err := b.state.SetRoot(ctx, root); err != nil {
		return errors.NewProcessingError("failed to revert contract state to %s", root, err)
	}

	return nil
}

// CheckTransaction decodes the calls of tx and applies the consensus and configured gas limits
// without executing anything. minGasLimit is the block or the mempool minimum.
func (b *Bridge) CheckTransaction(tx *wire.MsgTx, view coins.View, minGasLimit uint64, dos int) ([]*Call, error) {
	calls, err := ExtractParams(tx, view)
	if err != nil || len(calls) == 0 {
		return nil, err
	}

	if err = CheckParams(calls, b.settings.Contract.BlockGasLimit, b.params.MaxMoney); err != nil {
		return nil, err
	}

	if err = CheckMinGasPrice(calls, b.settings.Contract.MinGasPrice, dos); err != nil {
		return nil, err
	}

	if err = CheckMinGasLimit(calls, minGasLimit, dos); err != nil {
		return nil, err
	}

	return calls, nil
}

// BlockExecution applies the contract calls of one block, transaction by transaction.
type BlockExecution struct {
	bridge   *Bridge
	header   *model.BlockHeader
	height   int32
	env      *vm.Env
	prevRoot chainhash.Hash
	executed bool

	gasLimitTotal uint64
	result        BlockResult
}

// BlockResult sums up the contract effects of a block.
type BlockResult struct {
	StateRoot chainhash.Hash
	GasUsed   uint64

	// Refunds is the value paid back to senders out of the fees of the block.
	Refunds int64

	// Condensing holds one transaction per contract transaction; their outputs are new coins.
	Condensing        []*wire.MsgTx
	ContractOutpoints []wire.OutPoint
}

// TxResult is the contract effect of one transaction.
type TxResult struct {
	GasUsed    uint64
	Refund     int64
	Condensing *wire.MsgTx

	// Contracts are the addresses called or created, in output order.
	Contracts []vm.Address
}

// NewBlockExecution starts executing block at height on top of the state committed under
// prevRoot.
func (b *Bridge) NewBlockExecution(ctx context.Context, block *model.Block, height int32, prevRoot chainhash.Hash) (*BlockExecution, error) {
	if err := b.RevertTo(ctx, prevRoot); err != nil {
		return nil, err
	}

	var coinbase vm.Address

	script, err := rewardScript(block)
	if err != nil {
		return nil, err
	}

	if script != nil {
		coinbase, _ = senderAddress(script)
	}

	return &BlockExecution{
		bridge:   b,
		header:   block.Header,
		height:   height,
		prevRoot: prevRoot,
		env: &vm.Env{
			Timestamp:  block.Header.Time(),
			Height:     height,
			Difficulty: block.Header.Bits,
			GasLimit:   b.settings.Contract.BlockGasLimit,
			Coinbase:   coinbase,
		},
	}, nil
}

// rewardScript returns the script paid by the block reward: the coinstake's first paying output
// for proof-of-stake blocks, the first coinbase output otherwise.
func rewardScript(block *model.Block) ([]byte, error) {
	if block.IsProofOfStake() {
		coinstake := block.Transactions[1]
		if len(coinstake.TxOut) < 2 {
			return nil, errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cs-missing", "coinstake %s has %d outputs", coinstake.TxHash(), len(coinstake.TxOut))
		}

		return coinstake.TxOut[1].PkScript, nil
	}

	if cb := block.CoinbaseTx(); cb != nil && len(cb.TxOut) > 0 {
		return cb.TxOut[0].PkScript, nil
	}

	return nil, nil
}

// refundValue returns the value of the gas call left unused.
func refundValue(call *Call, gasUsed uint64) (int64, error) {
	if gasUsed > call.GasLimit {
		return 0, errors.NewContractExecutionError("call %s:%d used %d gas over its limit %d", call.TxID, call.Vout, gasUsed, call.GasLimit)
	}

	hi, lo := bits.Mul64(call.GasLimit-gasUsed, call.GasPrice)
	if hi != 0 {
		return 0, errors.NewContractGasError(dosMax, errors.RejectInvalid, "bad-txns-contract-refund", "refund of call %s:%d overflows", call.TxID, call.Vout)
	}

	refund, err := safeconversion.Uint64ToInt64(lo)
	if err != nil {
		return 0, errors.NewContractGasError(dosMax, errors.RejectInvalid, "bad-txns-contract-refund", "refund of call %s:%d overflows", call.TxID, call.Vout, err)
	}

	return refund, nil
}

// ApplyTx executes the contract calls of tx. It must be called in block order, before the inputs
// of tx are spent from view. Transactions without contract outputs return nil.
func (be *BlockExecution) ApplyTx(ctx context.Context, tx *wire.MsgTx, view coins.View) (*TxResult, error) {
	if !model.HasContractOutput(tx) {
		return nil, nil
	}

	b := be.bridge

	if be.height < b.params.ContractHeight {
		return nil, errors.NewContractInvalidError(dosMax, "bad-txns-contract-inactive", "contract output at height %d before %d", be.height, b.params.ContractHeight)
	}

	calls, err := b.CheckTransaction(tx, view, b.settings.Contract.MinGasLimit, dosMax)
	if err != nil {
		return nil, err
	}

	for _, call := range calls {
		be.gasLimitTotal += call.GasLimit
	}

	if be.gasLimitTotal > b.settings.Contract.BlockGasLimit {
		return nil, errors.NewContractGasError(dosMax, errors.RejectInvalid, "bad-blk-gaslimit", "block gas %d > %d", be.gasLimitTotal, b.settings.Contract.BlockGasLimit)
	}

	txResult := &TxResult{}
	outputs := make([]*wire.TxOut, 0)

	for _, call := range calls {
		start := time.Now()

		res, err := b.executor.Execute(ctx, b.state, call.Message(), be.env)
		if err != nil {
			return nil, errors.NewContractExecutionError("failed to execute %s:%d", call.TxID, call.Vout, err)
		}

		be.executed = true

		prometheusContractExecutions.Inc()
		prometheusContractExecutionDuration.Observe(time.Since(start).Seconds())
		prometheusContractGas.Observe(float64(res.GasUsed))

		txResult.GasUsed += res.GasUsed

		switch {
		case !call.Create:
			txResult.Contracts = append(txResult.Contracts, call.To)
		case !res.Excepted:
			txResult.Contracts = append(txResult.Contracts, res.ContractAddress)
		}

		refund, err := refundValue(call, res.GasUsed)
		if err != nil {
			return nil, err
		}

		if refund > 0 {
			txResult.Refund += refund
			outputs = append(outputs, wire.NewTxOut(refund, P2PKHScript(call.Sender)))
		}

		if res.Excepted {
			prometheusContractExceptions.Inc()

			if call.Value > 0 {
				outputs = append(outputs, wire.NewTxOut(call.Value, P2PKHScript(call.Sender)))
			}

			continue
		}

		for _, transfer := range res.Transfers {
			value, err := safeconversion.Uint64ToInt64(transfer.Value)
			if err != nil {
				return nil, errors.NewContractExecutionError("transfer of %d from call %s:%d overflows", transfer.Value, call.TxID, call.Vout, err)
			}

			outputs = append(outputs, wire.NewTxOut(value, P2PKHScript(transfer.To)))
		}
	}

	be.result.GasUsed += txResult.GasUsed
	be.result.Refunds += txResult.Refund

	if len(outputs) == 0 {
		return txResult, nil
	}

	if len(be.result.ContractOutpoints)+len(outputs) > b.settings.Contract.MaxContractVouts {
		return nil, errors.NewContractInvalidError(dosMax, "bad-blk-contract-vouts", "block creates more than %d contract outputs", b.settings.Contract.MaxContractVouts)
	}

	condensing := condensingTx(calls[0], outputs)
	hash := condensing.TxHash()

	for i := range condensing.TxOut {
		be.result.ContractOutpoints = append(be.result.ContractOutpoints, wire.OutPoint{Hash: hash, Index: uint32(i)})
	}

	be.result.Condensing = append(be.result.Condensing, condensing)
	txResult.Condensing = condensing

	return txResult, nil
}

// condensingTx is the deterministic transaction paying the contract outputs of one transaction.
// Its single input references the first contract output with the spend marker as script.
func condensingTx(first *Call, outputs []*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: first.TxID, Index: first.Vout},
		SignatureScript:  []byte{model.OpSpend},
		Sequence:         wire.MaxTxInSequenceNum,
	})

	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	return tx
}

// Finish commits the VM state and compares its root with the one committed in the block header.
// On a mismatch the state is reverted and the block is invalid.
func (be *BlockExecution) Finish(ctx context.Context) (*BlockResult, error) {
	root := be.prevRoot

	if be.executed {
		var err error

		root, err = be.bridge.state.Commit(ctx)
		if err != nil {
			_ = be.Abort(ctx)
			return nil, errors.NewStorageError("failed to commit contract state", err)
		}
	}

	if be.header.HashStateRoot == nil || *be.header.HashStateRoot != root {
		if err := be.Abort(ctx); err != nil {
			return nil, err
		}

		return nil, errors.NewContractStateRootError("bad-contract-state-root", "header commits to %v, execution gives %s", be.header.HashStateRoot, root)
	}

	be.result.StateRoot = root

	return &be.result, nil
}

// Abort restores the VM state the block execution started from.
func (be *BlockExecution) Abort(ctx context.Context) error {
	if !be.executed {
		return nil
	}

	if err := be.bridge.state.SetRoot(ctx, be.prevRoot); err != nil {
		return errors.NewProcessingError("failed to restore contract state %s", be.prevRoot, err)
	}

	return nil
}
