package validator

import (
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Consensus limits shared by block and transaction validation.
const (
	// MaxBlockWeight is the maximum block weight (stripped size * 3 + total size).
	MaxBlockWeight = 4_000_000

	// MaxBlockBaseSize is the maximum block size without witness data.
	MaxBlockBaseSize = 1_000_000

	// MaxBlockSerializedSize is the maximum block size including witness data.
	MaxBlockSerializedSize = 4_000_000

	// MaxBlockSigOpsCost is the maximum weighted signature operation count of a block.
	MaxBlockSigOpsCost = 80_000

	// MaxStandardTxSigOpsCost is the maximum weighted signature operation count of a relayed transaction.
	MaxStandardTxSigOpsCost = MaxBlockSigOpsCost / 5

	// MaxP2SHSigOps is the maximum signature operation count of a standard redeem script.
	MaxP2SHSigOps = 15

	// MaxStandardScriptSigSize bounds the signature script of a relayed input.
	MaxStandardScriptSigSize = 1650

	// MinCoinbaseScriptLen and MaxCoinbaseScriptLen bound the coinbase signature script.
	MinCoinbaseScriptLen = 2
	MaxCoinbaseScriptLen = 100

	// DoS weights attached to rejections.
	dosMax    = 100
	dosMedium = 50
	dosLow    = 10
)

// CheckTransaction performs the context-free checks every transaction must pass, both in blocks
// and in the mempool. It does not look at the inputs being spent.
func CheckTransaction(tx *wire.MsgTx, params *chaincfg.Params) error {
	if len(tx.TxIn) == 0 {
		return errors.NewTxInvalidError(dosLow, errors.RejectInvalid, "bad-txns-vin-empty", "transaction has no inputs")
	}

	if len(tx.TxOut) == 0 {
		return errors.NewTxInvalidError(dosLow, errors.RejectInvalid, "bad-txns-vout-empty", "transaction has no outputs")
	}

	if tx.SerializeSizeStripped()*blockchain.WitnessScaleFactor > MaxBlockWeight {
		return errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-txns-oversize", "stripped size %d", tx.SerializeSizeStripped())
	}

	var total int64

	for i, out := range tx.TxOut {
		if out.Value < 0 {
			return errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-txns-vout-negative", "output %d value %d", i, out.Value)
		}

		if out.Value > params.MaxMoney {
			return errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-txns-vout-toolarge", "output %d value %d", i, out.Value)
		}

		total += out.Value
		if !params.MoneyRange(total) {
			return errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-txns-txouttotal-toolarge", "output total exceeds %d", params.MaxMoney)
		}
	}

	seen := make(map[wire.OutPoint]struct{}, len(tx.TxIn))

	for i, in := range tx.TxIn {
		if _, ok := seen[in.PreviousOutPoint]; ok {
			return errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-txns-inputs-duplicate", "input %d spends %v twice", i, in.PreviousOutPoint)
		}

		seen[in.PreviousOutPoint] = struct{}{}
	}

	if model.IsCoinBase(tx) {
		n := len(tx.TxIn[0].SignatureScript)
		if n < MinCoinbaseScriptLen || n > MaxCoinbaseScriptLen {
			return errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-cb-length", "coinbase script length %d", n)
		}

		return nil
	}

	for i, in := range tx.TxIn {
		if in.PreviousOutPoint.Index == wire.MaxPrevOutIndex && in.PreviousOutPoint.Hash == zeroHash {
			return errors.NewTxInvalidError(dosLow, errors.RejectInvalid, "bad-txns-prevout-null", "input %d has a null prevout", i)
		}
	}

	// only condensing transactions spend contract outputs and they are never relayed or mined
	if model.HasOpSpend(tx) {
		return errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-txns-op-spend", "transaction spends a contract output")
	}

	return nil
}

// CheckTxInputs checks that every input of tx is available in view, that spent coinbase and
// coinstake outputs are mature at spendHeight and that the input values cover the outputs.
// It returns the fee paid. Coinstake transactions create value and are exempt from the
// value-in >= value-out rule; their reward is checked when the block is connected.
func CheckTxInputs(tx *wire.MsgTx, view coins.View, spendHeight uint32, params *chaincfg.Params) (int64, error) {
	var valueIn int64

	for i, in := range tx.TxIn {
		coin, err := view.GetCoin(in.PreviousOutPoint)
		if err != nil {
			return 0, errors.NewStorageError("failed to read coin %v", in.PreviousOutPoint, err)
		}

		if coin == nil {
			return 0, errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-txns-inputs-missingorspent", "input %d spends unknown coin %v", i, in.PreviousOutPoint)
		}

		if !coin.IsMature(spendHeight, uint32(params.CoinbaseMaturity)) {
			return 0, errors.NewTxCoinbaseImmatureError("bad-txns-premature-spend-of-coinbase", "tried to spend coin from height %d at height %d", coin.Height, spendHeight)
		}

		if !params.MoneyRange(coin.Value) {
			return 0, errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-txns-inputvalues-outofrange", "input %d value %d", i, coin.Value)
		}

		valueIn += coin.Value
		if !params.MoneyRange(valueIn) {
			return 0, errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-txns-inputvalues-outofrange", "input total exceeds %d", params.MaxMoney)
		}
	}

	var valueOut int64
	for _, out := range tx.TxOut {
		valueOut += out.Value
	}

	if model.IsCoinStake(tx) {
		return 0, nil
	}

	if valueIn < valueOut {
		return 0, errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-txns-in-belowout", "value in (%s) < value out (%s)",
			btcutil.Amount(valueIn), btcutil.Amount(valueOut))
	}

	fee := valueIn - valueOut
	if !params.MoneyRange(fee) {
		return 0, errors.NewTxInvalidError(dosMax, errors.RejectInvalid, "bad-txns-fee-outofrange", "fee %d", fee)
	}

	return fee, nil
}

// IsFinalTx reports whether tx may be included in a block at height whose lock time cutoff is blockTime.
func IsFinalTx(tx *wire.MsgTx, height int32, blockTime int64) bool {
	return blockchain.IsFinalizedTransaction(btcutil.NewTx(tx), height, time.Unix(blockTime, 0))
}

// SequenceLock is the earliest height and time at which a transaction's relative lock times
// are satisfied. -1 means no constraint.
type SequenceLock struct {
	MinHeight int32
	MinTime   int64
}

// CalcSequenceLock computes the relative lock of tx (BIP68). prevHeights holds the height of the
// coin spent by each input; medianTimeAt returns the median time past of the active chain block
// at the given height. Transactions below version 2 carry no relative locks.
func CalcSequenceLock(tx *wire.MsgTx, prevHeights []int32, medianTimeAt func(height int32) int64) SequenceLock {
	lock := SequenceLock{MinHeight: -1, MinTime: -1}

	if tx.Version < 2 || model.IsCoinBase(tx) {
		return lock
	}

	for i, in := range tx.TxIn {
		if in.Sequence&wire.SequenceLockTimeDisabled != 0 {
			continue
		}

		coinHeight := prevHeights[i]
		relative := int64(in.Sequence & wire.SequenceLockTimeMask)

		if in.Sequence&wire.SequenceLockTimeIsSeconds != 0 {
			base := coinHeight - 1
			if base < 0 {
				base = 0
			}

			minTime := medianTimeAt(base) + (relative << wire.SequenceLockTimeGranularity) - 1
			if minTime > lock.MinTime {
				lock.MinTime = minTime
			}

			continue
		}

		minHeight := coinHeight + int32(relative) - 1
		if minHeight > lock.MinHeight {
			lock.MinHeight = minHeight
		}
	}

	return lock
}

// Satisfied reports whether a block at height whose parent has median time past prevMedianTime
// may include the transaction.
func (l SequenceLock) Satisfied(height int32, prevMedianTime int64) bool {
	return l.MinHeight < height && l.MinTime < prevMedianTime
}
