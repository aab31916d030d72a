package validator

import (
	"testing"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/stores/coins/memory"
	"github.com/bsv-blockchain/chainstate/test/utils/transactions"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var params = &chaincfg.RegressionNetParams

// fundedView returns a view holding one P2PKH coin of value owned by priv, created at height.
func fundedView(t *testing.T, priv *btcec.PrivateKey, value int64, height uint32, coinbase bool) (*coins.Cache, *wire.MsgTx) {
	t.Helper()

	funding := wire.NewMsgTx(1)
	funding.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte(t.Name())), Index: 0}})
	funding.AddTxOut(wire.NewTxOut(value, transactions.P2PKHScript(t, priv.PubKey())))

	view := coins.NewCache(memory.New())
	require.NoError(t, view.AddCoin(wire.OutPoint{Hash: funding.TxHash(), Index: 0}, &model.Coin{
		Value:      value,
		PkScript:   funding.TxOut[0].PkScript,
		Height:     height,
		IsCoinBase: coinbase,
	}, false))

	return view, funding
}

func requireReject(t *testing.T, err error, reason string, dos int) {
	t.Helper()

	require.Error(t, err)

	r, ok := errors.GetReject(err)
	require.True(t, ok, "expected reject data on %v", err)
	assert.Equal(t, reason, r.Reason)
	assert.Equal(t, dos, r.DoS)
}

func TestCheckTransaction(t *testing.T) {
	priv := transactions.NewPrivateKey("alice")
	_, funding := fundedView(t, priv, 100_000, 1, false)

	valid := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithP2PKHOutputs(1, 90_000, priv.PubKey()))
	require.NoError(t, CheckTransaction(valid, params))

	t.Run("no inputs", func(t *testing.T) {
		tx := valid.Copy()
		tx.TxIn = nil
		requireReject(t, CheckTransaction(tx, params), "bad-txns-vin-empty", 10)
	})

	t.Run("no outputs", func(t *testing.T) {
		tx := valid.Copy()
		tx.TxOut = nil
		requireReject(t, CheckTransaction(tx, params), "bad-txns-vout-empty", 10)
	})

	t.Run("negative output", func(t *testing.T) {
		tx := valid.Copy()
		tx.TxOut[0].Value = -1
		requireReject(t, CheckTransaction(tx, params), "bad-txns-vout-negative", 100)
	})

	t.Run("output above max money", func(t *testing.T) {
		tx := valid.Copy()
		tx.TxOut[0].Value = params.MaxMoney + 1
		requireReject(t, CheckTransaction(tx, params), "bad-txns-vout-toolarge", 100)
	})

	t.Run("output total above max money", func(t *testing.T) {
		tx := valid.Copy()
		tx.TxOut[0].Value = params.MaxMoney
		tx.AddTxOut(wire.NewTxOut(1, tx.TxOut[0].PkScript))
		requireReject(t, CheckTransaction(tx, params), "bad-txns-txouttotal-toolarge", 100)
	})

	t.Run("duplicate inputs", func(t *testing.T) {
		tx := valid.Copy()
		tx.AddTxIn(wire.NewTxIn(&tx.TxIn[0].PreviousOutPoint, nil, nil))
		requireReject(t, CheckTransaction(tx, params), "bad-txns-inputs-duplicate", 100)
	})

	t.Run("null prevout", func(t *testing.T) {
		tx := valid.Copy()
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: wire.MaxPrevOutIndex}, nil, nil))
		requireReject(t, CheckTransaction(tx, params), "bad-txns-prevout-null", 10)
	})

	t.Run("contract spend marker", func(t *testing.T) {
		tx := valid.Copy()
		tx.TxIn[0].SignatureScript = []byte{model.OpSpend}
		requireReject(t, CheckTransaction(tx, params), "bad-txns-op-spend", 100)
	})

	t.Run("coinbase script length", func(t *testing.T) {
		coinbase := transactions.Create(t, transactions.WithCoinbaseData(5, "x"), transactions.WithOpReturnData(nil))
		require.NoError(t, CheckTransaction(coinbase, params))

		coinbase.TxIn[0].SignatureScript = []byte{0x55}
		requireReject(t, CheckTransaction(coinbase, params), "bad-cb-length", 100)

		coinbase.TxIn[0].SignatureScript = make([]byte, MaxCoinbaseScriptLen+1)
		requireReject(t, CheckTransaction(coinbase, params), "bad-cb-length", 100)
	})
}

func TestCheckTxInputs(t *testing.T) {
	priv := transactions.NewPrivateKey("alice")

	t.Run("fee", func(t *testing.T) {
		view, funding := fundedView(t, priv, 100_000, 1, false)
		tx := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithP2PKHOutputs(1, 90_000, priv.PubKey()))

		fee, err := CheckTxInputs(tx, view, 2, params)
		require.NoError(t, err)
		assert.Equal(t, int64(10_000), fee)
	})

	t.Run("missing input", func(t *testing.T) {
		_, funding := fundedView(t, priv, 100_000, 1, false)
		tx := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithP2PKHOutputs(1, 90_000, priv.PubKey()))

		_, err := CheckTxInputs(tx, coins.NewCache(memory.New()), 2, params)
		requireReject(t, err, "bad-txns-inputs-missingorspent", 100)
	})

	t.Run("value out above value in", func(t *testing.T) {
		view, funding := fundedView(t, priv, 100_000, 1, false)
		tx := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithP2PKHOutputs(1, 90_000, priv.PubKey()))
		tx.TxOut[0].Value = 100_001

		_, err := CheckTxInputs(tx, view, 2, params)
		requireReject(t, err, "bad-txns-in-belowout", 100)
	})

	t.Run("immature coinbase", func(t *testing.T) {
		view, funding := fundedView(t, priv, 100_000, 10, true)
		tx := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithP2PKHOutputs(1, 90_000, priv.PubKey()))

		_, err := CheckTxInputs(tx, view, 10+uint32(params.CoinbaseMaturity)-1, params)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrTxCoinbaseImmature))

		_, err = CheckTxInputs(tx, view, 10+uint32(params.CoinbaseMaturity), params)
		require.NoError(t, err)
	})
}

func TestIsFinalTx(t *testing.T) {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{Sequence: 0})
	tx.AddTxOut(wire.NewTxOut(1, nil))

	assert.True(t, IsFinalTx(tx, 10, 1_000), "zero lock time is always final")

	tx.LockTime = 10
	assert.False(t, IsFinalTx(tx, 10, 1_000))
	assert.True(t, IsFinalTx(tx, 11, 1_000))

	tx.LockTime = 600_000_000
	assert.False(t, IsFinalTx(tx, 11, 600_000_000))
	assert.True(t, IsFinalTx(tx, 11, 600_000_001))

	tx.TxIn[0].Sequence = wire.MaxTxInSequenceNum
	assert.True(t, IsFinalTx(tx, 11, 0), "final sequence numbers disable the lock time")
}

func TestCalcSequenceLock(t *testing.T) {
	medianTime := func(height int32) int64 { return 1_000 + int64(height)*100 }

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{Sequence: 5})
	tx.AddTxIn(&wire.TxIn{Sequence: wire.SequenceLockTimeIsSeconds | 2})
	tx.AddTxOut(wire.NewTxOut(1, nil))

	lock := CalcSequenceLock(tx, []int32{10, 20}, medianTime)
	assert.Equal(t, int32(14), lock.MinHeight)
	assert.Equal(t, medianTime(19)+2<<wire.SequenceLockTimeGranularity-1, lock.MinTime)

	assert.False(t, lock.Satisfied(14, lock.MinTime+1))
	assert.False(t, lock.Satisfied(15, lock.MinTime))
	assert.True(t, lock.Satisfied(15, lock.MinTime+1))

	t.Run("disabled", func(t *testing.T) {
		tx.TxIn[0].Sequence |= wire.SequenceLockTimeDisabled
		tx.TxIn[1].Sequence |= wire.SequenceLockTimeDisabled

		lock := CalcSequenceLock(tx, []int32{10, 20}, medianTime)
		assert.Equal(t, SequenceLock{MinHeight: -1, MinTime: -1}, lock)
	})

	t.Run("version one", func(t *testing.T) {
		v1 := tx.Copy()
		v1.Version = 1
		v1.TxIn[0].Sequence = 5

		lock := CalcSequenceLock(v1, []int32{10, 20}, medianTime)
		assert.Equal(t, SequenceLock{MinHeight: -1, MinTime: -1}, lock)
	})
}

func TestGetTransactionSigOpCost(t *testing.T) {
	priv := transactions.NewPrivateKey("alice")
	view, funding := fundedView(t, priv, 100_000, 1, false)
	tx := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithP2PKHOutputs(2, 40_000, priv.PubKey()))

	assert.Equal(t, 2, GetLegacySigOpCount(tx))

	cost, err := GetTransactionSigOpCost(tx, view, GetBlockScriptFlags(params, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(8), cost)

	_, err = CheckInputsSigOps(tx, view, GetBlockScriptFlags(params, 10), 4)
	requireReject(t, err, "bad-txns-too-many-sigops", 0)
}
