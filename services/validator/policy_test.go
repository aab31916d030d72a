package validator

import (
	"testing"

	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/stores/coins/memory"
	"github.com/bsv-blockchain/chainstate/test/utils/transactions"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() *settings.PolicySettings {
	tSettings := settings.NewSettings()
	return tSettings.Policy
}

func TestIsStandardTx(t *testing.T) {
	priv := transactions.NewPrivateKey("alice")
	_, funding := fundedView(t, priv, 100_000, 1, false)
	policy := testPolicy()

	newTx := func(opts ...transactions.TxOption) *wire.MsgTx {
		return transactions.Create(t, append([]transactions.TxOption{transactions.WithInput(funding, 0, priv)}, opts...)...)
	}

	t.Run("p2pkh", func(t *testing.T) {
		require.NoError(t, IsStandardTx(newTx(transactions.WithP2PKHOutputs(1, 90_000, priv.PubKey())), policy))
	})

	t.Run("version", func(t *testing.T) {
		tx := newTx(transactions.WithVersion(3), transactions.WithP2PKHOutputs(1, 90_000, priv.PubKey()))
		requireReject(t, IsStandardTx(tx, policy), "version", 0)
	})

	t.Run("dust", func(t *testing.T) {
		tx := newTx(transactions.WithP2PKHOutputs(1, 545, priv.PubKey()))
		requireReject(t, IsStandardTx(tx, policy), "dust", 0)

		tx = newTx(transactions.WithP2PKHOutputs(1, 546, priv.PubKey()))
		require.NoError(t, IsStandardTx(tx, policy))
	})

	t.Run("one data output", func(t *testing.T) {
		tx := newTx(transactions.WithP2PKHOutputs(1, 90_000, priv.PubKey()), transactions.WithOpReturnData([]byte("hello")))
		require.NoError(t, IsStandardTx(tx, policy))
	})

	t.Run("multi op return", func(t *testing.T) {
		tx := newTx(transactions.WithOpReturnData([]byte("a")), transactions.WithOpReturnData([]byte("b")))
		requireReject(t, IsStandardTx(tx, policy), "multi-op-return", 0)
	})

	t.Run("oversized data output", func(t *testing.T) {
		small := *policy
		small.DataCarrierSize = 10

		tx := newTx(transactions.WithOpReturnData(make([]byte, 20)))
		require.NoError(t, IsStandardTx(tx, policy))
		requireReject(t, IsStandardTx(tx, &small), "scriptpubkey", 0)
	})

	t.Run("non-standard output", func(t *testing.T) {
		tx := newTx(transactions.WithOutput(90_000, []byte{txscript.OP_TRUE}))
		requireReject(t, IsStandardTx(tx, policy), "scriptpubkey", 0)
	})

	t.Run("signature script not push only", func(t *testing.T) {
		tx := newTx(transactions.WithP2PKHOutputs(1, 90_000, priv.PubKey()))
		tx.TxIn[0].SignatureScript = append(tx.TxIn[0].SignatureScript, txscript.OP_DUP)
		requireReject(t, IsStandardTx(tx, policy), "scriptsig-not-pushonly", 0)
	})

	t.Run("bare multisig", func(t *testing.T) {
		builder := txscript.NewScriptBuilder().AddOp(txscript.OP_1)
		for _, seed := range []string{"a", "b", "c", "d"} {
			builder.AddData(transactions.NewPrivateKey(seed).PubKey().SerializeCompressed())
		}

		script, err := builder.AddOp(txscript.OP_4).AddOp(txscript.OP_CHECKMULTISIG).Script()
		require.NoError(t, err)

		tx := newTx(transactions.WithOutput(90_000, script))
		requireReject(t, IsStandardTx(tx, policy), "scriptpubkey", 0)

		strict := *policy
		strict.PermitBareMultisig = false
		requireReject(t, IsStandardTx(tx, &strict), "bare-multisig", 0)
	})
}

func TestAreInputsStandard(t *testing.T) {
	priv := transactions.NewPrivateKey("alice")
	view, funding := fundedView(t, priv, 100_000, 1, false)

	tx := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithP2PKHOutputs(1, 90_000, priv.PubKey()))
	require.NoError(t, AreInputsStandard(tx, view))

	nonStandard := coins.NewCache(memory.New())
	require.NoError(t, nonStandard.AddCoin(tx.TxIn[0].PreviousOutPoint, &model.Coin{Value: 100_000, PkScript: []byte{txscript.OP_TRUE}, Height: 1}, false))
	requireReject(t, AreInputsStandard(tx, nonStandard), "bad-txns-nonstandard-inputs", 0)
}

func TestIsDust(t *testing.T) {
	priv := transactions.NewPrivateKey("alice")
	script := transactions.P2PKHScript(t, priv.PubKey())

	assert.True(t, IsDust(wire.NewTxOut(545, script), 3000))
	assert.False(t, IsDust(wire.NewTxOut(546, script), 3000))
	assert.True(t, IsDust(wire.NewTxOut(546, script), 6000))
	assert.False(t, IsDust(wire.NewTxOut(0, script), 0))

	nullData, err := txscript.NullDataScript([]byte("data"))
	require.NoError(t, err)
	assert.False(t, IsDust(wire.NewTxOut(0, nullData), 3000))
}

func TestGetMinRelayFee(t *testing.T) {
	policy := testPolicy()

	assert.Equal(t, int64(250), GetMinRelayFee(250, false, policy, params.MaxMoney))
	assert.Equal(t, int64(0), GetMinRelayFee(250, true, policy, params.MaxMoney))
	assert.Equal(t, int64(100_000), GetMinRelayFee(100_000, true, policy, params.MaxMoney))
	assert.Equal(t, int64(10), GetMinRelayFee(100_000, false, policy, 10))

	assert.True(t, AllowFree(policy.AllowFreePriority+1, policy))
	assert.False(t, AllowFree(policy.AllowFreePriority, policy))
}
