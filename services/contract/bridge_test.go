package contract

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/stores/coins/memory"
	"github.com/bsv-blockchain/chainstate/test/utils/blocks"
	"github.com/bsv-blockchain/chainstate/test/utils/transactions"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/vm"
	"github.com/bsv-blockchain/chainstate/vm/simple"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() *settings.Settings {
	tSettings := settings.NewSettings()
	tSettings.ChainCfgParams = &chaincfg.RegressionNetParams
	tSettings.Contract.MinGasPrice = 40
	tSettings.Contract.MinGasLimit = 10_000
	tSettings.Contract.BlockGasLimit = 40_000_000
	tSettings.Contract.MaxContractVouts = 1000

	return tSettings
}

func newBridge(t *testing.T, tSettings *settings.Settings) (*Bridge, *simple.StateDB) {
	t.Helper()

	state, err := simple.NewMemoryStateDB()
	require.NoError(t, err)

	t.Cleanup(func() { _ = state.Close() })

	return NewBridge(ulogger.TestLogger{}, tSettings, simple.NewExecutor(ulogger.TestLogger{}), state), state
}

// funded returns a view holding a P2PKH coin of priv and the transaction that created it.
func funded(t *testing.T, priv *btcec.PrivateKey, value int64) (*coins.Cache, *wire.MsgTx) {
	t.Helper()

	funding := wire.NewMsgTx(1)
	funding.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte(t.Name()))}})
	funding.AddTxOut(wire.NewTxOut(value, transactions.P2PKHScript(t, priv.PubKey())))

	view := coins.NewCache(memory.New())
	require.NoError(t, view.AddCoins(funding, 1, false))

	return view, funding
}

func contractScript(t *testing.T, p *ScriptParams) []byte {
	t.Helper()

	script, err := BuildScript(p)
	require.NoError(t, err)

	return script
}

func TestParseScript(t *testing.T) {
	to := vm.Address{0xde, 0xad}

	create := &ScriptParams{Version: VMVersion, GasLimit: 2_500_000, GasPrice: 40, Data: []byte("code"), Create: true}
	parsed, err := ParseScript(contractScript(t, create))
	require.NoError(t, err)
	assert.Equal(t, create, parsed)

	call := &ScriptParams{Version: VMVersion, GasLimit: 250_000, GasPrice: 0x80, Data: []byte{0x01, 0x02}, To: to}
	parsed, err = ParseScript(contractScript(t, call))
	require.NoError(t, err)
	assert.Equal(t, call, parsed)

	t.Run("malformed", func(t *testing.T) {
		scripts := map[string][]byte{
			"not a contract":     {txscript.OP_TRUE},
			"missing pushes":     {txscript.OP_1, model.OpCreate},
			"short address":      {txscript.OP_1, txscript.OP_1, txscript.OP_1, txscript.OP_0, 0x02, 0x01, 0x02, model.OpCall},
			"negative gas":       {txscript.OP_1, 0x01, 0x81, txscript.OP_1, txscript.OP_0, model.OpCreate},
			"opcode in the body": {txscript.OP_1, txscript.OP_DUP, txscript.OP_1, txscript.OP_0, model.OpCreate},
		}

		for name, script := range scripts {
			_, err := ParseScript(script)
			require.Error(t, err, name)
			assert.True(t, errors.Is(err, errors.ErrContractInvalid), name)
		}
	})
}

func TestExtractParams(t *testing.T) {
	priv := transactions.NewPrivateKey("alice")
	view, funding := funded(t, priv, 1_000_000)

	script := contractScript(t, &ScriptParams{Version: VMVersion, GasLimit: 50_000, GasPrice: 40, Data: []byte("code"), Create: true})
	tx := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithOutput(1_000, script), transactions.WithP2PKHOutputs(1, 500_000, priv.PubKey()))

	calls, err := ExtractParams(tx, view)
	require.NoError(t, err)
	require.Len(t, calls, 1)

	sender, _ := vm.AddressFromBytes(transactions.PubKeyHash(priv.PubKey()))
	assert.Equal(t, sender, calls[0].Sender)
	assert.Equal(t, tx.TxHash(), calls[0].TxID)
	assert.Equal(t, uint32(0), calls[0].Vout)
	assert.Equal(t, int64(1_000), calls[0].Value)

	t.Run("no contract outputs", func(t *testing.T) {
		plain := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithP2PKHOutputs(1, 500_000, priv.PubKey()))
		calls, err := ExtractParams(plain, view)
		require.NoError(t, err)
		assert.Nil(t, calls)
	})

	t.Run("sender coin missing", func(t *testing.T) {
		_, err := ExtractParams(tx, coins.NewCache(memory.New()))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrTxMissingInputs))
	})

	t.Run("sender script not a key", func(t *testing.T) {
		other := coins.NewCache(memory.New())
		require.NoError(t, other.AddCoin(tx.TxIn[0].PreviousOutPoint, &model.Coin{Value: 1_000_000, PkScript: []byte{txscript.OP_TRUE}, Height: 1}, false))

		_, err := ExtractParams(tx, other)
		require.Error(t, err)

		reject, ok := errors.GetReject(err)
		require.True(t, ok)
		assert.Equal(t, "bad-txns-invalid-sender-script", reject.Reason)
	})
}

func TestCheckParams(t *testing.T) {
	base := ScriptParams{Version: VMVersion, GasLimit: 50_000, GasPrice: 40, Create: true, Data: []byte("c")}

	tests := []struct {
		name   string
		modify func(p *ScriptParams)
		reason string
	}{
		{name: "valid", modify: func(p *ScriptParams) {}},
		{name: "version", modify: func(p *ScriptParams) { p.Version = 2 }, reason: "bad-tx-version-vm"},
		{name: "zero gas price", modify: func(p *ScriptParams) { p.GasPrice = 0 }, reason: "bad-tx-gas-price-zero"},
		{name: "overflow", modify: func(p *ScriptParams) { p.GasLimit = 1 << 40; p.GasPrice = 1 << 40 }, reason: "bad-tx-gas-stipend-overflow"},
		{name: "above block limit", modify: func(p *ScriptParams) { p.GasLimit = 40_000_001 }, reason: "bad-txns-gas-exceeds-blockgaslimit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.modify(&p)

			err := CheckParams([]*Call{{ScriptParams: p}}, 40_000_000, chaincfg.RegressionNetParams.MaxMoney)
			if tt.reason == "" {
				require.NoError(t, err)
				return
			}

			reject, ok := errors.GetReject(err)
			require.True(t, ok, err)
			assert.Equal(t, tt.reason, reject.Reason)
		})
	}

	calls := []*Call{{ScriptParams: base}}

	reject, ok := errors.GetReject(CheckMinGasPrice(calls, 41, 0))
	require.True(t, ok)
	assert.Equal(t, "bad-tx-low-gas-price", reject.Reason)
	assert.Equal(t, 0, reject.DoS)
	require.NoError(t, CheckMinGasPrice(calls, 40, 0))

	reject, ok = errors.GetReject(CheckMinGasLimit(calls, 50_001, 100))
	require.True(t, ok)
	assert.Equal(t, "bad-tx-too-little-gas", reject.Reason)
	assert.Equal(t, 100, reject.DoS)

	require.NoError(t, CheckGasFee(calls, 2_000_000))
	require.Error(t, CheckGasFee(calls, 1_999_999))
}

// contractBlock builds a block at height 1 on the regtest genesis carrying txs and committing to root.
func contractBlock(t *testing.T, root chainhash.Hash, txs ...*wire.MsgTx) *model.Block {
	genesis := chaincfg.RegressionNetParams.GenesisBlock.Header
	return blocks.Create(t, genesis, 1, blocks.WithStateRoot(root), blocks.WithTransactions(txs...))
}

func TestBlockExecution(t *testing.T) {
	ctx := context.Background()
	priv := transactions.NewPrivateKey("alice")
	sender, _ := vm.AddressFromBytes(transactions.PubKeyHash(priv.PubKey()))

	view, funding := funded(t, priv, 10_000_000)

	createScript := contractScript(t, &ScriptParams{Version: VMVersion, GasLimit: 100_000, GasPrice: 40, Data: []byte("code"), Create: true})
	tx := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithOutput(5_000, createScript), transactions.WithP2PKHOutputs(1, 5_000_000, priv.PubKey()))

	// the expected root, from an independent run of the same message
	expected, expectedState := newBridge(t, testSettings())
	calls, err := ExtractParams(tx, view)
	require.NoError(t, err)

	res, err := expected.executor.Execute(ctx, expectedState, calls[0].Message(), &vm.Env{})
	require.NoError(t, err)
	require.False(t, res.Excepted)

	root, err := expectedState.Commit(ctx)
	require.NoError(t, err)

	t.Run("matching root", func(t *testing.T) {
		bridge, state := newBridge(t, testSettings())
		block := contractBlock(t, root, tx)

		be, err := bridge.NewBlockExecution(ctx, block, 1, chaincfg.EmptyStateRoot)
		require.NoError(t, err)

		txResult, err := be.ApplyTx(ctx, tx, view)
		require.NoError(t, err)

		gasUsed := simple.GasBase + simple.GasDataByte*4 + simple.GasCreate + simple.GasCodeByte*4
		assert.Equal(t, gasUsed, txResult.GasUsed)
		assert.Equal(t, int64((100_000-gasUsed)*40), txResult.Refund)

		require.NotNil(t, txResult.Condensing)
		require.Len(t, txResult.Condensing.TxOut, 1)
		assert.Equal(t, P2PKHScript(sender), txResult.Condensing.TxOut[0].PkScript)
		assert.Equal(t, []byte{model.OpSpend}, txResult.Condensing.TxIn[0].SignatureScript)

		result, err := be.Finish(ctx)
		require.NoError(t, err)
		assert.Equal(t, root, result.StateRoot)
		assert.Equal(t, root, state.Root())
		assert.Equal(t, []wire.OutPoint{{Hash: txResult.Condensing.TxHash(), Index: 0}}, result.ContractOutpoints)
		assert.Equal(t, txResult.Refund, result.Refunds)

		require.NoError(t, bridge.RevertTo(ctx, chaincfg.EmptyStateRoot))
		assert.Equal(t, chaincfg.EmptyStateRoot, state.Root())
	})

	t.Run("state root mismatch", func(t *testing.T) {
		bridge, state := newBridge(t, testSettings())
		block := contractBlock(t, chainhash.HashH([]byte("wrong")), tx)

		be, err := bridge.NewBlockExecution(ctx, block, 1, chaincfg.EmptyStateRoot)
		require.NoError(t, err)

		_, err = be.ApplyTx(ctx, tx, view)
		require.NoError(t, err)

		_, err = be.Finish(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrContractStateRoot))
		assert.True(t, errors.IsInvalid(err))
		assert.Equal(t, 100, errors.DoS(err))

		assert.Equal(t, chaincfg.EmptyStateRoot, state.Root())
		assert.False(t, state.Exists(simple.ContractAddress(tx.TxHash(), 0)))
	})

	t.Run("low gas price rejected before execution", func(t *testing.T) {
		bridge, state := newBridge(t, testSettings())

		cheap := contractScript(t, &ScriptParams{Version: VMVersion, GasLimit: 100_000, GasPrice: 39, Data: []byte("code"), Create: true})
		cheapTx := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithOutput(0, cheap), transactions.WithP2PKHOutputs(1, 5_000_000, priv.PubKey()))
		block := contractBlock(t, chaincfg.EmptyStateRoot, cheapTx)

		be, err := bridge.NewBlockExecution(ctx, block, 1, chaincfg.EmptyStateRoot)
		require.NoError(t, err)

		_, err = be.ApplyTx(ctx, cheapTx, view)
		require.Error(t, err)

		reject, ok := errors.GetReject(err)
		require.True(t, ok)
		assert.Equal(t, "bad-tx-low-gas-price", reject.Reason)
		assert.False(t, be.executed)
		assert.False(t, state.Exists(simple.ContractAddress(cheapTx.TxHash(), 0)))
	})

	t.Run("contract vout cap", func(t *testing.T) {
		tSettings := testSettings()
		tSettings.Contract.MaxContractVouts = 0
		bridge, _ := newBridge(t, tSettings)

		be, err := bridge.NewBlockExecution(ctx, contractBlock(t, root, tx), 1, chaincfg.EmptyStateRoot)
		require.NoError(t, err)

		_, err = be.ApplyTx(ctx, tx, view)

		reject, ok := errors.GetReject(err)
		require.True(t, ok, err)
		assert.Equal(t, "bad-blk-contract-vouts", reject.Reason)
	})

	t.Run("no contracts keeps the root", func(t *testing.T) {
		bridge, _ := newBridge(t, testSettings())
		block := contractBlock(t, chaincfg.EmptyStateRoot)

		be, err := bridge.NewBlockExecution(ctx, block, 1, chaincfg.EmptyStateRoot)
		require.NoError(t, err)

		result, err := be.Finish(ctx)
		require.NoError(t, err)
		assert.Equal(t, chaincfg.EmptyStateRoot, result.StateRoot)
		assert.Empty(t, result.Condensing)
	})
}

func TestRefundValue(t *testing.T) {
	call := func(gasLimit, gasPrice uint64) *Call {
		return &Call{ScriptParams: ScriptParams{GasLimit: gasLimit, GasPrice: gasPrice}}
	}

	t.Run("unused gas at the gas price", func(t *testing.T) {
		refund, err := refundValue(call(50_000, 40), 21_000)
		require.NoError(t, err)
		assert.Equal(t, int64(29_000*40), refund)
	})

	t.Run("all gas used", func(t *testing.T) {
		refund, err := refundValue(call(50_000, 40), 50_000)
		require.NoError(t, err)
		assert.Zero(t, refund)
	})

	t.Run("product overflows uint64", func(t *testing.T) {
		_, err := refundValue(call(1<<40, 1<<40), 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrContractGas))
		assert.Equal(t, 100, errors.DoS(err))
	})

	t.Run("product overflows int64", func(t *testing.T) {
		_, err := refundValue(call(1<<32, 1<<31), 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrContractGas))
	})

	t.Run("more gas used than the limit", func(t *testing.T) {
		_, err := refundValue(call(21_000, 40), 21_001)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrContractExecution))
	})
}

func TestRewardScript(t *testing.T) {
	miner := transactions.NewPrivateKey("miner")
	genesis := chaincfg.RegressionNetParams.GenesisBlock.Header

	t.Run("first coinbase output", func(t *testing.T) {
		block := blocks.Create(t, genesis, 1, blocks.WithReward(50, miner.PubKey()))

		script, err := rewardScript(block)
		require.NoError(t, err)
		assert.Equal(t, block.CoinbaseTx().TxOut[0].PkScript, script)
	})

	t.Run("coinstake paying output", func(t *testing.T) {
		funding := transactions.Create(t, transactions.WithCoinbaseData(1, "funding"), transactions.WithP2PKHOutputs(1, 1_000, miner.PubKey()))
		coinstake := transactions.Create(t,
			transactions.WithInput(funding, 0, miner),
			transactions.WithOutput(0, []byte{}),
			transactions.WithP2PKHOutputs(1, 1_000, miner.PubKey()),
		)

		block := blocks.Create(t, genesis, 1, blocks.WithTransactions(coinstake), blocks.WithoutMining())
		require.True(t, block.IsProofOfStake())

		script, err := rewardScript(block)
		require.NoError(t, err)
		assert.Equal(t, coinstake.TxOut[1].PkScript, script)
	})

	t.Run("coinbase without outputs", func(t *testing.T) {
		coinbase := transactions.Create(t, transactions.WithCoinbaseData(1, "empty"))
		block := blocks.Create(t, genesis, 1, blocks.WithCoinbase(coinbase), blocks.WithoutMining())

		script, err := rewardScript(block)
		require.NoError(t, err)
		assert.Nil(t, script)
	})
}
