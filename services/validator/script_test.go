package validator

import (
	"context"
	"testing"
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/stores/coins/memory"
	"github.com/bsv-blockchain/chainstate/test/utils/transactions"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T, opts ...TxValidatorOption) *TxValidator {
	t.Helper()

	tSettings := settings.NewSettings()
	tSettings.ChainCfgParams = &chaincfg.RegressionNetParams
	tSettings.Chainstate.ScriptThreads = 4
	tSettings.Chainstate.ScriptQueueSize = 8
	tSettings.Chainstate.ScriptCacheSize = 1000
	tSettings.Chainstate.ScriptCacheTTL = time.Minute

	tv := NewTxValidator(ulogger.TestLogger{}, tSettings, opts...)
	t.Cleanup(func() {
		require.NoError(t, tv.Stop())
	})

	return tv
}

// witnessSpend returns a view holding a P2WPKH coin of priv and a transaction spending it.
func witnessSpend(t *testing.T, priv *btcec.PrivateKey, to *btcec.PublicKey) (*coins.Cache, *wire.MsgTx) {
	t.Helper()

	funding := wire.NewMsgTx(1)
	funding.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte(t.Name())), Index: 0}})
	funding.AddTxOut(wire.NewTxOut(100_000, transactions.P2WPKHScript(t, priv.PubKey())))

	view := coins.NewCache(memory.New())
	require.NoError(t, view.AddCoin(wire.OutPoint{Hash: funding.TxHash(), Index: 0}, &model.Coin{
		Value:    100_000,
		PkScript: funding.TxOut[0].PkScript,
		Height:   1,
	}, false))

	tx := transactions.Create(t, transactions.WithInput(funding, 0, priv), transactions.WithP2PKHOutputs(1, 90_000, to))
	require.Len(t, tx.TxIn[0].Witness, 2)
	require.Empty(t, tx.TxIn[0].SignatureScript)

	return view, tx
}

// malleateWitness returns a copy of tx with one byte of the first input's signature changed.
// The txid stays the same, the witness hash does not.
func malleateWitness(t *testing.T, tx *wire.MsgTx) *wire.MsgTx {
	t.Helper()

	malleated := tx.Copy()
	malleated.TxIn[0].Witness[0][10] ^= 0x01

	require.Equal(t, tx.TxHash(), malleated.TxHash())
	require.NotEqual(t, tx.WitnessHash(), malleated.WitnessHash())

	return malleated
}

func TestGetBlockScriptFlags(t *testing.T) {
	mainnet := &chaincfg.MainNetParams

	flags := GetBlockScriptFlags(mainnet, 0)
	assert.Equal(t, txscript.ScriptBip16, flags)

	flags = GetBlockScriptFlags(mainnet, 1)
	assert.NotZero(t, flags&txscript.ScriptVerifyDERSignatures)
	assert.NotZero(t, flags&txscript.ScriptVerifyCheckLockTimeVerify)
	assert.NotZero(t, flags&txscript.ScriptVerifyCheckSequenceVerify)
	assert.Zero(t, flags&txscript.ScriptVerifyWitness)

	flags = GetBlockScriptFlags(mainnet, mainnet.WitnessHeight)
	assert.NotZero(t, flags&txscript.ScriptVerifyWitness)
	assert.NotZero(t, flags&txscript.ScriptStrictMultiSig)
}

func TestCheckInputs(t *testing.T) {
	alice := transactions.NewPrivateKey("alice")
	bob := transactions.NewPrivateKey("bob")

	t.Run("valid signature", func(t *testing.T) {
		tv := newTestValidator(t)
		view, funding := fundedView(t, alice, 100_000, 1, false)
		tx := transactions.Create(t, transactions.WithInput(funding, 0, alice), transactions.WithP2PKHOutputs(1, 90_000, bob.PubKey()))

		require.NoError(t, tv.CheckInputs(tx, view, StandardScriptFlags, MandatoryScriptFlags, false, nil))
	})

	t.Run("wrong key", func(t *testing.T) {
		tv := newTestValidator(t)
		view, funding := fundedView(t, alice, 100_000, 1, false)
		tx := transactions.Create(t, transactions.WithInput(funding, 0, bob), transactions.WithP2PKHOutputs(1, 90_000, bob.PubKey()))

		err := tv.CheckInputs(tx, view, GetBlockScriptFlags(params, 10), GetBlockScriptFlags(params, 10), false, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrTxInvalid))
		assert.Equal(t, 100, errors.DoS(err))

		scriptErr, ok := errors.GetScriptError(err)
		require.True(t, ok)
		assert.Equal(t, 0, scriptErr.InputIndex)
		assert.NotEqual(t, ScriptErrUnknown, scriptErr.ScriptErr)
	})

	t.Run("tampered output", func(t *testing.T) {
		tv := newTestValidator(t)
		view, funding := fundedView(t, alice, 100_000, 1, false)
		tx := transactions.Create(t, transactions.WithInput(funding, 0, alice), transactions.WithP2PKHOutputs(1, 90_000, bob.PubKey()))
		tx.TxOut[0].Value = 80_000

		err := tv.CheckInputs(tx, view, GetBlockScriptFlags(params, 10), GetBlockScriptFlags(params, 10), false, nil)
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("missing coin", func(t *testing.T) {
		tv := newTestValidator(t)
		_, funding := fundedView(t, alice, 100_000, 1, false)
		other, _ := fundedView(t, bob, 1, 1, false)
		tx := transactions.Create(t, transactions.WithInput(funding, 0, alice), transactions.WithP2PKHOutputs(1, 90_000, bob.PubKey()))

		err := tv.CheckInputs(tx, other, StandardScriptFlags, MandatoryScriptFlags, false, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrTxMissingInputs))
	})

	t.Run("script cache", func(t *testing.T) {
		tv := newTestValidator(t)
		view, funding := fundedView(t, alice, 100_000, 1, false)
		tx := transactions.Create(t, transactions.WithInput(funding, 0, alice), transactions.WithP2PKHOutputs(1, 90_000, bob.PubKey()))

		require.NoError(t, tv.CheckInputs(tx, view, StandardScriptFlags, MandatoryScriptFlags, false, nil))
		assert.Equal(t, 0, tv.ScriptCache().Len())

		require.NoError(t, tv.CheckInputs(tx, view, StandardScriptFlags, MandatoryScriptFlags, true, nil))
		assert.Equal(t, 1, tv.ScriptCache().Len())

		control := tv.NewControl(context.Background())
		require.NoError(t, tv.CheckInputs(tx, view, StandardScriptFlags, MandatoryScriptFlags, true, control))
		require.NoError(t, control.Wait())
	})

	t.Run("witness malleation misses the script cache", func(t *testing.T) {
		tv := newTestValidator(t)
		view, tx := witnessSpend(t, alice, bob.PubKey())
		blockFlags := GetBlockScriptFlags(params, 10)

		require.NoError(t, tv.CheckInputs(tx, view, StandardScriptFlags, blockFlags, true, nil))
		require.Equal(t, 1, tv.ScriptCache().Len())

		malleated := malleateWitness(t, tx)

		err := tv.CheckInputs(malleated, view, StandardScriptFlags, blockFlags, true, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrTxInvalid))

		control := tv.NewControl(context.Background())
		require.NoError(t, tv.CheckInputs(malleated, view, blockFlags, blockFlags, true, control))
		require.Error(t, control.Wait())

		// the honest transaction still hits its cache entry
		require.NoError(t, tv.CheckInputs(tx, view, StandardScriptFlags, blockFlags, true, nil))
		assert.Equal(t, 1, tv.ScriptCache().Len())
	})

	t.Run("active consensus flags are mandatory", func(t *testing.T) {
		tv := newTestValidator(t, WithoutScriptCache())
		view, tx := witnessSpend(t, alice, bob.PubKey())
		malleated := malleateWitness(t, tx)
		blockFlags := GetBlockScriptFlags(params, 10)

		err := tv.CheckInputs(malleated, view, blockFlags, blockFlags, false, nil)
		require.Error(t, err)
		assert.Equal(t, 100, errors.DoS(err))

		reject, ok := errors.GetReject(err)
		require.True(t, ok)
		assert.Equal(t, errors.RejectInvalid, reject.RejectCode)
		assert.Contains(t, reject.Reason, "mandatory-script-verify-flag-failed")

		err = tv.CheckInputs(malleated, view, StandardScriptFlags, blockFlags, false, nil)
		require.Error(t, err)
		assert.Equal(t, 100, errors.DoS(err))

		// without the witness deployment the failure is only a policy violation
		err = tv.CheckInputs(malleated, view, StandardScriptFlags, MandatoryScriptFlags, false, nil)
		require.Error(t, err)
		assert.Equal(t, 0, errors.DoS(err))

		reject, ok = errors.GetReject(err)
		require.True(t, ok)
		assert.Equal(t, errors.RejectNonstandard, reject.RejectCode)
	})

	t.Run("through a control", func(t *testing.T) {
		tv := newTestValidator(t, WithoutScriptCache())
		view, funding := fundedView(t, alice, 100_000, 1, false)
		good := transactions.Create(t, transactions.WithInput(funding, 0, alice), transactions.WithP2PKHOutputs(1, 90_000, bob.PubKey()))
		bad := transactions.Create(t, transactions.WithInput(funding, 0, bob), transactions.WithP2PKHOutputs(1, 90_000, bob.PubKey()))

		control := tv.NewControl(context.Background())
		require.NoError(t, tv.CheckInputs(good, view, StandardScriptFlags, MandatoryScriptFlags, false, control))
		require.NoError(t, control.Wait())
		assert.Equal(t, int64(1), control.Executed())

		control = tv.NewControl(context.Background())
		require.NoError(t, tv.CheckInputs(bad, view, StandardScriptFlags, MandatoryScriptFlags, false, control))
		require.Error(t, control.Wait())
	})
}

func TestScriptErrorSubcode(t *testing.T) {
	assert.Equal(t, ScriptErrUnknown, scriptErrorSubcode(errors.NewProcessingError("boom")))
	assert.Equal(t, ScriptErrEvalFalse, scriptErrorSubcode(txscript.Error{ErrorCode: txscript.ErrEvalFalse}))
	assert.Equal(t, ScriptErrBadSignature, scriptErrorSubcode(txscript.Error{ErrorCode: txscript.ErrNullFail}))
	assert.Equal(t, ScriptErrMultisigThreshold, scriptErrorSubcode(txscript.Error{ErrorCode: txscript.ErrCheckMultiSigVerify}))
	assert.Equal(t, ScriptErrException, scriptErrorSubcode(txscript.Error{ErrorCode: txscript.ErrDisabledOpcode}))
}
