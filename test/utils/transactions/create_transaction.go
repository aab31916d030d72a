// Package transactions builds signed transactions for tests.
package transactions

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TxOption is a function that modifies a transaction creation options
type TxOption func(*TxOptions)

type input struct {
	tx              *wire.MsgTx
	vout            uint32
	privKey         *btcec.PrivateKey
	unlockingScript []byte
	sequenceNumber  uint32
}

type output struct {
	script []byte
	pubKey *btcec.PublicKey
	amount int64
}

// TxOptions holds all the configurable options for transaction creation
type TxOptions struct {
	fallbackPrivKey *btcec.PrivateKey
	inputs          []input
	outputs         []output
	isCoinbase      bool
	version         int32
	lockTime        uint32
	sequence        *uint32
}

// NewPrivateKey derives a deterministic private key from seed.
func NewPrivateKey(seed string) *btcec.PrivateKey {
	sum := sha256.Sum256([]byte(seed))
	priv, _ := btcec.PrivKeyFromBytes(sum[:])

	return priv
}

// PubKeyHash returns hash160 of the compressed public key.
func PubKeyHash(pubKey *btcec.PublicKey) []byte {
	return btcutil.Hash160(pubKey.SerializeCompressed())
}

// P2PKHScript returns the pay-to-pubkey-hash script of pubKey.
func P2PKHScript(t testing.TB, pubKey *btcec.PublicKey) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(PubKeyHash(pubKey)).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	return script
}

// P2WPKHScript returns the version 0 pay-to-witness-pubkey-hash script of pubKey.
func P2WPKHScript(t testing.TB, pubKey *btcec.PublicKey) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(PubKeyHash(pubKey)).
		Script()
	require.NoError(t, err)

	return script
}

// WithPrivateKey specifies a fallback private key to use for signing inputs and creating P2PKH outputs
// when no specific key is provided.
func WithPrivateKey(privKey *btcec.PrivateKey) TxOption {
	return func(opts *TxOptions) {
		opts.fallbackPrivKey = privKey
	}
}

// WithInput specifies an input to use.  You can add this option multiple times to add multiple inputs.
func WithInput(tx *wire.MsgTx, vout uint32, priv ...*btcec.PrivateKey) TxOption {
	var p *btcec.PrivateKey
	if len(priv) > 0 {
		p = priv[0]
	}

	return func(opts *TxOptions) {
		opts.inputs = append(opts.inputs, input{tx: tx, vout: vout, privKey: p, sequenceNumber: wire.MaxTxInSequenceNum})
	}
}

// WithCoinbaseData makes the transaction a coinbase committing to blockHeight.
func WithCoinbaseData(blockHeight int32, minerInfo string) TxOption {
	return func(opts *TxOptions) {
		opts.isCoinbase = true

		script, _ := txscript.NewScriptBuilder().
			AddInt64(int64(blockHeight)).
			AddData([]byte(minerInfo)).
			Script()

		opts.inputs = append(opts.inputs, input{
			sequenceNumber:  wire.MaxTxInSequenceNum,
			unlockingScript: script,
		})
	}
}

// WithOpReturnData adds an unspendable data output.
func WithOpReturnData(data []byte) TxOption {
	return func(opts *TxOptions) {
		script, _ := txscript.NullDataScript(data)
		opts.outputs = append(opts.outputs, output{script: script, amount: 0})
	}
}

func WithOutput(amount int64, script []byte) TxOption {
	return func(opts *TxOptions) {
		opts.outputs = append(opts.outputs, output{script: script, amount: amount})
	}
}

// WithP2PKHOutputs adds numOutputs pay-to-pubkey-hash outputs of amount each.
func WithP2PKHOutputs(numOutputs int, amount int64, pubKey ...*btcec.PublicKey) TxOption {
	var p *btcec.PublicKey
	if len(pubKey) > 0 {
		p = pubKey[0]
	}

	return func(opts *TxOptions) {
		for i := 0; i < numOutputs; i++ {
			opts.outputs = append(opts.outputs, output{pubKey: p, amount: amount})
		}
	}
}

func WithVersion(version int32) TxOption {
	return func(opts *TxOptions) {
		opts.version = version
	}
}

func WithLockTime(lockTime uint32) TxOption {
	return func(opts *TxOptions) {
		opts.lockTime = lockTime
	}
}

// WithSequence sets the sequence number of every non-coinbase input.
func WithSequence(sequence uint32) TxOption {
	return func(opts *TxOptions) {
		opts.sequence = &sequence
	}
}

// Create creates a new transaction with configurable options. Non-coinbase inputs are signed
// with SIGHASH_ALL against the P2PKH or P2WPKH output they spend.
func Create(t testing.TB, options ...TxOption) *wire.MsgTx {
	opts := &TxOptions{version: 1}

	for _, option := range options {
		option(opts)
	}

	require.GreaterOrEqual(t, len(opts.inputs), 1, "No inputs - need at least one input")
	require.GreaterOrEqual(t, len(opts.outputs), 1, "No outputs - need at least one output")

	tx := wire.NewMsgTx(opts.version)
	tx.LockTime = opts.lockTime

	var totalAmount int64

	for _, in := range opts.inputs {
		if in.tx == nil {
			tx.AddTxIn(&wire.TxIn{
				PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{}, Index: wire.MaxPrevOutIndex},
				SignatureScript:  in.unlockingScript,
				Sequence:         in.sequenceNumber,
			})

			continue
		}

		require.Less(t, int(in.vout), len(in.tx.TxOut), "input spends missing output %d", in.vout)

		sequence := in.sequenceNumber
		if opts.sequence != nil {
			sequence = *opts.sequence
		}

		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Hash: in.tx.TxHash(), Index: in.vout},
			Sequence:         sequence,
		})

		totalAmount += in.tx.TxOut[in.vout].Value
	}

	for _, out := range opts.outputs {
		if !opts.isCoinbase {
			require.GreaterOrEqual(t, totalAmount, out.amount, "output amount %d is greater than remaining input amount %d", out.amount, totalAmount)
		}

		script := out.script

		if script == nil {
			pubKey := out.pubKey
			if pubKey == nil {
				require.NotNil(t, opts.fallbackPrivKey, "no public key provided for output and no default private key set")
				pubKey = opts.fallbackPrivKey.PubKey()
			}

			script = P2PKHScript(t, pubKey)
		}

		tx.AddTxOut(wire.NewTxOut(out.amount, script))

		totalAmount -= out.amount
	}

	if opts.isCoinbase {
		return tx
	}

	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range opts.inputs {
		prevOuts.AddPrevOut(tx.TxIn[i].PreviousOutPoint, in.tx.TxOut[in.vout])
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)

	for i, in := range opts.inputs {
		privKey := in.privKey
		if privKey == nil {
			require.NotNil(t, opts.fallbackPrivKey, "no private key provided for input and no default private key set")
			privKey = opts.fallbackPrivKey
		}

		spent := in.tx.TxOut[in.vout]

		if txscript.IsPayToWitnessPubKeyHash(spent.PkScript) {
			witness, err := txscript.WitnessSignature(tx, sigHashes, i, spent.Value, spent.PkScript, txscript.SigHashAll, privKey, true)
			require.NoError(t, err)

			tx.TxIn[i].Witness = witness

			continue
		}

		sigScript, err := txscript.SignatureScript(tx, i, spent.PkScript, txscript.SigHashAll, privKey, true)
		require.NoError(t, err)

		tx.TxIn[i].SignatureScript = sigScript
	}

	return tx
}
