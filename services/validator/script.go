package validator

import (
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Script error subcodes carried by SCRIPT_VERIFY errors.
const (
	ScriptErrBadSignature      = "bad-signature"
	ScriptErrMultisigThreshold = "multisig-threshold"
	ScriptErrEvalFalse         = "eval-false"
	ScriptErrException         = "exception"
	ScriptErrUnknown           = "unknown"
)

// MandatoryScriptFlags are the flags every block enforces since genesis.
const MandatoryScriptFlags = txscript.ScriptBip16

// StandardScriptFlags are enforced on transactions entering the mempool.
const StandardScriptFlags = txscript.StandardVerifyFlags

// GetBlockScriptFlags returns the script verification flags active for a block at height.
func GetBlockScriptFlags(params *chaincfg.Params, height int32) txscript.ScriptFlags {
	flags := MandatoryScriptFlags

	if height >= params.BIP0066Height {
		flags |= txscript.ScriptVerifyDERSignatures
	}

	if height >= params.BIP0065Height {
		flags |= txscript.ScriptVerifyCheckLockTimeVerify
	}

	if height >= params.CSVHeight {
		flags |= txscript.ScriptVerifyCheckSequenceVerify
	}

	if height >= params.WitnessHeight {
		flags |= txscript.ScriptVerifyWitness | txscript.ScriptStrictMultiSig
	}

	return flags
}

// ScriptCheck verifies one input of a transaction against the output it spends. A failure
// that still passes under MandatoryFlags is non-standard rather than invalid; block connection
// passes its own flags as mandatory, so every failure there is invalid.
type ScriptCheck struct {
	Tx             *wire.MsgTx
	InputIndex     int
	PkScript       []byte
	Amount         int64
	Flags          txscript.ScriptFlags
	MandatoryFlags txscript.ScriptFlags
	CacheStore     bool

	// wtxID commits to the witness as well; CheckInputs fills it once per transaction
	wtxID chainhash.Hash

	sigCache    *txscript.SigCache
	hashCache   *txscript.TxSigHashes
	prevOuts    txscript.PrevOutputFetcher
	scriptCache *ScriptCache
}

// Execute runs the input script. A successful check is remembered in the script cache when
// CacheStore is set, and a cached check is skipped.
func (c *ScriptCheck) Execute() error {
	initPrometheusMetrics()

	var key scriptCacheKey
	if c.scriptCache != nil {
		if c.wtxID == (chainhash.Hash{}) {
			c.wtxID = c.Tx.WitnessHash()
		}

		key = newScriptCacheKey(c.wtxID, c.InputIndex, c.PkScript, c.Amount, c.Flags)
		if c.scriptCache.Contains(key) {
			prometheusScriptCacheHits.Inc()
			return nil
		}
	}

	start := time.Now()
	defer func() {
		prometheusScriptCheck.Observe(time.Since(start).Seconds())
	}()

	err := c.run(c.Flags)
	if err == nil {
		if c.scriptCache != nil && c.CacheStore {
			c.scriptCache.Add(key)
		}

		return nil
	}

	prometheusScriptCheckFailures.Inc()

	subcode := scriptErrorSubcode(err)

	mandatory := (c.MandatoryFlags | MandatoryScriptFlags) & c.Flags

	if c.Flags&^mandatory != 0 {
		if mandatoryErr := c.run(mandatory); mandatoryErr == nil {
			return errors.NewScriptVerifyError(0, c.InputIndex, subcode, "non-mandatory-script-verify-flag (%s)", err.Error())
		}
	}

	return errors.NewScriptVerifyError(dosMax, c.InputIndex, subcode, "mandatory-script-verify-flag-failed (%s)", err.Error())
}

func (c *ScriptCheck) run(flags txscript.ScriptFlags) error {
	prevOuts := c.prevOuts
	if prevOuts == nil {
		prevOuts = txscript.NewCannedPrevOutputFetcher(c.PkScript, c.Amount)
	}

	hashCache := c.hashCache
	if hashCache == nil {
		hashCache = txscript.NewTxSigHashes(c.Tx, prevOuts)
	}

	engine, err := txscript.NewEngine(c.PkScript, c.Tx, c.InputIndex, flags, c.sigCache, hashCache, c.Amount, prevOuts)
	if err != nil {
		return err
	}

	return engine.Execute()
}

// scriptErrorSubcode maps an engine error to the subcode reported to callers.
func scriptErrorSubcode(err error) string {
	var scriptErr txscript.Error
	if !errors.As(err, &scriptErr) {
		return ScriptErrUnknown
	}

	switch scriptErr.ErrorCode {
	case txscript.ErrNullFail,
		txscript.ErrCheckSigVerify,
		txscript.ErrSigTooShort,
		txscript.ErrSigTooLong,
		txscript.ErrSigHighS,
		txscript.ErrInvalidSigHashType:
		return ScriptErrBadSignature
	case txscript.ErrCheckMultiSigVerify,
		txscript.ErrInvalidSignatureCount,
		txscript.ErrInvalidPubKeyCount,
		txscript.ErrSigNullDummy:
		return ScriptErrMultisigThreshold
	case txscript.ErrEvalFalse,
		txscript.ErrEmptyStack:
		return ScriptErrEvalFalse
	default:
		return ScriptErrException
	}
}
