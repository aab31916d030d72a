/*
Package validator implements transaction validation for the chainstate engine.

This file contains the TxValidator, which owns the shared signature cache, the script
execution cache and the script verification queue. Both block connection and mempool
admission use it to verify the scripts of the transactions they accept.

Script checks are built per input and either run inline or are handed to a Control,
which dispatches them to the CheckQueue workers and reports the first failing input
in block order once every dispatched check has completed.
*/
package validator

import (
	"context"
	"runtime"
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var zeroHash chainhash.Hash

// maxScriptThreads caps the number of script verification workers.
const maxScriptThreads = 16

// TxValidator verifies transaction scripts against the coins they spend.
type TxValidator struct {
	logger      ulogger.Logger
	settings    *settings.Settings
	params      *chaincfg.Params
	sigCache    *txscript.SigCache
	scriptCache *ScriptCache
	queue       *CheckQueue
}

// NewTxValidator creates a transaction validator with its own script verification workers.
// Parameters:
//   - logger: Logger instance for validation operations
//   - tSettings: Settings providing the network, policy and script queue configuration
//   - opts: Optional validator settings
//
// Returns:
//   - *TxValidator: The created transaction validator; call Stop to release its workers
func NewTxValidator(logger ulogger.Logger, tSettings *settings.Settings, opts ...TxValidatorOption) *TxValidator {
	initPrometheusMetrics()

	options := NewTxValidatorOptions(opts...)

	workers := tSettings.Chainstate.ScriptThreads
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	if workers > maxScriptThreads {
		workers = maxScriptThreads
	}

	if options.workerOverride != nil {
		workers = *options.workerOverride
	}

	tv := &TxValidator{
		logger:   logger,
		settings: tSettings,
		params:   tSettings.ChainCfgParams,
		sigCache: txscript.NewSigCache(options.sigCacheSize),
		queue:    NewCheckQueue(logger, workers, tSettings.Chainstate.ScriptQueueSize),
	}

	if !options.disableCache && tSettings.Chainstate.ScriptCacheSize > 0 {
		tv.scriptCache = NewScriptCache(tSettings.Chainstate.ScriptCacheSize, tSettings.Chainstate.ScriptCacheTTL)
	}

	return tv
}

// Params returns the network parameters the validator checks against.
func (tv *TxValidator) Params() *chaincfg.Params {
	return tv.params
}

// NewControl returns a Control dispatching to the validator's workers.
func (tv *TxValidator) NewControl(ctx context.Context) *Control {
	return tv.queue.NewControl(ctx)
}

// ScriptCache returns the script execution cache, or nil when disabled.
func (tv *TxValidator) ScriptCache() *ScriptCache {
	return tv.scriptCache
}

// Stop shuts down the script workers and the cache cleanup.
func (tv *TxValidator) Stop() error {
	if tv.scriptCache != nil {
		tv.scriptCache.Stop()
	}

	return tv.queue.Stop()
}

// CheckInputs verifies the scripts of every input of tx under flags. The spent coins must be
// available in view. When control is nil the checks run before CheckInputs returns; otherwise
// they are added to control and the caller collects the result with control.Wait.
// Successful checks are stored in the script cache when cacheStore is set.
//
// Parameters:
//   - flags: the flags the scripts are verified under
//   - mandatory: the consensus flags in force; a failure under them is invalid with DoS 100,
//     a failure only under the remaining flags is non-standard
func (tv *TxValidator) CheckInputs(tx *wire.MsgTx, view coins.View, flags, mandatory txscript.ScriptFlags, cacheStore bool, control *Control) error {
	if model.IsCoinBase(tx) {
		return nil
	}

	start := time.Now()
	defer func() {
		prometheusInputsChecked.Observe(time.Since(start).Seconds())
	}()

	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	spent := make([]*model.Coin, len(tx.TxIn))

	for i, in := range tx.TxIn {
		coin, err := spentCoin(view, in.PreviousOutPoint)
		if err != nil {
			return err
		}

		spent[i] = coin
		prevOuts.AddPrevOut(in.PreviousOutPoint, wire.NewTxOut(coin.Value, coin.PkScript))
	}

	hashCache := txscript.NewTxSigHashes(tx, prevOuts)
	wtxID := tx.WitnessHash()
	checks := make([]Check, len(tx.TxIn))

	for i := range tx.TxIn {
		checks[i] = &ScriptCheck{
			Tx:             tx,
			InputIndex:     i,
			PkScript:       spent[i].PkScript,
			Amount:         spent[i].Value,
			Flags:          flags,
			MandatoryFlags: mandatory,
			CacheStore:     cacheStore,
			wtxID:          wtxID,
			sigCache:       tv.sigCache,
			hashCache:      hashCache,
			prevOuts:       prevOuts,
			scriptCache:    tv.scriptCache,
		}
	}

	if control != nil {
		control.Add(checks...)
		return nil
	}

	for _, check := range checks {
		if err := check.Execute(); err != nil {
			prometheusInvalidTransactions.Inc()
			return err
		}
	}

	return nil
}

// CheckTransaction runs the context-free checks against the validator's network.
func (tv *TxValidator) CheckTransaction(tx *wire.MsgTx) error {
	if err := CheckTransaction(tx, tv.params); err != nil {
		prometheusInvalidTransactions.Inc()
		return err
	}

	return nil
}

// CheckInputsSigOps returns an error when the weighted signature operation cost of tx exceeds limit.
func CheckInputsSigOps(tx *wire.MsgTx, view coins.View, flags txscript.ScriptFlags, limit int64) (int64, error) {
	cost, err := GetTransactionSigOpCost(tx, view, flags)
	if err != nil {
		return 0, err
	}

	if cost > limit {
		return cost, errors.NewTxPolicyError(errors.RejectNonstandard, "bad-txns-too-many-sigops", "sigop cost %d > %d", cost, limit)
	}

	return cost, nil
}
