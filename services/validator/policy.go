/*
Package validator implements transaction validation for the chainstate engine.

This package provides the consensus checks shared by block connection and mempool
admission, the relay policy applied on top of them, and parallel script verification.

Key features:
  - Context-free transaction checks (CheckTransaction)
  - Input availability, maturity and fee checks (CheckTxInputs)
  - Finality and relative lock time evaluation
  - Signature operation cost accounting
  - Standardness policy for relayed transactions
  - Script verification through a worker queue with an execution cache

Usage:

	tv := NewTxValidator(logger, tSettings)
	defer tv.Stop()

	if err := CheckTransaction(tx, params); err != nil {
		return err
	}

	control := tv.NewControl(ctx)
	err := tv.CheckInputs(tx, view, flags, flags, true, control)
*/
package validator

import (
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// maxStandardVersion is the highest transaction version relayed.
	maxStandardVersion = 2

	// maxStandardMultisigKeys bounds bare multisig outputs.
	maxStandardMultisigKeys = 3

	// dustThresholdFeeRate is the fee rate in satoshis per kilobyte assumed by mempool.GetDustThreshold.
	dustThresholdFeeRate = 3000
)

// IsStandardTx applies the relay policy to the structure of tx: version, weight, signature
// scripts and output templates. Contract outputs are standard.
func IsStandardTx(tx *wire.MsgTx, policy *settings.PolicySettings) error {
	if tx.Version < 1 || tx.Version > maxStandardVersion {
		return errors.NewTxPolicyError(errors.RejectNonstandard, "version", "version %d", tx.Version)
	}

	if weight := model.TxWeight(tx); weight > policy.MaxStandardTxWeight {
		return errors.NewTxPolicyError(errors.RejectNonstandard, "tx-size", "weight %d > %d", weight, policy.MaxStandardTxWeight)
	}

	for i, in := range tx.TxIn {
		if len(in.SignatureScript) > MaxStandardScriptSigSize {
			return errors.NewTxPolicyError(errors.RejectNonstandard, "scriptsig-size", "input %d script is %d bytes", i, len(in.SignatureScript))
		}

		if !txscript.IsPushOnlyScript(in.SignatureScript) {
			return errors.NewTxPolicyError(errors.RejectNonstandard, "scriptsig-not-pushonly", "input %d", i)
		}
	}

	dataOutputs := 0

	for i, out := range tx.TxOut {
		if model.IsContractScript(out.PkScript) {
			continue
		}

		switch txscript.GetScriptClass(out.PkScript) {
		case txscript.NonStandardTy, txscript.WitnessUnknownTy:
			return errors.NewTxPolicyError(errors.RejectNonstandard, "scriptpubkey", "output %d", i)
		case txscript.NullDataTy:
			if len(out.PkScript) > policy.DataCarrierSize {
				return errors.NewTxPolicyError(errors.RejectNonstandard, "scriptpubkey", "output %d carries %d bytes", i, len(out.PkScript))
			}

			dataOutputs++

			continue
		case txscript.MultiSigTy:
			if !policy.PermitBareMultisig {
				return errors.NewTxPolicyError(errors.RejectNonstandard, "bare-multisig", "output %d", i)
			}

			keys, _, err := txscript.CalcMultiSigStats(out.PkScript)
			if err != nil || keys > maxStandardMultisigKeys {
				return errors.NewTxPolicyError(errors.RejectNonstandard, "scriptpubkey", "output %d multisig", i)
			}
		}

		if IsDust(out, policy.DustRelayFee) {
			return errors.NewTxPolicyError(errors.RejectDust, "dust", "output %d value %d", i, out.Value)
		}
	}

	if dataOutputs > 1 {
		return errors.NewTxPolicyError(errors.RejectNonstandard, "multi-op-return", "%d data outputs", dataOutputs)
	}

	return nil
}

// AreInputsStandard checks that every output spent by tx is of a standard template and that
// pay-to-script-hash redeem scripts stay within the signature operation limit.
func AreInputsStandard(tx *wire.MsgTx, view coins.View) error {
	if model.IsCoinBase(tx) {
		return nil
	}

	for i, in := range tx.TxIn {
		coin, err := spentCoin(view, in.PreviousOutPoint)
		if err != nil {
			return err
		}

		switch txscript.GetScriptClass(coin.PkScript) {
		case txscript.NonStandardTy, txscript.WitnessUnknownTy:
			return errors.NewTxPolicyError(errors.RejectNonstandard, "bad-txns-nonstandard-inputs", "input %d spends a non-standard output", i)
		case txscript.ScriptHashTy:
			if txscript.GetPreciseSigOpCount(in.SignatureScript, coin.PkScript, true) > MaxP2SHSigOps {
				return errors.NewTxPolicyError(errors.RejectNonstandard, "bad-txns-nonstandard-inputs", "input %d redeem script has too many sigops", i)
			}
		}
	}

	return nil
}

// IsDust reports whether out is worth less than the fee needed to spend it at dustRelayFee
// satoshis per kilobyte. Unspendable outputs are never dust.
func IsDust(out *wire.TxOut, dustRelayFee int64) bool {
	if txscript.IsUnspendable(out.PkScript) {
		return false
	}

	return out.Value < mempool.GetDustThreshold(out)*dustRelayFee/dustThresholdFeeRate
}

// GetMinRelayFee returns the fee a transaction of size bytes must pay to be relayed. Small
// transactions are free when allowFree is set.
func GetMinRelayFee(size int64, allowFree bool, policy *settings.PolicySettings, maxMoney int64) int64 {
	fee := policy.MinRelayTxFee * size / 1000

	if allowFree && size < int64(policy.BlockPrioritySize-1000) {
		fee = 0
	}

	if fee < 0 || fee > maxMoney {
		fee = maxMoney
	}

	return fee
}

// AllowFree reports whether a transaction with the given coin-age priority qualifies for free relay.
func AllowFree(priority float64, policy *settings.PolicySettings) bool {
	return priority > policy.AllowFreePriority
}
