package validator

import (
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// GetLegacySigOpCount counts the signature operations in the input and output scripts of tx
// without looking at the spent outputs.
func GetLegacySigOpCount(tx *wire.MsgTx) int {
	n := 0

	for _, in := range tx.TxIn {
		n += txscript.GetSigOpCount(in.SignatureScript)
	}

	for _, out := range tx.TxOut {
		n += txscript.GetSigOpCount(out.PkScript)
	}

	return n
}

// GetP2SHSigOpCount counts the signature operations in the redeem scripts of the
// pay-to-script-hash outputs spent by tx.
func GetP2SHSigOpCount(tx *wire.MsgTx, view coins.View) (int, error) {
	if model.IsCoinBase(tx) {
		return 0, nil
	}

	n := 0

	for _, in := range tx.TxIn {
		coin, err := spentCoin(view, in.PreviousOutPoint)
		if err != nil {
			return 0, err
		}

		if txscript.IsPayToScriptHash(coin.PkScript) {
			n += txscript.GetPreciseSigOpCount(in.SignatureScript, coin.PkScript, true)
		}
	}

	return n, nil
}

// GetTransactionSigOpCost returns the weighted signature operation cost of tx. Legacy and
// P2SH operations count WitnessScaleFactor times; witness operations count once.
func GetTransactionSigOpCost(tx *wire.MsgTx, view coins.View, flags txscript.ScriptFlags) (int64, error) {
	cost := int64(GetLegacySigOpCount(tx)) * blockchain.WitnessScaleFactor

	if model.IsCoinBase(tx) {
		return cost, nil
	}

	if flags&txscript.ScriptBip16 != 0 {
		p2sh, err := GetP2SHSigOpCount(tx, view)
		if err != nil {
			return 0, err
		}

		cost += int64(p2sh) * blockchain.WitnessScaleFactor
	}

	if flags&txscript.ScriptVerifyWitness == 0 {
		return cost, nil
	}

	for _, in := range tx.TxIn {
		coin, err := spentCoin(view, in.PreviousOutPoint)
		if err != nil {
			return 0, err
		}

		cost += int64(txscript.GetWitnessSigOpCount(in.SignatureScript, coin.PkScript, in.Witness))
	}

	return cost, nil
}

func spentCoin(view coins.View, outpoint wire.OutPoint) (*model.Coin, error) {
	coin, err := view.GetCoin(outpoint)
	if err != nil {
		return nil, errors.NewStorageError("failed to read coin %v", outpoint, err)
	}

	if coin == nil {
		return nil, errors.NewTxMissingInputsError("missing input %v", outpoint)
	}

	return coin, nil
}
