package model

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Contract opcodes. They occupy otherwise unused opcode space and are only
// interpreted by the contract bridge.
const (
	OpCreate = 0xc1
	OpCall   = 0xc2
	OpSpend  = 0xc3
)

// IsCoinBase reports whether tx has a single null-prevout input.
func IsCoinBase(tx *wire.MsgTx) bool {
	return blockchain.IsCoinBaseTx(tx)
}

// IsCoinStake reports whether tx is a proof-of-stake reward transaction: it
// spends real inputs and its first output is empty.
func IsCoinStake(tx *wire.MsgTx) bool {
	if len(tx.TxIn) == 0 || len(tx.TxOut) < 2 {
		return false
	}

	if isNullOutPoint(&tx.TxIn[0].PreviousOutPoint) {
		return false
	}

	return tx.TxOut[0].Value == 0 && len(tx.TxOut[0].PkScript) == 0
}

func isNullOutPoint(op *wire.OutPoint) bool {
	return op.Index == wire.MaxPrevOutIndex && op.Hash == zeroHash
}

// HasContractOutput reports whether any output ends in OP_CREATE or OP_CALL.
func HasContractOutput(tx *wire.MsgTx) bool {
	for _, out := range tx.TxOut {
		if IsContractScript(out.PkScript) {
			return true
		}
	}

	return false
}

// HasCreate reports whether any output ends in OP_CREATE.
func HasCreate(tx *wire.MsgTx) bool {
	for _, out := range tx.TxOut {
		if n := len(out.PkScript); n > 0 && out.PkScript[n-1] == OpCreate {
			return true
		}
	}

	return false
}

// HasOpSpend reports whether any input script is the contract spend marker.
func HasOpSpend(tx *wire.MsgTx) bool {
	for _, in := range tx.TxIn {
		if len(in.SignatureScript) == 1 && in.SignatureScript[0] == OpSpend {
			return true
		}
	}

	return false
}

// IsContractScript reports whether pkScript is a contract create or call script.
func IsContractScript(pkScript []byte) bool {
	n := len(pkScript)
	return n > 0 && (pkScript[n-1] == OpCreate || pkScript[n-1] == OpCall)
}

// TxWeight returns the weight of tx: base size times three plus total size.
func TxWeight(tx *wire.MsgTx) int64 {
	return blockchain.GetTransactionWeight(btcutil.NewTx(tx))
}

// TxVirtualSize is the weight rounded up to whole virtual bytes.
func TxVirtualSize(tx *wire.MsgTx) int64 {
	return (TxWeight(tx) + blockchain.WitnessScaleFactor - 1) / blockchain.WitnessScaleFactor
}
