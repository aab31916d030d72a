package chaincfg

import (
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// genesisCoinbaseTx is the coinbase transaction shared by every network's
// genesis block. Its output is unspendable; the genesis block is never connected.
func genesisCoinbaseTx() *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{}, Index: wire.MaxPrevOutIndex},
		SignatureScript: append([]byte{0x04, 0xff, 0xff, 0x00, 0x1d, 0x01, 0x04, 0x2c},
			[]byte("chainstate genesis: one chain to validate them")...),
		Sequence: wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    0,
		PkScript: []byte{0x6a}, // OP_RETURN
	})

	return tx
}

func newGenesisBlock(timestamp uint32, bits uint32, nonce uint32) *model.Block {
	coinbase := genesisCoinbaseTx()
	merkleRoot := coinbase.TxHash()
	stateRoot := EmptyStateRoot

	return model.NewBlock(&model.BlockHeader{
		Version:        1,
		HashPrevBlock:  &chainhash.Hash{},
		HashMerkleRoot: &merkleRoot,
		Timestamp:      timestamp,
		Bits:           bits,
		Nonce:          nonce,
		HashStateRoot:  &stateRoot,
	}, []*wire.MsgTx{coinbase})
}
