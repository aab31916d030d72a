package model

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockIndexRecord is the persisted form of a block index node.
type BlockIndexRecord struct {
	Hash         chainhash.Hash
	PrevHash     chainhash.Hash
	Height       int32
	ChainWork    *big.Int
	Status       uint32
	Version      int32
	Timestamp    uint32
	Bits         uint32
	Nonce        uint32
	MerkleRoot   chainhash.Hash
	StateRoot    chainhash.Hash
	DataPos      DiskBlockPos
	UndoPos      DiskBlockPos
	TxCount      uint32
	SequenceID   int64
	ProofOfStake bool
}

// Header rebuilds the block header the record was created from.
func (r *BlockIndexRecord) Header() *BlockHeader {
	prev := r.PrevHash
	merkle := r.MerkleRoot
	state := r.StateRoot

	return &BlockHeader{
		Version:        r.Version,
		HashPrevBlock:  &prev,
		HashMerkleRoot: &merkle,
		Timestamp:      r.Timestamp,
		Bits:           r.Bits,
		Nonce:          r.Nonce,
		HashStateRoot:  &state,
	}
}
