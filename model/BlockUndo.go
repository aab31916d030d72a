package model

import (
	"bytes"
	"io"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TxUndo holds the coins spent by one transaction, in input order.
type TxUndo struct {
	PrevOuts []*Coin
}

// BlockUndo is everything needed to disconnect a block: the coins spent by each
// non-coinbase transaction in block order, the outpoints created by contract
// execution, and the contract state root before the block was applied.
type BlockUndo struct {
	TxUndo            []TxUndo
	ContractOutpoints []wire.OutPoint
	PrevStateRoot     chainhash.Hash
}

func (u *BlockUndo) Bytes() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := u.Write(buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (u *BlockUndo) Write(w io.Writer) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(u.TxUndo))); err != nil {
		return err
	}

	for _, txUndo := range u.TxUndo {
		if err := wire.WriteVarInt(w, 0, uint64(len(txUndo.PrevOuts))); err != nil {
			return err
		}

		for _, coin := range txUndo.PrevOuts {
			if err := coin.Write(w); err != nil {
				return err
			}
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(u.ContractOutpoints))); err != nil {
		return err
	}

	for _, op := range u.ContractOutpoints {
		if _, err := w.Write(op.Hash[:]); err != nil {
			return err
		}

		if err := wire.WriteVarInt(w, 0, uint64(op.Index)); err != nil {
			return err
		}
	}

	_, err := w.Write(u.PrevStateRoot[:])

	return err
}

func NewBlockUndoFromBytes(b []byte) (*BlockUndo, error) {
	r := bytes.NewReader(b)
	u := &BlockUndo{}

	txCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, errors.NewStorageCorruptionError("error reading undo tx count", err)
	}

	if txCount > uint64(r.Len()) {
		return nil, errors.NewStorageCorruptionError("undo tx count %d out of range", txCount)
	}

	u.TxUndo = make([]TxUndo, txCount)

	for i := range u.TxUndo {
		coinCount, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, errors.NewStorageCorruptionError("error reading undo coin count", err)
		}

		if coinCount > uint64(r.Len()) {
			return nil, errors.NewStorageCorruptionError("undo coin count %d out of range", coinCount)
		}

		u.TxUndo[i].PrevOuts = make([]*Coin, coinCount)
		for j := range u.TxUndo[i].PrevOuts {
			if u.TxUndo[i].PrevOuts[j], err = ReadCoin(r); err != nil {
				return nil, err
			}
		}
	}

	opCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, errors.NewStorageCorruptionError("error reading contract outpoint count", err)
	}

	if opCount > uint64(r.Len()) {
		return nil, errors.NewStorageCorruptionError("contract outpoint count %d out of range", opCount)
	}

	u.ContractOutpoints = make([]wire.OutPoint, opCount)
	for i := range u.ContractOutpoints {
		if _, err = io.ReadFull(r, u.ContractOutpoints[i].Hash[:]); err != nil {
			return nil, errors.NewStorageCorruptionError("error reading contract outpoint", err)
		}

		idx, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, errors.NewStorageCorruptionError("error reading contract outpoint index", err)
		}

		u.ContractOutpoints[i].Index = uint32(idx)
	}

	if _, err = io.ReadFull(r, u.PrevStateRoot[:]); err != nil {
		return nil, errors.NewStorageCorruptionError("error reading previous state root", err)
	}

	return u, nil
}
