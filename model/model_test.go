package model

import (
	"bytes"
	"sort"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coinbaseTx(value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  []byte{0x51, 0x01, 0x01},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(value, []byte{0x51}))

	return tx
}

func spendTx(prev chainhash.Hash, witness bool) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	in := wire.NewTxIn(wire.NewOutPoint(&prev, 0), []byte{0x51}, nil)
	if witness {
		in.Witness = wire.TxWitness{[]byte{0x01, 0x02}, []byte{0x03}}
	}
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))

	return tx
}

func testHeader() *BlockHeader {
	return &BlockHeader{
		Version:        4,
		HashPrevBlock:  &chainhash.Hash{0x01},
		HashMerkleRoot: &chainhash.Hash{0x02},
		Timestamp:      1_700_000_000,
		Bits:           0x207fffff,
		Nonce:          42,
		HashStateRoot:  &chainhash.Hash{0x03},
	}
}

func TestBlockHeaderRoundTrip(t *testing.T) {
	h := testHeader()

	b := h.Bytes()
	require.Len(t, b, BlockHeaderSize)

	h2, err := NewBlockHeaderFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, h, h2)
	assert.Equal(t, h.Hash(), h2.Hash())

	_, err = NewBlockHeaderFromBytes(b[:80])
	require.Error(t, err)
}

func TestBlockHeaderStateRootAffectsHash(t *testing.T) {
	h := testHeader()
	h2 := testHeader()
	h2.HashStateRoot = &chainhash.Hash{0x04}

	assert.NotEqual(t, h.Hash(), h2.Hash())
}

func TestBlockRoundTripWithWitness(t *testing.T) {
	cb := coinbaseTx(50)
	tx := spendTx(cb.TxHash(), true)

	block := NewBlock(testHeader(), []*wire.MsgTx{cb, tx})
	block.Signature = []byte{0xde, 0xad}

	b, err := block.Bytes()
	require.NoError(t, err)
	assert.Len(t, b, block.SerializeSize())

	block2, err := NewBlockFromBytes(b)
	require.NoError(t, err)
	require.Len(t, block2.Transactions, 2)
	assert.Equal(t, block.Hash(), block2.Hash())
	assert.Equal(t, tx.WitnessHash(), block2.Transactions[1].WitnessHash())
	assert.Equal(t, []byte{0xde, 0xad}, block2.Signature)
	assert.True(t, block2.HasWitness())

	base, err := block.BaseBytes()
	require.NoError(t, err)
	assert.Len(t, base, block.StrippedSize())
	assert.Less(t, block.StrippedSize(), block.SerializeSize())
	assert.Equal(t, int64(block.StrippedSize()*3+block.SerializeSize()), block.Weight())
}

func TestBlockMerkleRoot(t *testing.T) {
	cb := coinbaseTx(50)
	block := NewBlock(testHeader(), []*wire.MsgTx{cb})

	// a single transaction is its own merkle root
	assert.Equal(t, cb.TxHash(), block.CalcMerkleRoot(false))

	block.Transactions = append(block.Transactions, spendTx(cb.TxHash(), false))
	root := block.CalcMerkleRoot(false)
	assert.NotEqual(t, cb.TxHash(), root)
}

func TestCoinStakeDetection(t *testing.T) {
	cb := coinbaseTx(0)
	assert.True(t, IsCoinBase(cb))
	assert.False(t, IsCoinStake(cb))

	stake := wire.NewMsgTx(2)
	stake.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0x09}, 1), nil, nil))
	stake.AddTxOut(wire.NewTxOut(0, nil))
	stake.AddTxOut(wire.NewTxOut(100, []byte{0x51}))

	assert.True(t, IsCoinStake(stake))
	assert.False(t, IsCoinBase(stake))

	block := NewBlock(testHeader(), []*wire.MsgTx{cb, stake})
	assert.True(t, block.IsProofOfStake())
}

func TestContractScriptDetection(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(0, []byte{0x01, 0x04, OpCreate}))
	assert.True(t, HasContractOutput(tx))
	assert.True(t, HasCreate(tx))

	tx2 := wire.NewMsgTx(2)
	tx2.AddTxOut(wire.NewTxOut(0, []byte{0x01, 0x04, OpCall}))
	assert.True(t, HasContractOutput(tx2))
	assert.False(t, HasCreate(tx2))

	tx2.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, []byte{OpSpend}, nil))
	assert.True(t, HasOpSpend(tx2))
}

func TestCoinSerialization(t *testing.T) {
	tests := []*Coin{
		{Value: 5000, PkScript: []byte{0x76, 0xa9}, Height: 1},
		{Value: 0, PkScript: []byte{}, Height: 0, IsCoinBase: true},
		{Value: 21_000_000 * 1e8, PkScript: bytes.Repeat([]byte{0xab}, 300), Height: 1_000_000, IsCoinStake: true},
	}

	for _, c := range tests {
		c2, err := NewCoinFromBytes(c.Bytes())
		require.NoError(t, err)
		assert.Equal(t, c, c2)
	}

	_, err := NewCoinFromBytes([]byte{0x04, 0x01, 0x50})
	require.Error(t, err, "script length beyond buffer")
}

func TestCoinMaturity(t *testing.T) {
	c := &Coin{IsCoinBase: true, Height: 100}
	assert.False(t, c.IsMature(178, 79))
	assert.True(t, c.IsMature(179, 79))

	plain := &Coin{Height: 100}
	assert.True(t, plain.IsMature(100, 79))
}

func TestBlockUndoRoundTrip(t *testing.T) {
	u := &BlockUndo{
		TxUndo: []TxUndo{
			{PrevOuts: []*Coin{{Value: 1, PkScript: []byte{0x51}, Height: 3, IsCoinBase: true}}},
			{PrevOuts: []*Coin{{Value: 2, PkScript: []byte{0x52}, Height: 4}, {Value: 3, PkScript: []byte{}, Height: 5}}},
		},
		ContractOutpoints: []wire.OutPoint{{Hash: chainhash.Hash{0x07}, Index: 300}},
		PrevStateRoot:     chainhash.Hash{0x08},
	}

	b, err := u.Bytes()
	require.NoError(t, err)

	u2, err := NewBlockUndoFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, u, u2)

	_, err = NewBlockUndoFromBytes(b[:len(b)-1])
	require.Error(t, err)
}

func TestDiskPosOrdering(t *testing.T) {
	a := ExtDiskTxPos{DiskTxPos: DiskTxPos{DiskBlockPos: DiskBlockPos{File: 2, Pos: 10}, TxOffset: 5}, Height: 1}
	b := ExtDiskTxPos{DiskTxPos: DiskTxPos{DiskBlockPos: DiskBlockPos{File: 0, Pos: 0}, TxOffset: 0}, Height: 2}
	c := ExtDiskTxPos{DiskTxPos: DiskTxPos{DiskBlockPos: DiskBlockPos{File: 0, Pos: 0}, TxOffset: 9}, Height: 2}
	d := ExtDiskTxPos{DiskTxPos: DiskTxPos{DiskBlockPos: DiskBlockPos{File: 1, Pos: 0}, TxOffset: 0}, Height: 2}

	positions := []ExtDiskTxPos{d, c, b, a}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Less(positions[j]) })

	assert.Equal(t, []ExtDiskTxPos{a, b, c, d}, positions)
	assert.False(t, a.Less(a))
}

func TestDiskPosSerialization(t *testing.T) {
	p := ExtDiskTxPos{DiskTxPos: DiskTxPos{DiskBlockPos: DiskBlockPos{File: 3, Pos: 70000}, TxOffset: 129}, Height: 500}

	p2, err := NewExtDiskTxPosFromBytes(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, p, p2)

	null, err := NewDiskBlockPosFromBytes(NullDiskBlockPos.Bytes())
	require.NoError(t, err)
	assert.True(t, null.IsNull())

	txPos, err := NewDiskTxPosFromBytes(p.DiskTxPos.Bytes())
	require.NoError(t, err)
	assert.Equal(t, p.DiskTxPos, txPos)
}

func TestHeightTxIndexKey(t *testing.T) {
	k := HeightTxIndexKey{Height: 0x01020304}
	k.Address[0] = 0xaa
	k.Address[19] = 0xbb

	b := k.Bytes()
	require.Len(t, b, 24)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0xaa}, b[:5])

	k2, err := NewHeightTxIndexKeyFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, k, k2)

	it := HeightTxIndexIteratorKey{Height: 0x01020304}
	assert.Equal(t, b[:4], it.Bytes())

	// keys of lower heights sort first byte-wise
	lower := HeightTxIndexKey{Height: 0x01020303}
	assert.Equal(t, -1, bytes.Compare(lower.Bytes(), b))
}
