package blockfile

import (
	"os"
	"testing"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMagic = wire.BitcoinNet(0xdab5bffb)

func testBlock(nonce uint32, txs int) *model.Block {
	var transactions []*wire.MsgTx

	for i := 0; i < txs; i++ {
		tx := wire.NewMsgTx(1)
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{byte(i + 1)}, Index: nonce}, []byte{0x51}, nil))
		tx.AddTxOut(wire.NewTxOut(int64(1000*(i+1)), []byte{0x51}))
		transactions = append(transactions, tx)
	}

	block := model.NewBlock(&model.BlockHeader{
		Version:        1,
		HashPrevBlock:  &chainhash.Hash{},
		HashMerkleRoot: &chainhash.Hash{},
		Timestamp:      1_700_000_000,
		Bits:           0x207fffff,
		Nonce:          nonce,
		HashStateRoot:  &chainhash.Hash{},
	}, transactions)

	merkle := block.CalcMerkleRoot(false)
	block.Header.HashMerkleRoot = &merkle

	return block
}

func TestStore_BlockRoundTrip(t *testing.T) {
	store, err := New(ulogger.TestLogger{}, t.TempDir(), testMagic, 1<<20)
	require.NoError(t, err)

	block := testBlock(1, 3)

	pos, err := store.WriteBlock(block, 5)
	require.NoError(t, err)
	assert.Equal(t, model.DiskBlockPos{File: 0, Pos: frameHeaderSize}, pos)

	read, err := store.ReadBlock(pos)
	require.NoError(t, err)
	assert.Equal(t, block.Hash(), read.Hash())
	assert.Len(t, read.Transactions, 3)

	for i, txPos := range TxPositions(block, pos) {
		tx, blockHash, err := store.ReadTransaction(txPos)
		require.NoError(t, err)
		assert.Equal(t, block.Transactions[i].TxHash(), tx.TxHash())
		assert.Equal(t, *block.Hash(), blockHash)
	}
}

func TestStore_RollsOverToNewFile(t *testing.T) {
	dir := t.TempDir()

	block := testBlock(1, 1)
	size := int64(frameHeaderSize + block.SerializeSize())

	store, err := New(ulogger.TestLogger{}, dir, testMagic, size*2)
	require.NoError(t, err)

	var positions []model.DiskBlockPos

	for i := uint32(0); i < 3; i++ {
		pos, err := store.WriteBlock(testBlock(i, 1), i)
		require.NoError(t, err)

		positions = append(positions, pos)
	}

	assert.Equal(t, int32(0), positions[1].File)
	assert.Equal(t, int32(1), positions[2].File)
	assert.Equal(t, int32(1), store.LastFile())

	info, ok := store.FileInfo(0)
	require.True(t, ok)
	assert.Equal(t, 2, info.Blocks)
	assert.Equal(t, uint32(1), info.HeightMax)

	// reopening resumes at the end of the last file
	reopened, err := New(ulogger.TestLogger{}, dir, testMagic, size*2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), reopened.LastFile())

	pos, err := reopened.WriteBlock(testBlock(9, 1), 9)
	require.NoError(t, err)
	assert.Equal(t, model.DiskBlockPos{File: 1, Pos: uint32(size + frameHeaderSize)}, pos)

	pos, err = reopened.WriteBlock(testBlock(10, 1), 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), pos.File)
}

func TestStore_UndoChecksum(t *testing.T) {
	dir := t.TempDir()

	store, err := New(ulogger.TestLogger{}, dir, testMagic, 1<<20)
	require.NoError(t, err)

	block := testBlock(1, 1)
	blockPos, err := store.WriteBlock(block, 1)
	require.NoError(t, err)

	undo := &model.BlockUndo{
		TxUndo:            []model.TxUndo{{PrevOuts: []*model.Coin{{Value: 10, PkScript: []byte{0x51}, Height: 3}}}},
		ContractOutpoints: []wire.OutPoint{{Hash: chainhash.Hash{7}, Index: 1}},
		PrevStateRoot:     chainhash.Hash{8},
	}

	pos, err := store.WriteUndo(undo, *block.Hash(), blockPos.File)
	require.NoError(t, err)

	read, err := store.ReadUndo(pos, *block.Hash())
	require.NoError(t, err)
	assert.Equal(t, undo.PrevStateRoot, read.PrevStateRoot)
	assert.Equal(t, undo.ContractOutpoints, read.ContractOutpoints)
	require.Len(t, read.TxUndo, 1)
	assert.Equal(t, int64(10), read.TxUndo[0].PrevOuts[0].Value)

	_, err = store.ReadUndo(pos, chainhash.Hash{1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageCorruption))
}

func TestStore_BadMagic(t *testing.T) {
	dir := t.TempDir()

	store, err := New(ulogger.TestLogger{}, dir, testMagic, 1<<20)
	require.NoError(t, err)

	pos, err := store.WriteBlock(testBlock(1, 1), 1)
	require.NoError(t, err)

	other, err := New(ulogger.TestLogger{}, dir, wire.MainNet, 1<<20)
	require.NoError(t, err)

	_, err = other.ReadBlock(pos)
	assert.True(t, errors.Is(err, errors.ErrStorageCorruption))

	_, err = store.ReadBlock(model.NullDiskBlockPos)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	require.NoError(t, os.Remove(store.path(kindBlock, 0)))
	_, err = store.ReadBlock(pos)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
