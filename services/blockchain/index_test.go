package blockchain

import (
	"context"
	"math/big"
	"testing"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	blockindex "github.com/bsv-blockchain/chainstate/stores/blockchain"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func childHeader(parent *Node, nonce uint32) *model.BlockHeader {
	prev := parent.Hash
	merkle := chainhash.Hash{byte(nonce)}

	return &model.BlockHeader{
		Version:        4,
		HashPrevBlock:  &prev,
		HashMerkleRoot: &merkle,
		Timestamp:      parent.Timestamp + 240,
		Bits:           parent.Bits,
		Nonce:          nonce,
		HashStateRoot:  &chainhash.Hash{},
	}
}

func newTestIndex(t *testing.T, params *chaincfg.Params) (*Index, *Node) {
	idx := NewIndex(ulogger.TestLogger{}, params)

	genesis, err := idx.AddHeader(params.GenesisBlock.Header, false)
	require.NoError(t, err)

	idx.SetHaveData(genesis, 1, model.DiskBlockPos{})

	return idx, genesis
}

// extend adds count headers on top of parent, storing block data for each when withData is set.
func extend(t *testing.T, idx *Index, parent *Node, count int, nonce uint32, withData bool) []*Node {
	nodes := make([]*Node, 0, count)

	for i := 0; i < count; i++ {
		n, err := idx.AddHeader(childHeader(parent, nonce+uint32(i)), false)
		require.NoError(t, err)

		if withData {
			idx.SetHaveData(n, 1, model.DiskBlockPos{File: 0, Pos: uint32(i)})
		}

		nodes = append(nodes, n)
		parent = n
	}

	return nodes
}

func TestIndex_AddHeader(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	idx, genesis := newTestIndex(t, params)

	assert.Equal(t, int32(0), genesis.Height)
	assert.Equal(t, NoNode, genesis.Parent)
	assert.Equal(t, *params.GenesisHash, genesis.Hash)

	t.Run("child", func(t *testing.T) {
		n, err := idx.AddHeader(childHeader(genesis, 1), false)
		require.NoError(t, err)
		assert.Equal(t, int32(1), n.Height)
		assert.Equal(t, genesis.ID, n.Parent)
		assert.Equal(t, StatusValidHeader, n.Status)
		assert.Equal(t, 1, n.ChainWork.Cmp(genesis.ChainWork))

		again, err := idx.AddHeader(childHeader(genesis, 1), false)
		require.NoError(t, err)
		assert.Same(t, n, again)
	})

	t.Run("orphan", func(t *testing.T) {
		prev := chainhash.Hash{0xab}
		_, err := idx.AddHeader(&model.BlockHeader{HashPrevBlock: &prev, Bits: params.PowLimitBits}, false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlockOrphan))
	})

	t.Run("second genesis", func(t *testing.T) {
		_, err := idx.AddHeader(&model.BlockHeader{Version: 9, Bits: params.PowLimitBits}, false)
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})
}

func TestIndex_Ancestor(t *testing.T) {
	idx, genesis := newTestIndex(t, &chaincfg.RegressionNetParams)
	nodes := extend(t, idx, genesis, 300, 0, false)
	tip := nodes[len(nodes)-1]

	for _, h := range []int32{0, 1, 2, 63, 64, 65, 127, 128, 200, 299, 300} {
		a := idx.Ancestor(tip, h)
		require.NotNil(t, a, "height %d", h)
		assert.Equal(t, h, a.Height)

		walk := tip
		for walk.Height > h {
			walk = idx.Parent(walk)
		}

		assert.Equal(t, walk.ID, a.ID, "height %d", h)
	}

	assert.Nil(t, idx.Ancestor(tip, 301))
	assert.Nil(t, idx.Ancestor(tip, -1))
}

func TestIndex_CandidatesRequireAllData(t *testing.T) {
	idx, genesis := newTestIndex(t, &chaincfg.RegressionNetParams)
	assert.Equal(t, genesis.ID, idx.FindBestCandidate().ID)

	nodes := extend(t, idx, genesis, 3, 10, false)

	// data arrives out of order
	idx.SetHaveData(nodes[2], 5, model.DiskBlockPos{Pos: 3})
	idx.SetHaveData(nodes[1], 4, model.DiskBlockPos{Pos: 2})
	assert.Equal(t, genesis.ID, idx.FindBestCandidate().ID)
	assert.Zero(t, nodes[2].ChainTxCount)

	idx.SetHaveData(nodes[0], 3, model.DiskBlockPos{Pos: 1})
	assert.Equal(t, nodes[2].ID, idx.FindBestCandidate().ID)
	assert.Equal(t, uint64(1+3+4+5), nodes[2].ChainTxCount)
	assert.Equal(t, StatusValidTransactions, nodes[2].Status.Validity())
}

func TestIndex_BestCandidateTieBreak(t *testing.T) {
	idx, genesis := newTestIndex(t, &chaincfg.RegressionNetParams)

	a := extend(t, idx, genesis, 2, 100, true)
	b := extend(t, idx, genesis, 2, 200, true)

	// equal work, a's data was seen first
	assert.Equal(t, 0, a[1].ChainWork.Cmp(b[1].ChainWork))
	assert.Equal(t, a[1].ID, idx.FindBestCandidate().ID)

	// more work always wins
	c := extend(t, idx, b[1], 1, 300, true)
	assert.Equal(t, c[0].ID, idx.FindBestCandidate().ID)

	t.Run("hash breaks sequence ties", func(t *testing.T) {
		low := &Node{ChainWork: big.NewInt(5), SequenceID: 7, Hash: chainhash.Hash{0x01}}
		high := &Node{ChainWork: big.NewInt(5), SequenceID: 7, Hash: chainhash.Hash{31: 0x01}}
		assert.True(t, low.BetterThan(high))
		assert.False(t, high.BetterThan(low))
	})
}

func TestIndex_MarkFailedAndClear(t *testing.T) {
	idx, genesis := newTestIndex(t, &chaincfg.RegressionNetParams)

	main := extend(t, idx, genesis, 3, 0, true)
	side := extend(t, idx, genesis, 2, 50, true)

	idx.MarkFailed(main[1])

	assert.True(t, main[1].Status&StatusFailedValid != 0)
	assert.True(t, main[2].Status&StatusFailedChild != 0)
	assert.False(t, main[0].Status.IsFailed())
	assert.Equal(t, side[1].ID, idx.FindBestCandidate().ID)

	// a header arriving on a failed branch inherits the failure
	late, err := idx.AddHeader(childHeader(main[2], 99), false)
	require.NoError(t, err)
	assert.True(t, late.Status&StatusFailedChild != 0)

	// failed nodes cannot move up the ladder
	assert.False(t, idx.RaiseValidity(main[2], StatusValidScripts))

	idx.ClearFailed(main[1])

	assert.False(t, main[1].Status.IsFailed())
	assert.False(t, main[2].Status.IsFailed())
	assert.False(t, late.Status.IsFailed())
	assert.Equal(t, main[2].ID, idx.FindBestCandidate().ID)
}

func TestIndex_PruneAndRebuildCandidates(t *testing.T) {
	idx, genesis := newTestIndex(t, &chaincfg.RegressionNetParams)
	nodes := extend(t, idx, genesis, 3, 0, true)

	idx.PruneCandidates(nodes[2])
	assert.Equal(t, nodes[2].ID, idx.FindBestCandidate().ID)

	idx.MarkFailed(nodes[2])
	assert.Nil(t, idx.FindBestCandidate())

	idx.RebuildCandidates(nodes[1])
	assert.Equal(t, nodes[1].ID, idx.FindBestCandidate().ID)
}

func TestIndex_CalcPastMedianTime(t *testing.T) {
	idx, genesis := newTestIndex(t, &chaincfg.RegressionNetParams)
	nodes := extend(t, idx, genesis, 20, 0, false)

	assert.Equal(t, genesis.Time(), idx.CalcPastMedianTime(genesis))
	// eleven blocks spaced 240s apart: the median is the sixth newest
	assert.Equal(t, nodes[19].Time()-5*240, idx.CalcPastMedianTime(nodes[19]))
}

func TestIndex_LastCommonAncestor(t *testing.T) {
	idx, genesis := newTestIndex(t, &chaincfg.RegressionNetParams)
	trunk := extend(t, idx, genesis, 5, 0, false)
	a := extend(t, idx, trunk[4], 3, 100, false)
	b := extend(t, idx, trunk[4], 7, 200, false)

	assert.Equal(t, trunk[4].ID, idx.LastCommonAncestor(a[2], b[6]).ID)
	assert.Equal(t, trunk[2].ID, idx.LastCommonAncestor(trunk[2], b[6]).ID)
}

func TestIndex_FlushAndLoad(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	idx, genesis := newTestIndex(t, params)
	nodes := extend(t, idx, genesis, 4, 0, true)
	pending := extend(t, idx, nodes[3], 1, 77, false)

	idx.SetUndoPos(nodes[1], model.DiskBlockPos{File: 0, Pos: 42})
	idx.RaiseValidity(nodes[1], StatusValidScripts)
	idx.MarkFailed(nodes[3])

	store := blockindex.NewMockStore()

	store.FailWrites = errors.NewStorageError("disk full")
	require.Error(t, idx.Flush(context.Background(), store))
	assert.Len(t, idx.DirtyRecords(), 6)

	store.FailWrites = nil
	require.NoError(t, idx.Flush(context.Background(), store))
	assert.Empty(t, idx.DirtyRecords())
	assert.Equal(t, 6, store.Len())

	loaded := NewIndex(ulogger.TestLogger{}, params)
	require.NoError(t, loaded.Load(context.Background(), store))
	assert.Equal(t, 6, loaded.Len())
	assert.Empty(t, loaded.DirtyRecords())

	n1 := loaded.Lookup(nodes[1].Hash)
	require.NotNil(t, n1)
	assert.Equal(t, nodes[1].Status, n1.Status)
	assert.Equal(t, model.DiskBlockPos{File: 0, Pos: 42}, n1.UndoPos)
	assert.Equal(t, nodes[1].ChainTxCount, n1.ChainTxCount)
	assert.Equal(t, 0, nodes[1].ChainWork.Cmp(n1.ChainWork))

	assert.Equal(t, nodes[2].Hash, loaded.FindBestCandidate().Hash)
	assert.Equal(t, nodes[1].Hash, loaded.Ancestor(loaded.Lookup(pending[0].Hash), 2).Hash)

	// sequence ids continue after the loaded maximum
	more := extend(t, loaded, loaded.Lookup(nodes[2].Hash), 1, 500, true)
	assert.Greater(t, more[0].SequenceID, nodes[3].SequenceID)
}
