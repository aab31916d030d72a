package blockchain

import (
	"testing"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spacedChild(t *testing.T, idx *Index, parent *Node, spacing uint32, bits uint32, pos bool) *Node {
	prev := parent.Hash
	n, err := idx.AddHeader(&model.BlockHeader{
		Version:        4,
		HashPrevBlock:  &prev,
		HashMerkleRoot: &chainhash.Hash{},
		Timestamp:      parent.Timestamp + spacing,
		Bits:           bits,
		Nonce:          uint32(parent.Height),
		HashStateRoot:  &chainhash.Hash{},
	}, pos)
	require.NoError(t, err)

	return n
}

func TestCalcNextWorkRequired(t *testing.T) {
	t.Run("no retarget on regtest", func(t *testing.T) {
		params := &chaincfg.RegressionNetParams
		idx, genesis := newTestIndex(t, params)

		n := spacedChild(t, idx, genesis, 1, params.PowLimitBits, false)
		n = spacedChild(t, idx, n, 1, params.PowLimitBits, false)
		assert.Equal(t, params.PowLimitBits, idx.CalcNextWorkRequired(n, false))
	})

	t.Run("start at the limit", func(t *testing.T) {
		params := &chaincfg.MainNetParams
		idx, genesis := newTestIndex(t, params)

		assert.Equal(t, params.PowLimitBits, idx.CalcNextWorkRequired(nil, false))
		assert.Equal(t, params.PowLimitBits, idx.CalcNextWorkRequired(genesis, false))
	})

	t.Run("fast blocks raise difficulty", func(t *testing.T) {
		params := &chaincfg.MainNetParams
		idx, genesis := newTestIndex(t, params)

		bits := uint32(0x1d0fffff)
		n := spacedChild(t, idx, genesis, 240, bits, false)
		n = spacedChild(t, idx, n, 60, bits, false)

		next := idx.CalcNextWorkRequired(n, false)
		assert.Equal(t, -1, blockchain.CompactToBig(next).Cmp(blockchain.CompactToBig(bits)))

		n = spacedChild(t, idx, n, 2000, next, false)
		slower := idx.CalcNextWorkRequired(n, false)
		assert.Equal(t, 1, blockchain.CompactToBig(slower).Cmp(blockchain.CompactToBig(next)))
	})

	t.Run("on target keeps difficulty", func(t *testing.T) {
		params := &chaincfg.MainNetParams
		idx, genesis := newTestIndex(t, params)

		bits := uint32(0x1d0fffff)
		n := spacedChild(t, idx, genesis, 240, bits, false)
		n = spacedChild(t, idx, n, 240, bits, false)

		assert.Equal(t, bits, idx.CalcNextWorkRequired(n, false))
	})

	t.Run("stake blocks retarget independently", func(t *testing.T) {
		params := &chaincfg.MainNetParams
		idx, genesis := newTestIndex(t, params)

		powBits := uint32(0x1d0fffff)
		posBits := uint32(0x1d00ffff)

		n := spacedChild(t, idx, genesis, 240, powBits, false)
		n = spacedChild(t, idx, n, 240, posBits, true)
		n = spacedChild(t, idx, n, 240, powBits, false)
		n = spacedChild(t, idx, n, 480, posBits, true)

		// stake spacing was 480s, so the stake target eases
		next := idx.CalcNextWorkRequired(n, true)
		assert.Equal(t, 1, blockchain.CompactToBig(next).Cmp(blockchain.CompactToBig(posBits)))

		// work blocks were 480s apart as well, measured from their own kind
		assert.NotEqual(t, powBits, idx.CalcNextWorkRequired(n, false))
	})

	t.Run("clamped at the limit", func(t *testing.T) {
		params := &chaincfg.MainNetParams
		idx, genesis := newTestIndex(t, params)

		n := spacedChild(t, idx, genesis, 240, params.PowLimitBits, false)
		n = spacedChild(t, idx, n, 100_000, params.PowLimitBits, false)

		assert.Equal(t, params.PowLimitBits, idx.CalcNextWorkRequired(n, false))
	})
}
