package leveldb

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_BatchWriteAndRead(t *testing.T) {
	store, err := New(ulogger.TestLogger{}, t.TempDir())
	require.NoError(t, err)

	defer func() {
		_ = store.Close()
	}()

	best, err := store.BestBlock()
	require.NoError(t, err)
	assert.Equal(t, chainhash.Hash{}, best)

	op1 := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 0}
	op2 := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 300}

	require.NoError(t, store.BatchWrite(context.Background(), []coins.Change{
		{Outpoint: op1, Coin: &model.Coin{Value: 50, PkScript: []byte{0x51}, Height: 7, IsCoinBase: true}},
		{Outpoint: op2, Coin: &model.Coin{Value: 60, PkScript: []byte{0x52}, Height: 8, IsCoinStake: true}},
	}, chainhash.Hash{0x01}))

	c, err := store.GetCoin(op2)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(60), c.Value)
	assert.True(t, c.IsCoinStake)

	require.NoError(t, store.BatchWrite(context.Background(), []coins.Change{
		{Outpoint: op1},
	}, chainhash.Hash{0x02}))

	ok, err := store.HaveCoin(op1)
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Coins)
	assert.Equal(t, chainhash.Hash{0x02}, stats.BestBlock)

	var seen []wire.OutPoint
	require.NoError(t, store.ForEach(func(outpoint wire.OutPoint, _ *model.Coin) error {
		seen = append(seen, outpoint)
		return nil
	}))
	assert.Equal(t, []wire.OutPoint{op2}, seen)
}

func TestStore_CanceledFlushWritesNothing(t *testing.T) {
	store, err := NewInMemory(ulogger.TestLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op := wire.OutPoint{Hash: chainhash.Hash{3}}
	require.Error(t, store.BatchWrite(ctx, []coins.Change{{Outpoint: op, Coin: &model.Coin{Value: 1}}}, chainhash.Hash{9}))

	ok, err := store.HaveCoin(op)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_UnderCache(t *testing.T) {
	store, err := NewInMemory(ulogger.TestLogger{})
	require.NoError(t, err)

	cache := coins.NewCache(store)

	op := wire.OutPoint{Hash: chainhash.Hash{4}, Index: 1}
	require.NoError(t, cache.AddCoin(op, &model.Coin{Value: 10, PkScript: []byte{0x51}, Height: 1}, false))
	cache.SetBestBlock(chainhash.Hash{0x10})
	require.NoError(t, cache.Flush(context.Background()))

	reopened := coins.NewCache(store)

	c, err := reopened.GetCoin(op)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(10), c.Value)

	best, err := reopened.BestBlock()
	require.NoError(t, err)
	assert.Equal(t, chainhash.Hash{0x10}, best)
}
