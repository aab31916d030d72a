package blockchain

import (
	"context"
	"net/url"
	"testing"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	tSettings := &settings.Settings{DataFolder: t.TempDir()}

	t.Run("sqlitememory", func(t *testing.T) {
		storeURL, err := url.Parse("sqlitememory:///newstore")
		require.NoError(t, err)

		store, err := NewStore(ulogger.TestLogger{}, storeURL, tSettings)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	})

	t.Run("sqlite file", func(t *testing.T) {
		storeURL, err := url.Parse("sqlite:///blockindex")
		require.NoError(t, err)

		store, err := NewStore(ulogger.TestLogger{}, storeURL, tSettings)
		require.NoError(t, err)
		require.NoError(t, store.SetState(context.Background(), StateBestChain, []byte{1}))
		require.NoError(t, store.Close())

		store, err = NewStore(ulogger.TestLogger{}, storeURL, tSettings)
		require.NoError(t, err)

		data, err := store.GetState(context.Background(), StateBestChain)
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, data)
		require.NoError(t, store.Close())
	})

	t.Run("unknown scheme", func(t *testing.T) {
		storeURL, err := url.Parse("mysql:///blockindex")
		require.NoError(t, err)

		_, err = NewStore(ulogger.TestLogger{}, storeURL, tSettings)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
	})
}

func TestMockStore(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.StoreRecords(ctx, []*model.BlockIndexRecord{
		{Hash: chainhash.Hash{2}, Height: 1},
		{Hash: chainhash.Hash{1}, Height: 0},
		{Hash: chainhash.Hash{3}, Height: 1},
	}))

	records, err := m.LoadRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, chainhash.Hash{1}, records[0].Hash)
	assert.Equal(t, chainhash.Hash{2}, records[1].Hash)
	assert.Equal(t, chainhash.Hash{3}, records[2].Hash)

	m.FailWrites = errors.NewStorageError("disk full")
	require.Error(t, m.StoreRecords(ctx, records))
}
