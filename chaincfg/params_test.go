package chaincfg

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetChainParams(t *testing.T) {
	for _, name := range []string{"mainnet", "testnet", "regtest"} {
		p, err := GetChainParams(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name)
		require.NotNil(t, p.GenesisBlock)
		assert.Equal(t, p.GenesisBlock.Hash(), p.GenesisHash)
		assert.Equal(t, *p.GenesisBlock.Header.HashMerkleRoot, p.GenesisBlock.CalcMerkleRoot(false))
	}

	_, err := GetChainParams("nope")
	require.Error(t, err)
}

func TestGenesisHashesDiffer(t *testing.T) {
	assert.NotEqual(t, MainNetParams.GenesisHash, RegressionNetParams.GenesisHash)
	assert.NotEqual(t, MainNetParams.GenesisHash, TestNetParams.GenesisHash)
}

func TestBlockSubsidy(t *testing.T) {
	p := &RegressionNetParams

	assert.Equal(t, int64(0), p.BlockSubsidy(0, false))
	assert.Equal(t, int64(50*COIN), p.BlockSubsidy(1, false))
	assert.Equal(t, int64(25*COIN), p.BlockSubsidy(150, false))
	assert.Equal(t, int64(COIN), p.BlockSubsidy(150, true))
	assert.Equal(t, int64(0), p.BlockSubsidy(150*64, false))
}

func TestMoneyRange(t *testing.T) {
	assert.True(t, MainNetParams.MoneyRange(0))
	assert.True(t, MainNetParams.MoneyRange(MainNetParams.MaxMoney))
	assert.False(t, MainNetParams.MoneyRange(-1))
	assert.False(t, MainNetParams.MoneyRange(MainNetParams.MaxMoney+1))
}

func TestBtcdAddressParams(t *testing.T) {
	addr, err := btcutil.NewAddressPubKeyHash(make([]byte, 20), RegressionNetParams.BtcdParams())
	require.NoError(t, err)

	decoded, err := btcutil.DecodeAddress(addr.EncodeAddress(), RegressionNetParams.BtcdParams())
	require.NoError(t, err)
	assert.Equal(t, addr.ScriptAddress(), decoded.ScriptAddress())
}

func TestAdjustmentInterval(t *testing.T) {
	assert.Equal(t, int64(7), MainNetParams.AdjustmentInterval())
}
