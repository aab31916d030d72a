package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// check settings object is initialised
func TestInitialiseSettings(t *testing.T) {
	tSettings := NewSettings()

	require.NotNil(t, tSettings.ChainCfgParams)
	require.NotNil(t, tSettings.Policy)
	require.NotNil(t, tSettings.Chainstate.BlockIndexStoreURL)

	assert.Equal(t, time.Hour, tSettings.Chainstate.FlushInterval)
	assert.Equal(t, int64(0x8000000), tSettings.Chainstate.MaxBlockFileSize)
	assert.Equal(t, 1000, tSettings.Contract.MaxContractVouts)
	assert.Equal(t, uint64(10_000), tSettings.Contract.MinGasLimit)
	assert.Equal(t, uint64(22_000), tSettings.Contract.MempoolMinGasLimit)
	assert.Equal(t, tSettings.ChainCfgParams.MinGasPrice, tSettings.Contract.MinGasPrice)
}

func TestHelpersFallBackToDefaults(t *testing.T) {
	assert.Equal(t, "x", getString("settings_test_unset_key", "x"))
	assert.Equal(t, 7, getInt("settings_test_unset_key", 7))
	assert.Equal(t, int64(8), getInt64("settings_test_unset_key", 8))
	assert.InDelta(t, 0.5, getFloat64("settings_test_unset_key", 0.5), 0)
	assert.Equal(t, time.Second, getDuration("settings_test_unset_key", time.Second))
	assert.True(t, getBool("settings_test_unset_key", true))
}
