package util

import (
	"testing"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcPastMedianTime(t *testing.T) {
	t.Run("odd count", func(t *testing.T) {
		median, err := CalcPastMedianTime([]int64{50, 10, 40, 20, 30})
		require.NoError(t, err)
		assert.Equal(t, int64(30), median)
	})

	t.Run("even count takes the upper middle", func(t *testing.T) {
		median, err := CalcPastMedianTime([]int64{4, 1, 3, 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), median)
	})

	t.Run("single", func(t *testing.T) {
		median, err := CalcPastMedianTime([]int64{7})
		require.NoError(t, err)
		assert.Equal(t, int64(7), median)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := CalcPastMedianTime(nil)
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	})

	t.Run("too many", func(t *testing.T) {
		_, err := CalcPastMedianTime(make([]int64, MedianTimeSpan+1))
		assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
	})
}
