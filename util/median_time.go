package util

import (
	"slices"

	"github.com/bsv-blockchain/chainstate/errors"
)

// MedianTimeSpan is the number of blocks, the block itself included, whose timestamps make up
// its median time past.
const MedianTimeSpan = 11

// CalcPastMedianTime returns the median of up to MedianTimeSpan block timestamps. For an even
// count the upper of the two middle values is returned, as consensus has always done. The
// slice is sorted in place.
func CalcPastMedianTime(timestamps []int64) (int64, error) {
	switch {
	case len(timestamps) == 0:
		return 0, errors.NewInvalidArgumentError("no timestamps for the median time past")
	case len(timestamps) > MedianTimeSpan:
		return 0, errors.NewInvalidArgumentError("%d timestamps for the median time past, at most %d", len(timestamps), MedianTimeSpan)
	}

	slices.Sort(timestamps)

	return timestamps[len(timestamps)/2], nil
}
