package model

import (
	"encoding/binary"

	"github.com/bsv-blockchain/chainstate/errors"
)

const (
	HeightTxIndexKeySize         = 24
	HeightTxIndexIteratorKeySize = 4
)

// HeightTxIndexKey indexes contract transactions by block height and contract
// address. The height is big-endian so keys sort by height.
type HeightTxIndexKey struct {
	Height  uint32
	Address [20]byte
}

func (k HeightTxIndexKey) Bytes() []byte {
	b := make([]byte, HeightTxIndexKeySize)
	binary.BigEndian.PutUint32(b[:4], k.Height)
	copy(b[4:], k.Address[:])

	return b
}

func NewHeightTxIndexKeyFromBytes(b []byte) (HeightTxIndexKey, error) {
	if len(b) != HeightTxIndexKeySize {
		return HeightTxIndexKey{}, errors.NewInvalidArgumentError("height tx index key must be %d bytes, got %d", HeightTxIndexKeySize, len(b))
	}

	k := HeightTxIndexKey{Height: binary.BigEndian.Uint32(b[:4])}
	copy(k.Address[:], b[4:])

	return k, nil
}

// HeightTxIndexIteratorKey is the height-only prefix used to seek into the index.
type HeightTxIndexIteratorKey struct {
	Height uint32
}

func (k HeightTxIndexIteratorKey) Bytes() []byte {
	b := make([]byte, HeightTxIndexIteratorKeySize)
	binary.BigEndian.PutUint32(b, k.Height)

	return b
}

func NewHeightTxIndexIteratorKeyFromBytes(b []byte) (HeightTxIndexIteratorKey, error) {
	if len(b) < HeightTxIndexIteratorKeySize {
		return HeightTxIndexIteratorKey{}, errors.NewInvalidArgumentError("height iterator key must be at least 4 bytes")
	}

	return HeightTxIndexIteratorKey{Height: binary.BigEndian.Uint32(b[:4])}, nil
}
