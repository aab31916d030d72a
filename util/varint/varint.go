// Package varint implements the MSB base-128 integer encoding used in disk
// positions, coin records and undo data.
package varint

import (
	"io"

	"github.com/bsv-blockchain/chainstate/errors"
)

// CompactSize calculates the number of bytes required to store a value as a Bitcoin compact-size integer.
// Returns 1, 3, 5, or 9 bytes depending on the value size.
func CompactSize(x uint64) uint64 {
	if x < 0xfd {
		return 1
	}

	if x <= 0xffff {
		return 3
	}

	if x <= 0xffffffff {
		return 5
	}

	return 9
}

// Size returns the number of bytes Put writes for n.
func Size(n uint64) int {
	size := 1
	for ; n > 0x7f; n = (n >> 7) - 1 {
		size++
	}

	return size
}

// Put appends n to dst in the MSB base-128 encoding used for disk positions
// and coin records. Every byte except the last has the high bit set, and each
// continuation subtracts one so that every value has exactly one encoding.
func Put(dst []byte, n uint64) []byte {
	var tmp [10]byte

	i := 0

	for {
		tmp[i] = byte(n & 0x7f)
		if i > 0 {
			tmp[i] |= 0x80
		}

		if n <= 0x7f {
			break
		}

		n = (n >> 7) - 1
		i++
	}

	for ; i >= 0; i-- {
		dst = append(dst, tmp[i])
	}

	return dst
}

// Write writes n to w using Put encoding.
func Write(w io.Writer, n uint64) error {
	_, err := w.Write(Put(nil, n))
	return err
}

// Read reads a value written by Write.
func Read(r io.ByteReader) (uint64, error) {
	var n uint64

	for i := 0; ; i++ {
		if i > 9 {
			return 0, errors.NewProcessingError("vlq: value too large")
		}

		ch, err := r.ReadByte()
		if err != nil {
			return 0, err
		}

		if n > (1<<64-1)>>7 {
			return 0, errors.NewProcessingError("vlq: value overflows uint64")
		}

		n = (n << 7) | uint64(ch&0x7f)

		if ch&0x80 == 0 {
			return n, nil
		}

		n++
	}
}
