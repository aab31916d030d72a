package util

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
)

// CalculateWork adds the expected work of a block with the given compact
// target to prevWork and returns the cumulative total.
func CalculateWork(prevWork *big.Int, bits uint32) *big.Int {
	work := blockchain.CalcWork(bits)
	if prevWork == nil {
		return work
	}

	return new(big.Int).Add(prevWork, work)
}

// CalculateTarget expands a compact target. Negative or overflowing targets yield nil.
func CalculateTarget(bits uint32) *big.Int {
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 {
		return nil
	}

	// mantissa sign bit or exponent beyond 256 bits
	if bits&0x00800000 != 0 || target.BitLen() > 256 {
		return nil
	}

	return target
}

// WorkToBytes serializes cumulative work as a 32-byte big-endian value for storage.
func WorkToBytes(work *big.Int) []byte {
	b := make([]byte, 32)
	if work != nil {
		work.FillBytes(b)
	}

	return b
}

// WorkFromBytes is the inverse of WorkToBytes.
func WorkFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}
